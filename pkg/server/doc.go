// Package server provides the host side session registry.
//
// A Server accepts connections from a transport, owns every spawned
// identity and runs the replication tick. It is the integration layer that
// brings together the transport (pkg/transport), connections (pkg/conn) and
// replicated entities (pkg/replica).
//
// # Architecture
//
// The server consists of several key parts:
//
//   - Server: connection and identity registries driven by Update
//   - Handlers: the system message handlers shared by every connection
//   - MetricsCollector: atomic counters read by the admin surface
//   - Recorder: the hook telemetry.Metrics plugs into
//
// # Tick
//
// Each call to Update:
//  1. Drains at most MaxEventsPerTick transport events
//  2. Creates, feeds or removes the matching connection
//  3. Runs the state update pass of every identity in netId order
//  4. Drives the channels of every connection
//  5. Publishes the entity and connection views
//
// # Spawn Protocol
//
// When a connection becomes ready it receives spawn-finished(0), the
// spawn message of every identity that accepts it as an observer in netId
// order, and spawn-finished(1). Identities spawned later are pushed as
// they occur. A player is announced to its own connection with an owner
// message.
//
// # Example Usage
//
//	rt := replica.NewRuntime(logger)
//	rt.RegisterBehaviour("Health", 0)
//
//	srv := server.New(transport.NewNetwork(), rt, server.DefaultConfig())
//	if err := srv.Listen(); err != nil {
//	    return err
//	}
//	for range time.Tick(16 * time.Millisecond) {
//	    srv.Update(ctx)
//	}
//
// # Thread Safety
//
// Everything except Metrics, Entities and ConnectionInfos must run on the
// goroutine that calls Update.
package server
