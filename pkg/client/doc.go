// Package client provides the peer side of a replication session.
//
// A Client connects to one server through a transport, keeps the client
// Scene up to date from spawn, state and invocation messages, and sends
// ready, player and command messages back.
//
// # Connect States
//
//	None -> Resolving -> Resolved -> Connecting -> Connected -> Disconnected
//	                  \-> Failed -> Disconnected
//
// IP literals and "localhost" skip Resolving. Other host names are looked
// up on a goroutine that posts one result; the tick that sees a failure
// moves to Failed and the next tick reports a DNS failure error.
//
// # Spawning
//
// Identities are created by the SpawnFunc registered for their asset id,
// or activated from the pre-placed identities registered by scene id.
// Between spawn-finished(0) and spawn-finished(1) identities are created
// and given their initial state, but they are started only when the
// bracket closes, in net id order.
//
// # Example Usage
//
//	c := client.New(transport.NewWebSocket(wsCfg, logger), rt, client.DefaultConfig())
//	c.Scene().RegisterSpawnHandler(asset, spawnPlayer, nil)
//	if err := c.Connect(ctx, "127.0.0.1", 7777); err != nil {
//	    return err
//	}
//	for range time.Tick(16 * time.Millisecond) {
//	    c.Update(ctx)
//	}
//
// # Thread Safety
//
// A Client and its Scene must be used from the goroutine that calls Update.
package client
