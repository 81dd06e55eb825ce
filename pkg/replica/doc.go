// Package replica holds the replicated entity model shared by hosts and
// clients.
//
// An Identity is one replicated entity. It carries the host-assigned NetID,
// the set of connections observing it, the connection holding client
// authority over it, and an ordered list of Behaviours. Behaviours own the
// replicated state: they serialize deltas selected by their dirty bits and
// receive remote invocations (commands, rpcs, sync events, sync lists)
// routed by a 32-bit method hash.
//
// # Runtime
//
// All process-wide tables live on a Runtime value rather than in package
// state:
//
//   - the invoker table, hash -> (kind, behaviour tag, function)
//   - the behaviour table, tag -> channel, which also feeds the CRC message
//   - the NetID counter
//   - the client authority callback
//
// Tables are filled during startup and only read afterwards.
//
// # Update pass
//
// Identity.Update collects, per channel, the behaviours that are dirty and
// whose send interval elapsed, then writes one update-vars message per
// channel:
//
//	┌──────┬──────────────┬──────────────┬─────┐
//	│ NetID│ behaviour 0  │ behaviour 1  │ ... │
//	└──────┴──────────────┴──────────────┴─────┘
//
// Behaviours in attachment order write their delta; those assigned to
// another channel write an empty delta. Dirty bits are cleared only for
// behaviours that produced data in the message.
package replica
