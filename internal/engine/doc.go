// Package engine implements the reactive broadcast engine.
//
// # Overview
//
// The engine renders a text template against the variable store and sends the
// result as one UDP broadcast datagram per eligible interface. Cycles are
// driven by a repeating timer, by writes to a trigger variable, or not at all
// when the enable variable is off.
//
// # Dispatch model
//
// Run is the single control loop. It subscribes to the process event bus and
// consumes exactly one event at a time: a timer tick starts a broadcast
// cycle, a variable modification refreshes the corresponding config field
// (plus a per-key side effect such as re-arming the timer or triggering a
// cycle), and a print request answers with the stats report. Config and
// counters are touched only from inside the loop, so they need no locking.
//
// # Broadcast cycle
//
// A cycle enumerates eligible interfaces fresh, then renders the template
// once per interface after publishing that interface's local address into the
// store. Per-interface rendering matters: a template referencing the local
// address variable must carry the right address on every interface, not the
// address of whichever interface rendered first. Failures are isolated per
// interface and aggregated into a monotonic error counter; a cycle with zero
// eligible interfaces completes successfully.
package engine
