// Package dispatcher is the protocol engine: it routes inbound calls to
// remote objects and emits the create, adopt, dispose and event envelopes
// that mirror the object graph on the peer.
//
// Ownership boundary:
// - Connection: guid table (arena), GC buckets, resource cache, outbound queue
// - Object: one remote object, its children and in-flight calls
// - Root: the well-known object reachable before initialize
package dispatcher
