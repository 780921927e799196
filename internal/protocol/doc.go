// Package protocol owns the wire contract shared by server and client.
//
// Ownership boundary:
// - envelope shapes (call, reply, create, adopt, dispose, event)
// - error taxonomy and its wire serialization
// - call-log compression for failed replies
package protocol
