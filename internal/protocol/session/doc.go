// Package session owns connection-level plumbing shared by server and client.
//
// Ownership boundary:
// - timeouts, heartbeat and reconnect backoff defaults
// - hello/hello.ack handshake on stream connections
// - transport security policy and TLS material loading
package session
