// Package transport carries protocol envelopes between a dispatcher
// connection and its client.
//
// Ownership boundary:
// - in-process pipe pairs (raw binary)
// - framed TCP/TLS streams with the session handshake (base64 binary)
// - websocket connections (base64 binary)
package transport
