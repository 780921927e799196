// Package client speaks the envelope protocol from the calling side.
//
// Ownership boundary:
// - pending call table and reply correlation
// - mirrored object tree driven by __create__/__adopt__/__dispose__
// - event delivery to subscribers
// - dialing stream and websocket endpoints with reconnect backoff
package client
