// Package server hosts dispatcher connections behind the stream listener
// and the gin HTTP surface (health, readiness, metrics, websocket).
package server
