// Package resources holds the server-side state that remote objects wrap.
//
// Ownership boundary:
// - observer registration with unsubscribe handles
// - named in-memory key/value stores and their change events
// - the process-wide hub of stores
package resources
