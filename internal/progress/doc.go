// Package progress runs one call under a cancellation token with ordered
// cleanup.
//
// Ownership boundary:
// - Controller lifecycle (before, running, finished or aborted)
// - deadline and external abort handling
// - cleanup stack executed on non-success paths
// - Race helpers that every slow wait inside a call goes through
package progress
