// Package schema is the validator registry: the single trust boundary every
// inbound and outbound value crosses.
//
// Ownership boundary:
// - validator primitives and combinators
// - (type, method, phase) registry and named composite types
// - guid reference conversion through ChannelResolver
// - call metadata and waitForEventInfo contracts
package schema
