// Package protocol owns the roster wire contract.
//
// Ownership boundary:
// - message tags and fixed frame layouts (handshake, db-access, invalid-request)
// - the growable encode buffer and the bounds-checked read view
// - sentinel framing and size-limit errors
//
// Request options live in protocol/option, serialized employee records in
// protocol/record, and the per-connection state machine in protocol/session.
package protocol
