// Package session owns the per-connection protocol state machine.
//
// Ownership boundary:
// - handshake version negotiation
// - accumulation of partial reads into header and payload buffers
// - dispatch of complete db-access requests to a Handler
//
// Lifecycle order:
// - awaiting_handshake -> ready -> receiving_payload -> ready
//
// A Conn never reads past the frame it is assembling, so back-to-back
// requests on one socket are handled one frame at a time.
package session
