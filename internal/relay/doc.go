// Package relay implements the signaling core: it tracks live websocket
// connections, binds each to at most one user identity, routes negotiation
// envelopes (offers, answers, ICE candidates) and opaque application
// envelopes between identities, and fans out online/offline presence.
//
// The relay is zero-knowledge: payload fields are carried as raw JSON and
// forwarded verbatim, never parsed or persisted. Nothing survives process
// restart.
package relay
