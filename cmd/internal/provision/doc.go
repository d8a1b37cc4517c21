// Package provision runs ephemeral device-linking sessions.
//
// A Manager opens one transport connection per session, scoped to a private
// work directory, and drives the session through
//
//	INITIALIZING -> AWAITING_INPUT -> LINKED
//	INITIALIZING | AWAITING_INPUT -> FAILED | EXPIRED
//
// Linked credentials are handed out exactly once by CheckAndConsume and are
// never left on disk afterwards. A periodic sweep bounds the lifetime of every
// session whether or not the transport ever reports a terminal event.
//
// HTTP exposure of these operations is out of scope here.
package provision
