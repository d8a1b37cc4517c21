// Package recovery decides which runtime faults mean the persisted credential
// state is corrupted beyond repair.
//
// A corrupted state is wiped and the process exits with status 1 so the
// supervisor restarts it against a fresh session token. Every other fault is
// logged and the process keeps running. Boundary routes task errors, callback
// errors and recovered panics into the Controller.
package recovery
