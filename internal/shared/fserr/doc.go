// Package fserr provides the tagged error catalogue shared by filesystems,
// lifecycles and the remote protocol.
//
// Every error carries a stable Kind plus structured fields so callers can
// match on the kind instead of message text:
//
//	if fserr.Is(err, fserr.KindNotFound) { ... }
//	if errors.Is(err, fserr.ErrNotFound) { ... }
//
// Errors cross the wire as {name, value} through ToWire and FromWire.
package fserr
