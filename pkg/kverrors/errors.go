// Package kverrors defines the stable error taxonomy of spec.md 6/7:
// sentinel errors callers match with errors.Is, plus the stable numeric
// codes carried on the wire so a remote client can distinguish them
// without depending on Go error identity.
package kverrors

import "errors"

var (
	// WrongType is returned when an operation expected a value (or
	// super-value) and found the other form on the same coid.
	WrongType = errors.New("kverrors: wrong type")

	// DeferRPC is not a failure: it means the caller must park the
	// request and retry once a pending entry resolves.
	DeferRPC = errors.New("kverrors: defer rpc")

	// CellOutrange is returned when a cell reference lies outside a
	// node's scope (e.g. ListDelRange naming a non-existent node key).
	CellOutrange = errors.New("kverrors: cell out of range")

	// NoMem is a fatal, process-ending allocation failure.
	NoMem = errors.New("kverrors: out of memory")

	// NotFound is returned for missing PTIs, coids, or cache entries.
	NotFound = errors.New("kverrors: not found")

	// ServerDown means a remote peer is unreachable; callers may retry.
	ServerDown = errors.New("kverrors: server down")

	// Conflict means a transaction's prepare votes no due to a
	// serialization conflict with another transaction's writes.
	Conflict = errors.New("kverrors: prepare conflict")
)

// Code is the stable numeric identity of an error, carried on RPC
// responses. 0 means success.
type Code int32

const (
	CodeOK Code = iota
	CodeWrongType
	CodeDeferRPC
	CodeCellOutrange
	CodeNoMem
	CodeNotFound
	CodeServerDown
	CodeConflict
	CodeInternal
)

// CodeOf maps an error to its stable numeric identity.
func CodeOf(err error) Code {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, WrongType):
		return CodeWrongType
	case errors.Is(err, DeferRPC):
		return CodeDeferRPC
	case errors.Is(err, CellOutrange):
		return CodeCellOutrange
	case errors.Is(err, NoMem):
		return CodeNoMem
	case errors.Is(err, NotFound):
		return CodeNotFound
	case errors.Is(err, ServerDown):
		return CodeServerDown
	case errors.Is(err, Conflict):
		return CodeConflict
	default:
		return CodeInternal
	}
}

// FromCode reconstructs a sentinel error from a wire code, used by the
// RPC client to turn a response code back into a matchable Go error.
func FromCode(c Code) error {
	switch c {
	case CodeOK:
		return nil
	case CodeWrongType:
		return WrongType
	case CodeDeferRPC:
		return DeferRPC
	case CodeCellOutrange:
		return CellOutrange
	case CodeNoMem:
		return NoMem
	case CodeNotFound:
		return NotFound
	case CodeServerDown:
		return ServerDown
	case CodeConflict:
		return Conflict
	default:
		return errors.New("kverrors: internal error")
	}
}

// IsTransient reports whether err is the class of error the client
// library should retry transparently with backoff (spec.md 7).
func IsTransient(err error) bool {
	return errors.Is(err, ServerDown)
}
