// Package hnserr defines the error taxonomy shared by the Handshake
// resolution path: the peer registry, the resource-record translator, the
// response cache, and the DANE verifier all classify failures into one of
// these kinds so callers can apply the right recovery strategy.
package hnserr

import (
	"errors"
	"fmt"
)

// Kind identifies an abstract failure category in the Handshake resolution
// path. Each kind has a fixed recovery policy (see the package doc of the
// caller that matches on it).
type Kind int

const (
	// Unreachable means every candidate peer refused the connection or
	// timed out. Surfaced to the caller as SERVFAIL; no cache mutation.
	Unreachable Kind = iota
	// NotFound means every responding full node returned notfound for the
	// queried name. Treated as an authoritative NXDOMAIN.
	NotFound
	// BadProof means a peer returned data that failed structural or
	// cryptographic checks. The caller retries the next peer.
	BadProof
	// CacheCorrupt means stored bytes failed to parse on read. The entry
	// is removed and the request retried as a miss.
	CacheCorrupt
	// PersistenceFailure means a disk write failed. In-memory state stays
	// authoritative; the next mutation attempts the write again.
	PersistenceFailure
	// NotSupported means DANE was attempted on a non-443 port, or a TLSA
	// record used a usage/selector/matching combination outside RFC 6698's
	// supported subset.
	NotSupported
	// Mismatch means TLSA records existed for the host but none matched
	// the presented certificate chain.
	Mismatch
)

func (k Kind) String() string {
	switch k {
	case Unreachable:
		return "unreachable"
	case NotFound:
		return "notfound"
	case BadProof:
		return "badproof"
	case CacheCorrupt:
		return "cachecorrupt"
	case PersistenceFailure:
		return "persistencefailure"
	case NotSupported:
		return "notsupported"
	case Mismatch:
		return "mismatch"
	default:
		return "unknown"
	}
}

// Error wraps a Kind with operational context: which peer was involved,
// which record index, and an optional underlying cause.
type Error struct {
	Kind   Kind
	Peer   string // ip:port of the peer involved, if any
	Record int    // record index involved (DANE matching), -1 if not applicable
	Cause  error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Peer != "" {
		msg += " peer=" + e.Peer
	}
	if e.Record >= 0 {
		msg += fmt.Sprintf(" record=%d", e.Record)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error of the given kind with no peer/record context.
func New(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Record: -1, Cause: cause}
}

// WithPeer builds an Error of the given kind attributed to a peer.
func WithPeer(kind Kind, peer string, cause error) *Error {
	return &Error{Kind: kind, Peer: peer, Record: -1, Cause: cause}
}

// WithRecord builds an Error of the given kind attributed to a TLSA record index.
func WithRecord(kind Kind, record int, cause error) *Error {
	return &Error{Kind: kind, Record: record, Cause: cause}
}

// Is reports whether err carries the given Kind, unwrapping as needed.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
