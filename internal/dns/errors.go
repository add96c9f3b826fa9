// Package dns provides DNS protocol parsing, encoding, and packet manipulation.
//
// Standards Compliance:
//
// This package implements DNS protocol features from the following RFCs:
//
//   - RFC 1035: Domain Names - Implementation and Specification (core DNS protocol)
//   - RFC 1034: Domain Names - Concepts and Facilities (DNS concepts)
//   - RFC 2308: Negative Caching of DNS Queries (NXDOMAIN, NODATA caching)
//   - RFC 3596: DNS Extensions to Support IPv6 (AAAA records)
//   - RFC 4034: DNSSEC Resource Records (DNSSEC records: RRSIG, DNSKEY, etc.)
//   - RFC 4035: DNSSEC Protocol Extensions (AD, CD flags)
//   - RFC 6891: Extension Mechanisms for DNS (EDNS, OPT records)
//
// Type-Oriented Design:
//
// Records are represented by the concrete Record struct, whose Data field
// holds a type-specific payload (string for name-based records, []byte for
// address/opaque records, MXData for MX). This keeps parsing and marshaling
// table-driven instead of relying on a polymorphic record hierarchy.
//
// Error Handling:
//
// Wire encoding and decoding errors wrap ErrDNSError with context using
// fmt.Errorf("%w: ...", ErrDNSError). The request validation errors of
// ParseRequestBounded are plain errors and do not wrap ErrDNSError.
package dns

import "errors"

var (
	// ErrDNSError is a sentinel error type for DNS protocol violations.
	// Wrap this with fmt.Errorf("context: %w", ErrDNSError) to add context.
	ErrDNSError = errors.New("dns wire error")
)
