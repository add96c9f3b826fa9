package resolvers

import (
	"context"

	"github.com/jroosing/hnsresolve/internal/dns"
	"github.com/jroosing/hnsresolve/internal/filtering"
)

// FilteringResolver applies domain filtering before passing queries to the next resolver.
// Blocked domains receive a sinkhole NXDOMAIN response immediately, but
// only for A/AAAA lookups; any other qtype for a blocked domain still
// passes through to the next resolver.
//
// Filtering Decision Flow:
//
// 1. Check whitelist (allowed domains) → pass through immediately
// 2. Check blacklist/blocklists (blocked domains), qtype A/AAAA only → return NXDOMAIN
// 3. Default allow, or a non-A/AAAA qtype → pass to next resolver
//
// Blocking Response:
//
// Blocked queries return an NXDOMAIN response (RCODE=3). The response:
//   - Echoes the original question
//   - Sets QR, copies the opcode, and sets RD and RA when the request had RD (AA is not set)
//   - Contains no answer, authority, or additional sections
//
// This resolver MUST be placed first in the resolver chain to ensure
// all queries pass through the filter before any other resolution.
type FilteringResolver struct {
	policy *filtering.PolicyEngine
	next   Resolver
}

// NewFilteringResolver creates a filtering resolver with the given policy engine.
// The next resolver is called for domains that are not blocked.
func NewFilteringResolver(policy *filtering.PolicyEngine, next Resolver) *FilteringResolver {
	return &FilteringResolver{
		policy: policy,
		next:   next,
	}
}

// Resolve checks the domain against the filtering policy.
// Blocked domains return NXDOMAIN immediately; allowed domains pass through to the next resolver.
func (f *FilteringResolver) Resolve(ctx context.Context, req dns.Packet, reqBytes []byte) (Result, error) {
	// Extract the query name
	if len(req.Questions) == 0 {
		// No question, pass through
		return f.next.Resolve(ctx, req, reqBytes)
	}

	qname := req.Questions[0].Name
	qtype := req.Questions[0].Type

	// Evaluate against policy
	result := f.policy.Evaluate(qname)

	// Sinkholing only applies to A/AAAA lookups; any other qtype for a
	// blocked domain still passes through to the next resolver rather
	// than being answered here.
	if result.Action == filtering.ActionBlock && qtype != uint16(dns.TypeA) && qtype != uint16(dns.TypeAAAA) {
		return f.next.Resolve(ctx, req, reqBytes)
	}

	switch result.Action {
	case filtering.ActionBlock:
		// Return NXDOMAIN for blocked domains
		resp := buildBlockedResponse(req)
		respBytes, err := resp.Marshal()
		if err != nil {
			return Result{}, err
		}
		return Result{
			ResponseBytes: respBytes,
			Source:        "filtered-blocked",
		}, nil

	case filtering.ActionLog:
		// Log action allows the query but it was logged by the policy engine
		// Fall through to next resolver
		fallthrough

	case filtering.ActionAllow:
		// Pass through to next resolver
		return f.next.Resolve(ctx, req, reqBytes)

	default:
		// Unknown action, allow by default
		return f.next.Resolve(ctx, req, reqBytes)
	}
}

// Close releases resources.
func (f *FilteringResolver) Close() error {
	var err error
	if f.policy != nil {
		err = f.policy.Close()
	}
	if f.next != nil {
		if nextErr := f.next.Close(); nextErr != nil && err == nil {
			err = nextErr
		}
	}
	return err
}

// Policy returns the underlying policy engine for stats/management.
func (f *FilteringResolver) Policy() *filtering.PolicyEngine {
	return f.policy
}

// buildBlockedResponse creates an NXDOMAIN response for a blocked domain.
func buildBlockedResponse(req dns.Packet) dns.Packet {
	return dns.Packet{
		Header: dns.Header{
			ID:    req.Header.ID,
			Flags: buildBlockedFlags(req.Header.Flags),
		},
		Questions: req.Questions,
		Answers:   nil,
	}
}

// buildBlockedFlags creates response flags for NXDOMAIN.
func buildBlockedFlags(reqFlags uint16) uint16 {
	// Set QR (response), copy opcode, set RA (recursion available)
	// Set RCODE to NXDOMAIN (3)
	flags := uint16(1 << 15)   // QR = 1 (response)
	flags |= reqFlags & 0x7800 // Copy opcode (bits 11-14)
	if reqFlags&(1<<8) != 0 {  // RD bit was set
		flags |= 1 << 8 // RD = 1
		flags |= 1 << 7 // RA = 1 (recursion available)
	}
	flags |= uint16(dns.RCodeNXDomain) // RCODE = NXDOMAIN (3)
	return flags
}
