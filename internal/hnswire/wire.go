// Package hnswire models the Handshake peer-to-peer wire shapes that the
// resolution path depends on without owning the socket implementation.
//
// The SPV header-chain client is an external collaborator: it speaks getheaders/headers/getproof/proof over
// TCP to full-node peers and exposes the chain's current height. This
// package defines only the data shapes and the ProofClient interface that
// internal/peers and internal/resolvers program against, so THE CORE never
// links against a concrete socket or header-validation implementation.
package hnswire

import "context"

// DefaultMainnetPort is the TCP port Handshake full-node peers listen on.
const DefaultMainnetPort = 12038

// Service is a bitmask of service flags a peer advertises during its
// version handshake.
type Service uint32

const (
	// ServiceNetwork means the peer holds (and will serve proofs for) the
	// full name tree. Only NETWORK peers are ever marked "verified".
	ServiceNetwork Service = 1 << 0
)

// Has reports whether every bit in want (e.g. ServiceNetwork) is set.
func (s Service) Has(want Service) bool {
	return s&want == want
}

// Resource is a single on-chain resource record as emitted by a name-tree
// inclusion proof, before DNS translation. Type is the Handshake record
// kind (see internal/hnsrr); Data is its raw encoding.
type Resource struct {
	Type byte
	Data []byte
}

// Proof is the result of a getproof/proof exchange with one full-node peer.
type Proof struct {
	// Exists reports whether the queried name is present in the name tree
	// committed at the peer's current height. A false value with no error
	// means the peer authoritatively answered "not found".
	Exists bool

	// Resources holds the name's resource records when Exists is true.
	Resources []Resource

	// Services carries the bits the peer advertised during its handshake,
	// used to decide whether to mark the peer verified.
	Services Service
}

// ProofClient requests an SPV name-tree inclusion proof from a specific
// full-node peer. Implementations own the wire exchange (version handshake,
// getheaders/headers to sync far enough to trust the commitment, then
// getproof/proof for the name itself); internal/peers and
// internal/resolvers never dial a socket directly.
type ProofClient interface {
	// GetProof fetches a proof for nameHash from peer (an "ip:port"
	// string). Implementations should respect ctx cancellation at every
	// suspension point and must not mutate any shared state themselves —
	// callers record peer errors/successes based on the returned error
	// and Proof.
	GetProof(ctx context.Context, peer string, nameHash [32]byte) (Proof, error)
}

// HeightSource exposes the current chain height, used as the resolver's
// and cache's tamper-resistant clock. Provided by the SPV header-chain
// client.
type HeightSource interface {
	Height(ctx context.Context) (uint32, error)
}
