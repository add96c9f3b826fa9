// Package peers implements the full-node peer registry: reputation
// tracking, persistence, and the deterministic-plus-randomized selection
// algorithm the resolver uses to pick which peer answers a name-proof
// request.
package peers

import (
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync"
	"time"
)

// fullNodeState is the on-disk shape of fullnode_peers.cbor.
type fullNodeState struct {
	Errors    map[string]int  `cbor:"errors"`
	Proofs    map[string]int  `cbor:"proofs"`
	Verified  map[string]bool `cbor:"verified"`
	Timestamp int64           `cbor:"timestamp"`
}

// FullNodePeers tracks reputation for peers that answer Handshake
// name-proof queries. Unlike PeerErrorTracker, a "notfound" response also
// counts as an error here: a verified full node is expected to hold the
// complete name tree, so a notfound from one is as suspicious as a timeout.
type FullNodePeers struct {
	mu        sync.Mutex
	errors    map[string]int
	proofs    map[string]int
	verified  map[string]bool
	maxErrors int
	path      string
	logger    *slog.Logger
}

// NewFullNodePeers creates a registry persisted at path, loading any
// existing state. maxErrors <= 0 uses DefaultMaxErrors.
func NewFullNodePeers(path string, maxErrors int, logger *slog.Logger) *FullNodePeers {
	if maxErrors <= 0 {
		maxErrors = DefaultMaxErrors
	}
	f := &FullNodePeers{
		errors:    map[string]int{},
		proofs:    map[string]int{},
		verified:  map[string]bool{},
		maxErrors: maxErrors,
		path:      path,
		logger:    logger,
	}
	var state fullNodeState
	if err := readCBOR(path, &state); err != nil {
		if logger != nil {
			logger.Warn("fullnode peer registry load failed", "path", path, "err", err)
		}
	} else {
		if state.Errors != nil {
			f.errors = state.Errors
		}
		if state.Proofs != nil {
			f.proofs = state.Proofs
		}
		if state.Verified != nil {
			f.verified = state.Verified
		}
	}
	return f
}

// ShouldExclude reports whether peer has accumulated maxErrors or more.
func (f *FullNodePeers) ShouldExclude(peer string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.errors[peer] >= f.maxErrors
}

// RecordError increments peer's error count (connect failure, timeout, or
// bad proof) and persists the change.
func (f *FullNodePeers) RecordError(peer string) {
	f.mu.Lock()
	f.errors[peer]++
	snap := f.snapshotLocked()
	f.mu.Unlock()
	f.persist(snap)
}

// RecordNotFound counts an authoritative "notfound" response as an error,
// since a verified full node is expected to hold the complete tree.
func (f *FullNodePeers) RecordNotFound(peer string) {
	f.RecordError(peer)
}

// RecordSuccess increments peer's proof-success count, resets its error
// count, and - if the peer advertised the NETWORK service bit during its
// handshake - marks it verified. Verified status is sticky: it is never
// cleared by this call.
func (f *FullNodePeers) RecordSuccess(peer string, advertisedNetwork bool) {
	f.mu.Lock()
	f.proofs[peer]++
	f.errors[peer] = 0
	if advertisedNetwork {
		f.verified[peer] = true
	}
	snap := f.snapshotLocked()
	f.mu.Unlock()
	f.persist(snap)
}

// Snapshot returns copies of the registry's three maps, for the management
// API and diagnostics.
func (f *FullNodePeers) Snapshot() (errors, proofs map[string]int, verified map[string]bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	errors = make(map[string]int, len(f.errors))
	for k, v := range f.errors {
		errors[k] = v
	}
	proofs = make(map[string]int, len(f.proofs))
	for k, v := range f.proofs {
		proofs[k] = v
	}
	verified = make(map[string]bool, len(f.verified))
	for k, v := range f.verified {
		verified[k] = v
	}
	return errors, proofs, verified
}

// KnownPeers returns every peer the registry has recorded an error,
// proof-success, or verification observation for, in no particular
// order. Callers combine this with a fallback peer pool to build the
// full candidate set for selection.
func (f *FullNodePeers) KnownPeers() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := make(map[string]bool, len(f.errors)+len(f.proofs)+len(f.verified))
	for k := range f.errors {
		seen[k] = true
	}
	for k := range f.proofs {
		seen[k] = true
	}
	for k := range f.verified {
		seen[k] = true
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	return out
}

func (f *FullNodePeers) snapshotLocked() fullNodeState {
	errs := make(map[string]int, len(f.errors))
	for k, v := range f.errors {
		errs[k] = v
	}
	proofs := make(map[string]int, len(f.proofs))
	for k, v := range f.proofs {
		proofs[k] = v
	}
	verified := make(map[string]bool, len(f.verified))
	for k, v := range f.verified {
		verified[k] = v
	}
	return fullNodeState{Errors: errs, Proofs: proofs, Verified: verified}
}

func (f *FullNodePeers) persist(state fullNodeState) {
	if f.path == "" {
		return
	}
	state.Timestamp = time.Now().UnixMilli()
	if err := writeAtomicCBOR(f.path, state); err != nil {
		if f.logger != nil {
			f.logger.Warn("fullnode peer registry persist failed", "path", f.path, "err", err)
		}
	}
}

// FilterExcluded implements step 1 of the selection algorithm: it returns
// the subset of candidates that aren't excluded. If filtering would empty
// an otherwise non-empty candidate set, every candidate's error count is
// cleared (so one bad run doesn't blacklist the whole set) and the
// original candidates are returned unfiltered.
func (f *FullNodePeers) FilterExcluded(candidates []string) []string {
	if len(candidates) == 0 {
		return candidates
	}

	kept := make([]string, 0, len(candidates))
	for _, p := range candidates {
		if !f.ShouldExclude(p) {
			kept = append(kept, p)
		}
	}
	if len(kept) > 0 {
		return kept
	}

	f.mu.Lock()
	for _, p := range candidates {
		f.errors[p] = 0
	}
	snap := f.snapshotLocked()
	f.mu.Unlock()
	f.persist(snap)

	out := make([]string, len(candidates))
	copy(out, candidates)
	return out
}

// Select implements the full peer-selection algorithm (steps 1-6): filter
// excluded candidates, sort the remainder by reputation, draw a selection
// weighted toward the deterministic name-hash mapping, and return it
// followed by the rest of the sorted peers for retry.
//
// nameHash is a 32-byte digest of the query name; only its first byte is
// used, to pick a stable peer for a given name across calls.
func (f *FullNodePeers) Select(nameHash [32]byte, candidates []string) []string {
	filtered := f.FilterExcluded(candidates)
	if len(filtered) == 0 {
		return nil
	}

	sorted := f.sortByReputation(filtered)

	firstBest := sorted[0]
	secondBest := sorted[0]
	if len(sorted) > 1 {
		secondBest = sorted[1]
	}
	deterministic := sorted[int(nameHash[0])%len(sorted)]

	// A single uniform draw partitioned into four buckets, not three
	// independent cascading draws: the latter compounds the survival
	// probabilities (e.g. the secondBest bucket only fires when the
	// random bucket *also* missed), skewing the observed shares well
	// below the intended 20%/10%/10%/60% split.
	draw := rand.Float64()
	var selected string
	switch {
	case draw < 0.2:
		selected = sorted[rand.IntN(len(sorted))]
	case draw < 0.3:
		selected = secondBest
	case draw < 0.4:
		selected = firstBest
	default:
		selected = deterministic
	}

	return append([]string{selected}, removeFirst(sorted, selected)...)
}

// sortByReputation orders candidates verified-first, then by descending
// proof-success count, then by ascending error count.
func (f *FullNodePeers) sortByReputation(candidates []string) []string {
	f.mu.Lock()
	type scored struct {
		peer     string
		verified bool
		proofs   int
		errors   int
	}
	rows := make([]scored, len(candidates))
	for i, p := range candidates {
		rows[i] = scored{peer: p, verified: f.verified[p], proofs: f.proofs[p], errors: f.errors[p]}
	}
	f.mu.Unlock()

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].verified != rows[j].verified {
			return rows[i].verified
		}
		if rows[i].proofs != rows[j].proofs {
			return rows[i].proofs > rows[j].proofs
		}
		return rows[i].errors < rows[j].errors
	})

	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.peer
	}
	return out
}

// removeFirst returns a copy of sorted with the first occurrence of peer
// removed, preserving order of the rest.
func removeFirst(sorted []string, peer string) []string {
	out := make([]string, 0, len(sorted))
	removed := false
	for _, p := range sorted {
		if !removed && p == peer {
			removed = true
			continue
		}
		out = append(out, p)
	}
	return out
}
