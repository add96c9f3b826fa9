package peers

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jroosing/hnsresolve/internal/hnserr"
)

// DefaultMaxErrors is the exclusion threshold: a peer with at least this
// many recorded errors is excluded from selection until a reset.
const DefaultMaxErrors = 3

// errorTrackerState is the on-disk shape of peer_errors.cbor.
type errorTrackerState struct {
	Errors    map[string]int `cbor:"errors"`
	Timestamp int64          `cbor:"timestamp"`
}

// PeerErrorTracker records generic TCP/peer connection errors, independent
// of whether the peer ever answered a name-proof request. Used for peers
// that are dialed but not yet known to be full nodes.
type PeerErrorTracker struct {
	mu        sync.Mutex
	errors    map[string]int
	maxErrors int
	path      string
	logger    *slog.Logger
}

// NewPeerErrorTracker creates a tracker persisted at path, loading any
// existing state. maxErrors <= 0 uses DefaultMaxErrors.
func NewPeerErrorTracker(path string, maxErrors int, logger *slog.Logger) *PeerErrorTracker {
	if maxErrors <= 0 {
		maxErrors = DefaultMaxErrors
	}
	t := &PeerErrorTracker{
		errors:    map[string]int{},
		maxErrors: maxErrors,
		path:      path,
		logger:    logger,
	}
	var state errorTrackerState
	if err := readCBOR(path, &state); err != nil {
		if logger != nil {
			logger.Warn("peer error tracker load failed", "path", path, "err", err)
		}
	} else if state.Errors != nil {
		t.errors = state.Errors
	}
	return t
}

// ShouldExclude reports whether peer has accumulated maxErrors or more.
func (t *PeerErrorTracker) ShouldExclude(peer string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.errors[peer] >= t.maxErrors
}

// RecordError increments peer's error count and persists the change.
func (t *PeerErrorTracker) RecordError(peer string) {
	t.mu.Lock()
	t.errors[peer]++
	snapshot := t.snapshotLocked()
	t.mu.Unlock()
	t.persist(snapshot)
}

// ResetErrors clears peer's error count entirely and persists the change.
func (t *PeerErrorTracker) ResetErrors(peer string) {
	t.mu.Lock()
	delete(t.errors, peer)
	snapshot := t.snapshotLocked()
	t.mu.Unlock()
	t.persist(snapshot)
}

func (t *PeerErrorTracker) snapshotLocked() map[string]int {
	out := make(map[string]int, len(t.errors))
	for k, v := range t.errors {
		out[k] = v
	}
	return out
}

func (t *PeerErrorTracker) persist(errors map[string]int) {
	if t.path == "" {
		return
	}
	state := errorTrackerState{Errors: errors, Timestamp: time.Now().UnixMilli()}
	if err := writeAtomicCBOR(t.path, state); err != nil {
		if t.logger != nil {
			t.logger.Warn("peer error tracker persist failed",
				"path", t.path, "err", hnserr.New(hnserr.PersistenceFailure, err))
		}
	}
}
