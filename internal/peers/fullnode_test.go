package peers

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFullNodePeers_RecordSuccessResetsErrorsAndMarksVerified(t *testing.T) {
	f := NewFullNodePeers(filepath.Join(t.TempDir(), "fullnode_peers.cbor"), 3, nil)
	f.RecordError("p1:12038")
	f.RecordError("p1:12038")
	f.RecordSuccess("p1:12038", true)

	errs, proofs, verified := f.Snapshot()
	assert.Equal(t, 0, errs["p1:12038"])
	assert.Equal(t, 1, proofs["p1:12038"])
	assert.True(t, verified["p1:12038"])
}

func TestFullNodePeers_RecordNotFoundCountsAsError(t *testing.T) {
	f := NewFullNodePeers(filepath.Join(t.TempDir(), "fullnode_peers.cbor"), 2, nil)
	f.RecordNotFound("p1:12038")
	f.RecordNotFound("p1:12038")

	assert.True(t, f.ShouldExclude("p1:12038"))
}

func TestFullNodePeers_KnownPeersUnionsAllThreeMaps(t *testing.T) {
	f := NewFullNodePeers(filepath.Join(t.TempDir(), "fullnode_peers.cbor"), 3, nil)
	f.RecordError("errors-only:12038")
	f.RecordSuccess("proofs-and-verified:12038", true)

	assert.ElementsMatch(t, []string{"errors-only:12038", "proofs-and-verified:12038"}, f.KnownPeers())
}

func TestFullNodePeers_KnownPeersEmptyForFreshRegistry(t *testing.T) {
	f := NewFullNodePeers(filepath.Join(t.TempDir(), "fullnode_peers.cbor"), 3, nil)
	assert.Empty(t, f.KnownPeers())
}

func TestFullNodePeers_ShouldExcludeThreshold(t *testing.T) {
	f := NewFullNodePeers(filepath.Join(t.TempDir(), "fullnode_peers.cbor"), 3, nil)
	for i := 0; i < 2; i++ {
		f.RecordError("p1:12038")
	}
	assert.False(t, f.ShouldExclude("p1:12038"))
	f.RecordError("p1:12038")
	assert.True(t, f.ShouldExclude("p1:12038"))
}

func TestFullNodePeers_FilterExcludedRecoversWhenAllExcluded(t *testing.T) {
	f := NewFullNodePeers(filepath.Join(t.TempDir(), "fullnode_peers.cbor"), 1, nil)
	all := []string{"p1:12038", "p2:12038"}
	for _, p := range all {
		f.RecordError(p)
	}
	for _, p := range all {
		require.True(t, f.ShouldExclude(p))
	}

	kept := f.FilterExcluded(all)
	assert.ElementsMatch(t, all, kept)

	errs, _, _ := f.Snapshot()
	assert.Equal(t, 0, errs["p1:12038"])
	assert.Equal(t, 0, errs["p2:12038"])
}

func TestFullNodePeers_SelectDeterministicBranch(t *testing.T) {
	f := NewFullNodePeers(filepath.Join(t.TempDir(), "fullnode_peers.cbor"), 3, nil)
	candidates := []string{"p1:12038", "p2:12038", "p3:12038"}
	f.RecordSuccess("p2:12038", true)

	var nameHash [32]byte
	nameHash[0] = 1 // deterministic = sorted[1 % len(sorted)]

	sorted := f.sortByReputation(f.FilterExcluded(candidates))
	want := sorted[int(nameHash[0])%len(sorted)]

	// Run many selections; at least one should land on the deterministic
	// peer by majority share since it's the ~60%+ branch.
	hits := 0
	for i := 0; i < 500; i++ {
		sel := f.Select(nameHash, candidates)
		require.Len(t, sel, len(candidates))
		if sel[0] == want {
			hits++
		}
	}
	assert.Greater(t, hits, 200, "deterministic branch should dominate over 500 draws")
}

func TestFullNodePeers_SelectReturnsFullSetInOrder(t *testing.T) {
	f := NewFullNodePeers(filepath.Join(t.TempDir(), "fullnode_peers.cbor"), 3, nil)
	candidates := []string{"p1:12038", "p2:12038"}

	var nameHash [32]byte
	sel := f.Select(nameHash, candidates)
	assert.ElementsMatch(t, candidates, sel)
	assert.Len(t, sel, 2)
}

func TestFullNodePeers_SelectProbabilisticConvergence(t *testing.T) {
	f := NewFullNodePeers(filepath.Join(t.TempDir(), "fullnode_peers.cbor"), 3, nil)
	candidates := []string{"p1:12038", "p2:12038", "p3:12038", "p4:12038", "p5:12038"}

	var nameHash [32]byte
	nameHash[0] = 2
	sorted := f.sortByReputation(f.FilterExcluded(candidates))
	deterministic := sorted[int(nameHash[0])%len(sorted)]
	firstBest := sorted[0]
	secondBest := sorted[1]

	const trials = 10000
	var detCount, firstCount, secondCount, otherCount int
	for i := 0; i < trials; i++ {
		sel := f.Select(nameHash, candidates)
		switch sel[0] {
		case deterministic:
			detCount++
		case firstBest:
			firstCount++
		case secondBest:
			secondCount++
		default:
			otherCount++
		}
	}

	// firstBest, secondBest, and deterministic are three distinct peers
	// for this candidate set, so the observed share for each bucket is
	// its own branch probability plus its 1/5 chance of being the
	// uniform-random pick: ~64% deterministic, ~14% firstBest, ~14%
	// secondBest, ~8% spread over the other two peers.
	detFrac := float64(detCount) / float64(trials)
	firstFrac := float64(firstCount) / float64(trials)
	secondFrac := float64(secondCount) / float64(trials)
	assert.InDelta(t, 0.64, detFrac, 0.05, "deterministic branch should land near its 60%% base plus random share")
	assert.InDelta(t, 0.14, firstFrac, 0.04, "firstBest branch should land near its 10%% base plus random share")
	assert.InDelta(t, 0.14, secondFrac, 0.04, "secondBest branch should land near its 10%% base plus random share")
	_ = otherCount
}
