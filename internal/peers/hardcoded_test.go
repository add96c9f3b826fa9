package peers

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHardcodedPeers_AddDedupsAndTrims(t *testing.T) {
	h := NewHardcodedPeers(filepath.Join(t.TempDir(), "fallback.cbor"), 2, nil, nil)
	h.Add("p1:12038")
	h.Add("p1:12038")
	h.Add("p2:12038")
	h.Add("p3:12038")

	got := h.Peers()
	assert.Len(t, got, 2)
	assert.Equal(t, []string{"p2:12038", "p3:12038"}, got)
}

func TestHardcodedPeers_SeedAtConstruction(t *testing.T) {
	h := NewHardcodedPeers(filepath.Join(t.TempDir(), "fallback.cbor"), 10, []string{"seed1:12038", "seed2:12038"}, nil)
	assert.ElementsMatch(t, []string{"seed1:12038", "seed2:12038"}, h.Peers())
}

func TestHardcodedPeers_VerifyDropsUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()

	// Port 1 on localhost should refuse immediately.
	h := NewHardcodedPeers(filepath.Join(t.TempDir(), "fallback.cbor"), 10, []string{ln.Addr().String(), "127.0.0.1:1"}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	h.Verify(ctx)

	got := h.Peers()
	assert.Contains(t, got, ln.Addr().String())
	assert.NotContains(t, got, "127.0.0.1:1")
}
