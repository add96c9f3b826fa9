package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jroosing/hnsresolve/internal/api/models"
)

// ListPeers godoc
// @Summary List Handshake full-node peers
// @Description Returns reputation state for every tracked full-node peer plus the hardcoded fallback pool
// @Tags handshake
// @Produce json
// @Success 200 {object} models.ListPeersResponse
// @Failure 503 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /handshake/peers [get]
func (h *Handler) ListPeers(c *gin.Context) {
	registry := h.GetPeerRegistry()
	if registry == nil {
		c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{Error: "handshake resolution not enabled"})
		return
	}

	errs, proofs, verified := registry.Snapshot()
	seen := make(map[string]bool, len(errs)+len(proofs)+len(verified))
	for p := range errs {
		seen[p] = true
	}
	for p := range proofs {
		seen[p] = true
	}
	for p := range verified {
		seen[p] = true
	}

	resp := models.ListPeersResponse{Peers: make([]models.PeerStatus, 0, len(seen))}
	for p := range seen {
		resp.Peers = append(resp.Peers, models.PeerStatus{
			Address:  p,
			Errors:   errs[p],
			Proofs:   proofs[p],
			Verified: verified[p],
			Excluded: registry.ShouldExclude(p),
		})
	}

	if fb := h.GetFallbackPeers(); fb != nil {
		resp.FallbackPeers = fb.Peers()
	}

	c.JSON(http.StatusOK, resp)
}

// CacheStats godoc
// @Summary Handshake response cache statistics
// @Description Returns the number of entries currently held in the Handshake response cache
// @Tags handshake
// @Produce json
// @Success 200 {object} models.CacheStatsResponse
// @Failure 503 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /handshake/cache/stats [get]
func (h *Handler) CacheStats(c *gin.Context) {
	cache := h.GetHandshakeCache()
	if cache == nil {
		c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{Error: "handshake resolution not enabled"})
		return
	}
	c.JSON(http.StatusOK, models.CacheStatsResponse{Entries: cache.Len()})
}

// DANECheck godoc
// @Summary Verify DANE/TLSA against a live host
// @Description Resolves TLSA and A records for url and matches the presented TLS certificate chain
// @Tags handshake
// @Accept json
// @Produce json
// @Param request body models.DANECheckRequest true "Target URL"
// @Success 200 {object} models.DANECheckResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 503 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /handshake/dane-check [post]
func (h *Handler) DANECheck(c *gin.Context) {
	verifier := h.GetVerifier()
	if verifier == nil {
		c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{Error: "dane verifier not enabled"})
		return
	}

	var req models.DANECheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
		return
	}

	result, err := verifier.Verify(c.Request.Context(), req.URL)
	resp := models.DANECheckResponse{
		Status:          result.Status.String(),
		Host:            result.Host,
		MatchedRecord:   result.MatchedRecord,
		Subject:         result.Subject,
		Issuer:          result.Issuer,
		SPKIFingerprint: result.SPKIFingerprint,
	}
	if err != nil {
		resp.Error = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}
