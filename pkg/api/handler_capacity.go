package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// globalStatusHandler reports a snapshot of the Global Capacity Store plus
// the Reconciliation Worker's last sweep, for operators diagnosing a stuck
// count (spec §6 internal admin surface).
func (s *Server) globalStatusHandler(c *gin.Context) {
	status, err := s.global.GlobalStatus(c.Request.Context(), s.cfg.GlobalCap)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	lastSweep, orphansRecovered := s.reconciler.Stats()
	c.JSON(http.StatusOK, gin.H{
		"current":           status.Current,
		"limit":             status.Limit,
		"remaining":         status.Remaining,
		"call_ids":          status.CallIDs,
		"last_sweep":        lastSweep,
		"orphans_recovered": orphansRecovered,
	})
}

// forceResetHandler clears the Global Capacity Store unconditionally. This
// is a destructive operator action (spec §4.6, RECONCILE_MODE=reset path
// exposed on demand rather than only at startup) and should be gated by an
// operator authentication layer deployed in front of the /internal routes.
func (s *Server) forceResetHandler(c *gin.Context) {
	if err := s.global.ForceReset(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// cleanupStuckHandler runs an out-of-band sweep immediately, instead of
// waiting for the next scheduled tick.
func (s *Server) cleanupStuckHandler(c *gin.Context) {
	if err := s.reconciler.Sweep(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	lastSweep, orphansRecovered := s.reconciler.Stats()
	c.JSON(http.StatusOK, gin.H{"last_sweep": lastSweep, "orphans_recovered": orphansRecovered})
}
