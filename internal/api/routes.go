package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/emberline-project/emberline/internal/protocol"
	"github.com/emberline-project/emberline/internal/util"
)

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "emberline",
		"version": "1.0.0",
	})
}

// handleStatus returns the same document served to status pings, plus the
// listener settings clients cannot see.
func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":                s.statusP.Status(),
		"protocol_version":      protocol.VersionNumber,
		"online_mode":           s.cfg.Security.OnlineMode,
		"compression_threshold": s.cfg.Network.CompressionThreshold,
		"port":                  s.cfg.Network.Port,
	})
}

// handleConnections returns the live connection table.
func (s *Server) handleConnections(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connections":      s.registry.Snapshot(),
		"connection_count": s.registry.ConnectionCount(),
		"player_count":     s.registry.PlayerCount(),
		"packets_received": s.playH.PacketsReceived(),
		"bytes_received":   s.playH.BytesReceived(),
	})
}

// handleSystem returns host resource usage.
func (s *Server) handleSystem(c *gin.Context) {
	sysInfo := util.GetSystemInfo()

	cpuPct, err := util.GetCPUUsage()
	if err != nil {
		cpuPct = -1
	}
	mem, err := util.GetMemoryUsage()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read memory usage"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"hostname":        sysInfo.Hostname,
		"platform":        sysInfo.OS,
		"cpu_model":       sysInfo.CPUModel,
		"cpu_cores":       sysInfo.CPUCores,
		"cpu_percent":     cpuPct,
		"total_memory_mb": sysInfo.TotalMemory,
		"used_memory_mb":  mem.Used,
		"memory_percent":  mem.UsedPercent,
	})
}

// handleListBans returns the full ban list.
func (s *Server) handleListBans(c *gin.Context) {
	bans, err := s.bans.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list bans"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"bans": bans})
}

type banRequest struct {
	Username string `json:"username" binding:"required"`
	Reason   string `json:"reason"`
}

// handleBan adds a ban entry. Banning does not kick an already connected
// player; the ban applies to the next login.
func (s *Server) handleBan(c *gin.Context) {
	var req banRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username is required"})
		return
	}

	if err := s.bans.Ban(req.Username, req.Reason); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to ban player"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"banned": req.Username})
}

// handleUnban removes a ban entry.
func (s *Server) handleUnban(c *gin.Context) {
	username := c.Param("username")
	if err := s.bans.Unban(username); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to unban player"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"unbanned": username})
}
