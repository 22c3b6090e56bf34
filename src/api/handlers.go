package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"islandctl/src/islanderr"
)

type createIslandRequest struct {
	PlayerUUID string `json:"player_uuid" binding:"required"`
	PlayerName string `json:"player_name" binding:"required"`
}

func (s *Server) createIsland(c *gin.Context) {
	var req createIslandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	view, err := s.kernel.CreateIsland(c.Request.Context(), req.PlayerUUID, req.PlayerName)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusAccepted, view)
}

type playerActionRequest struct {
	PlayerUUID string `json:"player_uuid" binding:"required"`
	PlayerName string `json:"player_name"`
}

func (s *Server) startIsland(c *gin.Context) {
	var req playerActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	view, err := s.kernel.StartIsland(c.Request.Context(), req.PlayerUUID, req.PlayerName)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusAccepted, view)
}

func (s *Server) stopIsland(c *gin.Context) {
	var req playerActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	view, err := s.kernel.StopIsland(c.Request.Context(), req.PlayerUUID)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusAccepted, view)
}

func (s *Server) freezeIsland(c *gin.Context) {
	var req playerActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	view, err := s.kernel.FreezeIsland(c.Request.Context(), req.PlayerUUID)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusAccepted, view)
}

func (s *Server) markReady(c *gin.Context) {
	var req playerActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	view, err := s.kernel.MarkReady(c.Request.Context(), req.PlayerUUID)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

type joinTeamRequest struct {
	PlayerUUID string `json:"player_uuid" binding:"required"`
	TeamName   string `json:"team_name" binding:"required"`
}

func (s *Server) joinTeam(c *gin.Context) {
	var req joinTeamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.kernel.JoinTeam(c.Request.Context(), req.PlayerUUID, req.TeamName); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "joined"})
}

func (s *Server) deleteIsland(c *gin.Context) {
	id, err := parseInt64(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid island id"})
		return
	}
	if err := s.kernel.DeleteIsland(c.Request.Context(), id); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "deleting"})
}

func (s *Server) getIsland(c *gin.Context) {
	playerUUID := c.Param("player_uuid")
	view, err := s.kernel.GetIslandView(c.Request.Context(), playerUUID)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) upgradeWebsocket(c *gin.Context) {
	recipientID := c.Param("recipient_id")
	connectionID := c.Query("connection_id")
	if connectionID == "" {
		connectionID = recipientID + ":" + c.ClientIP()
	}
	if err := s.fanout.Upgrade(c.Writer, c.Request, recipientID, connectionID); err != nil {
		respondErr(c, islanderr.Internal("websocket upgrade failed", err))
	}
}
