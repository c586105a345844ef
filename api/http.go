// Package api exposes the control surface external automation uses:
// command injection into live calls, call origination, and the log ring.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/voxbridge/phone-agent/config"
	"github.com/voxbridge/phone-agent/dialer"
	"github.com/voxbridge/phone-agent/logging"
	"github.com/voxbridge/phone-agent/server"
	"github.com/voxbridge/phone-agent/session"
	"github.com/voxbridge/phone-agent/types"
)

type Server struct {
	log        *slog.Logger
	bus        *session.Manager
	controller *server.Controller
	devices    *config.DeviceRegistry
	ring       *logging.RingHandler
}

func NewServer(log *slog.Logger, bus *session.Manager, controller *server.Controller, devices *config.DeviceRegistry, ring *logging.RingHandler) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{log: log, bus: bus, controller: controller, devices: devices, ring: ring}
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", s.handleHealth)
	r.GET("/calls", s.handleListCalls)
	r.POST("/calls", s.handleOriginate)
	r.POST("/calls/:callId/command", s.handleCommand)
	r.GET("/logs", s.handleLogs)
	r.POST("/devices/reload", s.handleDevicesReload)

	return r
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"active_calls": s.bus.Count(),
		"time":         time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleListCalls(c *gin.Context) {
	calls := s.bus.Active()
	out := make([]gin.H, 0, len(calls))
	for _, call := range calls {
		out = append(out, gin.H{
			"call_id":   call.ID,
			"direction": call.Direction,
			"caller_id": call.CallerID,
			"device":    call.Device.Name,
			"state":     call.State().String(),
			"turns":     call.Turns(),
			"started":   call.StartTime.Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, gin.H{"calls": out})
}

func (s *Server) handleCommand(c *gin.Context) {
	callID := c.Param("callId")

	var cmd types.Command
	if err := c.ShouldBindJSON(&cmd); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid command body"})
		return
	}
	switch cmd.Type {
	case types.CommandSpeak, types.CommandHangup:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown command type"})
		return
	}
	if cmd.Type == types.CommandSpeak && cmd.Text == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "speak command needs text"})
		return
	}

	err := s.bus.SendCommand(callID, cmd)
	switch {
	case errors.Is(err, session.ErrNotRegistered):
		c.JSON(http.StatusNotFound, gin.H{"error": "no such call"})
	case errors.Is(err, session.ErrMailboxFull):
		c.JSON(http.StatusConflict, gin.H{"error": "command already pending"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"status": "accepted"})
	}
}

type originateRequest struct {
	To             string `json:"to" binding:"required"`
	Message        string `json:"message"`
	CallerID       string `json:"caller_id"`
	Device         string `json:"device"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

func (s *Server) handleOriginate(c *gin.Context) {
	var req originateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid originate body"})
		return
	}

	var device *types.DeviceConfig
	if req.Device != "" {
		d, ok := s.devices.Get(req.Device)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "no such device"})
			return
		}
		device = &d
	}

	outcome, hint := s.controller.PlaceCall(c.Request.Context(), dialer.Request{
		To:             req.To,
		Message:        req.Message,
		CallerID:       req.CallerID,
		TimeoutSeconds: req.TimeoutSeconds,
		Device:         device,
	})

	status := http.StatusOK
	if outcome != types.OutcomeAnswered {
		status = http.StatusBadGateway
	}
	resp := gin.H{"outcome": outcome}
	if hint != "" {
		resp["hint"] = hint
	}
	c.JSON(status, resp)
}

func (s *Server) handleLogs(c *gin.Context) {
	n := 100
	if raw := c.Query("n"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			n = parsed
		}
	}
	c.JSON(http.StatusOK, gin.H{"entries": s.ring.Tail(n)})
}

func (s *Server) handleDevicesReload(c *gin.Context) {
	if err := s.devices.Reload(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reloaded", "devices": s.devices.Count()})
}
