// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package statusapi serves device state over HTTP and queues control
// actions. Reads come from the control loop's published snapshot; writes
// are queued and answered with 202 Accepted.
package statusapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/Thermoquad/tempsense/pkg/controlloop"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const (
	statusOK     = "ok"
	statusQueued = "queued"

	errBadID        = "device id must be an integer"
	errUnknownID    = "unknown device"
	errLoopStopped  = "control loop stopped"
	errInvalidBody  = "invalid body: "
	errInvalidQuery = "tail must be a non-negative integer"
)

// Controller is the control loop as seen by the API
type Controller interface {
	Snapshot() *controlloop.Snapshot
	Submit(controlloop.Action) error
}

// Handler wires HTTP routes to a Controller
type Handler struct {
	ctl    Controller
	logger zerolog.Logger
}

func NewHandler(ctl Controller, logger zerolog.Logger) *Handler {
	return &Handler{ctl: ctl, logger: logger.With().Str("component", "api").Logger()}
}

type connectRequest struct {
	Port string `json:"port"`
	Baud int    `json:"baud"`
}

type commandRequest struct {
	Text string `json:"text" binding:"required"`
}

type overrideRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

type setpointRequest struct {
	Value *int `json:"value" binding:"required"`
}

type activeRequest struct {
	Active *bool `json:"active" binding:"required"`
}

// InitRoutes builds the gin router
func (h *Handler) InitRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), h.requestLogger)

	router.GET("/health", h.health)

	api := router.Group("/api")
	{
		api.GET("/devices", h.listDevices)
		api.GET("/log", h.getLog)
		api.POST("/active", h.setActive)

		device := api.Group("/devices/:id", h.deviceID)
		{
			device.GET("", h.getDevice)
			device.POST("/connect", h.connect)
			device.POST("/disconnect", h.disconnect)
			device.POST("/ping", h.ping)
			device.POST("/command", h.command)
			device.POST("/override", h.override)
			device.POST("/setpoint", h.setpoint)
		}
	}

	return router
}

func (h *Handler) requestLogger(c *gin.Context) {
	start := time.Now()
	c.Next()
	h.logger.Debug().
		Str("method", c.Request.Method).
		Str("path", c.Request.URL.Path).
		Int("status", c.Writer.Status()).
		Dur("elapsed", time.Since(start)).
		Msg("request")
}

// deviceID validates :id against the current snapshot
func (h *Handler) deviceID(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": errBadID})
		return
	}
	if _, ok := h.ctl.Snapshot().Device(id); !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": errUnknownID})
		return
	}
	c.Set("device", id)
	c.Next()
}

func (h *Handler) submit(c *gin.Context, a controlloop.Action) {
	if err := h.ctl.Submit(a); err != nil {
		h.logger.Warn().Err(err).Msgf("%T not queued", a)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": errLoopStopped})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": statusQueued})
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": statusOK})
}

func (h *Handler) listDevices(c *gin.Context) {
	snap := h.ctl.Snapshot()
	c.JSON(http.StatusOK, gin.H{"active": snap.Active, "devices": snap.Devices})
}

func (h *Handler) getDevice(c *gin.Context) {
	d, ok := h.ctl.Snapshot().Device(c.GetInt("device"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": errUnknownID})
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *Handler) getLog(c *gin.Context) {
	entries := h.ctl.Snapshot().Log

	if raw := c.Query("tail"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidQuery})
			return
		}
		if n < len(entries) {
			entries = entries[len(entries)-n:]
		}
	}

	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (h *Handler) connect(c *gin.Context) {
	var req connectRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidBody + err.Error()})
			return
		}
	}
	h.submit(c, controlloop.Connect{Device: c.GetInt("device"), Port: req.Port, Baud: req.Baud})
}

func (h *Handler) disconnect(c *gin.Context) {
	h.submit(c, controlloop.Disconnect{Device: c.GetInt("device")})
}

func (h *Handler) ping(c *gin.Context) {
	h.submit(c, controlloop.Ping{Device: c.GetInt("device")})
}

func (h *Handler) command(c *gin.Context) {
	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidBody + err.Error()})
		return
	}
	h.submit(c, controlloop.Send{Device: c.GetInt("device"), Text: req.Text})
}

func (h *Handler) override(c *gin.Context) {
	var req overrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidBody + err.Error()})
		return
	}
	h.submit(c, controlloop.SetOverride{Device: c.GetInt("device"), Enabled: *req.Enabled})
}

func (h *Handler) setpoint(c *gin.Context) {
	var req setpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidBody + err.Error()})
		return
	}
	h.submit(c, controlloop.ManualSet{Device: c.GetInt("device"), Value: *req.Value})
}

func (h *Handler) setActive(c *gin.Context) {
	var req activeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidBody + err.Error()})
		return
	}
	h.submit(c, controlloop.SetActive{Active: *req.Active})
}
