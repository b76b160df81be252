// Package api exposes the HTTP and WebSocket control surface for
// scanning, model resolution, and print job submission.
package api

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Dejniel/TiMini-Print/internal/bluetooth"
	"github.com/Dejniel/TiMini-Print/internal/catalog"
	"github.com/Dejniel/TiMini-Print/internal/devices"
	"github.com/Dejniel/TiMini-Print/internal/jobs"
)

// Server is the API server.
type Server struct {
	router   *gin.Engine
	backend  *bluetooth.Backend
	registry *catalog.Registry
	resolver *devices.Resolver
	queue    *jobs.Queue
	hub      *hub
	log      zerolog.Logger
	upgrader websocket.Upgrader

	scanTimeout time.Duration
}

// NewServer wires the API over the backend, catalog, and job queue.
func NewServer(backend *bluetooth.Backend, registry *catalog.Registry, resolver *devices.Resolver, queue *jobs.Queue, scanTimeout time.Duration, log zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	server := &Server{
		router:      router,
		backend:     backend,
		registry:    registry,
		resolver:    resolver,
		queue:       queue,
		hub:         newHub(log),
		log:         log,
		scanTimeout: scanTimeout,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // local control surface
			},
		},
	}

	server.setupRoutes()
	go server.pumpJobEvents()

	return server
}

func (s *Server) setupRoutes() {
	s.router.GET("/devices", s.handleGetDevices)
	s.router.GET("/models", s.handleGetModels)
	s.router.POST("/resolve", s.handleResolve)
	s.router.POST("/print", s.handlePrint)
	s.router.GET("/jobs", s.handleGetJobs)
	s.router.GET("/job/:id", s.handleGetJob)

	s.router.GET("/ws", s.handleWebSocket)

	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok", "state": s.backend.State().String()})
	})
}

// pumpJobEvents forwards queue status changes to WebSocket clients.
func (s *Server) pumpJobEvents() {
	for event := range s.queue.Events() {
		s.hub.broadcast(wsMessage{
			Event: EventJob,
			Data: gin.H{
				"job_id": event.JobID,
				"status": string(event.Status),
				"error":  event.Error,
			},
		})
	}
}

func deviceJSON(device bluetooth.DeviceInfo) gin.H {
	return gin.H{
		"name":      device.Name,
		"address":   device.Address,
		"paired":    device.Paired == bluetooth.PairedYes,
		"transport": string(device.Transport),
	}
}

// handleGetDevices scans for printers. ?all=true skips the known-model
// filter; ?transport=classic|ble narrows the scan.
func (s *Server) handleGetDevices(c *gin.Context) {
	timeout := s.scanTimeout
	if raw := c.Query("timeout"); raw != "" {
		if seconds, err := strconv.Atoi(raw); err == nil && seconds > 0 {
			timeout = time.Duration(seconds) * time.Second
		}
	}

	transport := bluetooth.Transport(c.Query("transport"))
	includeClassic := transport == "" || transport == bluetooth.TransportClassic
	includeBLE := transport == "" || transport == bluetooth.TransportBLE

	found, failures, err := s.backend.ScanWithFailures(timeout, includeClassic, includeBLE)
	if err != nil {
		c.JSON(502, gin.H{"error": err.Error()})
		return
	}

	if c.Query("all") != "true" {
		found = s.resolver.FilterPrinterDevices(found)
	}

	devicesData := make([]gin.H, 0, len(found))
	for _, device := range found {
		devicesData = append(devicesData, deviceJSON(device))
	}
	warnings := make([]gin.H, 0, len(failures))
	for _, failure := range failures {
		warnings = append(warnings, gin.H{
			"transport": string(failure.Transport),
			"error":     failure.Err.Error(),
		})
	}

	c.JSON(200, gin.H{"devices": devicesData, "warnings": warnings})
}

// handleGetModels lists the model catalog.
func (s *Server) handleGetModels(c *gin.Context) {
	c.JSON(200, gin.H{"models": s.registry.Models()})
}

// handleResolve picks a device from a hint and resolves its model.
func (s *Server) handleResolve(c *gin.Context) {
	var req struct {
		Hint      string `json:"hint"`
		Transport string `json:"transport"`
		ModelNo   string `json:"model_no"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": err.Error()})
		return
	}

	device, err := s.resolver.ResolveDevice(req.Hint, bluetooth.Transport(req.Transport), s.scanTimeout)
	if err != nil {
		c.JSON(404, gin.H{"error": err.Error()})
		return
	}

	match, err := s.resolver.ResolveModel(device.Name, req.ModelNo, device.Address)
	if err != nil {
		c.JSON(404, gin.H{"error": err.Error(), "device": deviceJSON(device)})
		return
	}

	c.JSON(200, gin.H{
		"device":     deviceJSON(device),
		"model":      match.Model,
		"source":     string(match.Source),
		"used_alias": match.UsedAlias(),
	})
}

// handlePrint resolves the target, decides chunk/interval from the
// model with request overrides, and enqueues the payload.
func (s *Server) handlePrint(c *gin.Context) {
	var req struct {
		Device      string `json:"device"`
		Transport   string `json:"transport"`
		ModelNo     string `json:"model_no"`
		Payload     string `json:"payload"` // base64
		PayloadPath string `json:"payload_path"`
		ChunkSize   int    `json:"chunk_size"`
		IntervalMs  int    `json:"interval_ms"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": err.Error()})
		return
	}

	var payload []byte
	switch {
	case req.Payload != "":
		decoded, err := base64.StdEncoding.DecodeString(req.Payload)
		if err != nil {
			c.JSON(400, gin.H{"error": fmt.Sprintf("payload is not valid base64: %v", err)})
			return
		}
		payload = decoded
	case req.PayloadPath != "":
		data, err := os.ReadFile(req.PayloadPath)
		if err != nil {
			c.JSON(400, gin.H{"error": fmt.Sprintf("failed to read payload file: %v", err)})
			return
		}
		payload = data
	default:
		c.JSON(400, gin.H{"error": "payload or payload_path is required"})
		return
	}

	device, err := s.resolver.ResolveDevice(req.Device, bluetooth.Transport(req.Transport), s.scanTimeout)
	if err != nil {
		c.JSON(404, gin.H{"error": err.Error()})
		return
	}

	match, err := s.resolver.ResolveModel(device.Name, req.ModelNo, device.Address)
	if err != nil {
		c.JSON(404, gin.H{"error": err.Error()})
		return
	}

	chunkSize := match.Model.ImgMTU
	if req.ChunkSize > 0 {
		chunkSize = req.ChunkSize
	}
	interval := time.Duration(match.Model.IntervalMs) * time.Millisecond
	if req.IntervalMs > 0 {
		interval = time.Duration(req.IntervalMs) * time.Millisecond
	}

	jobID := s.queue.Enqueue(device, payload, chunkSize, interval)

	c.JSON(200, gin.H{
		"success":    true,
		"job_id":     jobID,
		"device":     deviceJSON(device),
		"model_no":   match.Model.ModelNo,
		"used_alias": match.UsedAlias(),
	})
}

func jobJSON(job jobs.Job) gin.H {
	data := gin.H{
		"id":         job.ID,
		"device":     deviceJSON(job.Device),
		"status":     string(job.Status),
		"retries":    job.Retries,
		"created_at": job.CreatedAt,
	}
	if job.Error != "" {
		data["error"] = job.Error
	}
	return data
}

// handleGetJobs returns all print jobs.
func (s *Server) handleGetJobs(c *gin.Context) {
	all := s.queue.All()
	jobsData := make([]gin.H, len(all))
	for i, job := range all {
		jobsData[i] = jobJSON(job)
	}
	c.JSON(200, gin.H{"jobs": jobsData})
}

// handleGetJob returns a specific print job.
func (s *Server) handleGetJob(c *gin.Context) {
	job, ok := s.queue.Get(c.Param("id"))
	if !ok {
		c.JSON(404, gin.H{"error": "job not found"})
		return
	}
	c.JSON(200, jobJSON(job))
}

// Run starts the API server.
func (s *Server) Run(addr string) error {
	s.log.Info().Str("addr", addr).Msg("api server listening")
	return s.router.Run(addr)
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
