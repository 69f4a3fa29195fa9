// Package api expõe a API HTTP local do edge (gin).
package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/sua-org/edge-agent/internal/alerts"
	"github.com/sua-org/edge-agent/internal/cloudsync"
	"github.com/sua-org/edge-agent/internal/core"
	"github.com/sua-org/edge-agent/internal/evidence"
	"github.com/sua-org/edge-agent/internal/orchestrator"
	"github.com/sua-org/edge-agent/internal/status"
)

type Cameras interface {
	Add(cfg core.CameraConfig, zones []core.Zone) error
	Start(cameraID string) error
	Stop(cameraID string) error
	Remove(cameraID string) error
	Status(cameraID string) (orchestrator.CameraStatus, error)
	List() []orchestrator.CameraStatus
}

type Evidence interface {
	List(f evidence.ListFilter) ([]core.EvidenceRecord, int, error)
	GetEvidence(detectionID string) (core.EvidenceRecord, error)
	ReadImage(detectionID string) ([]byte, core.EvidenceRecord, error)
}

type Sync interface {
	Status() cloudsync.Status
	Trigger(ctx context.Context) error
}

type Alerts interface {
	Stats() alerts.Stats
	ClearCooldowns()
}

type StatusBuilder interface {
	Build() status.EdgeStatus
}

type Server struct {
	cameras  Cameras
	evidence Evidence
	sync     Sync
	alerts   Alerts
	status   StatusBuilder
	version  string
}

func NewServer(cameras Cameras, ev Evidence, sync Sync, al Alerts, st StatusBuilder, version string) *Server {
	return &Server{cameras: cameras, evidence: ev, sync: sync, alerts: al, status: st, version: version}
}

// Router monta as rotas; o chamador escolhe gin.New ou gin.Default.
func (s *Server) Router(r *gin.Engine) *gin.Engine {
	api := r.Group("/api")

	api.GET("/health", s.health)
	api.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.status.Build())
	})

	api.GET("/cameras", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"cameras": s.cameras.List()})
	})
	api.POST("/cameras", s.addCamera)
	api.GET("/cameras/:id", s.getCamera)
	api.DELETE("/cameras/:id", s.removeCamera)
	api.POST("/cameras/:id/start", s.startCamera)
	api.POST("/cameras/:id/stop", s.stopCamera)

	api.GET("/detections", s.listDetections)
	api.GET("/detections/:id", s.getDetection)
	api.GET("/detections/:id/image", s.getDetectionImage)

	api.GET("/sync/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.sync.Status())
	})
	api.POST("/sync/trigger", s.triggerSync)

	api.GET("/alerts/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.alerts.Stats())
	})
	api.POST("/alerts/cooldowns/clear", func(c *gin.Context) {
		s.alerts.ClearCooldowns()
		c.JSON(http.StatusOK, gin.H{"status": "cleared"})
	})
	return r
}

func (s *Server) health(c *gin.Context) {
	st := s.status.Build()
	code := http.StatusOK
	if st.Status == status.HealthUnhealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":    st.Status,
		"version":   s.version,
		"device_id": st.DeviceID,
		"cameras":   st.Cameras,
	})
}

type addCameraRequest struct {
	core.CameraConfig
	Zones     []core.Zone `json:"zones"`
	AutoStart bool        `json:"auto_start"`
}

func (s *Server) addCamera(c *gin.Context) {
	var req addCameraRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.cameras.Add(req.CameraConfig, req.Zones); err != nil {
		writeError(c, err)
		return
	}
	if req.AutoStart {
		if err := s.cameras.Start(req.CameraID); err != nil {
			writeError(c, err)
			return
		}
	}
	st, err := s.cameras.Status(req.CameraID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, st)
}

func (s *Server) getCamera(c *gin.Context) {
	st, err := s.cameras.Status(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) removeCamera(c *gin.Context) {
	if err := s.cameras.Remove(c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "removed"})
}

func (s *Server) startCamera(c *gin.Context) {
	id := c.Param("id")
	if err := s.cameras.Start(id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"camera_id": id, "status": "started"})
}

func (s *Server) stopCamera(c *gin.Context) {
	id := c.Param("id")
	// Stop em câmera desconhecida é no-op no manager; aqui vira 404.
	if _, err := s.cameras.Status(id); err != nil {
		writeError(c, err)
		return
	}
	if err := s.cameras.Stop(id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"camera_id": id, "status": "stopped"})
}

func (s *Server) listDetections(c *gin.Context) {
	limit, err := queryInt(c, "limit", 50)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if limit == 0 || limit > 500 {
		limit = 500
	}

	recs, total, err := s.evidence.List(evidence.ListFilter{
		CameraID: c.Query("camera_id"),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	if recs == nil {
		recs = []core.EvidenceRecord{}
	}
	c.JSON(http.StatusOK, gin.H{
		"detections": recs,
		"total":      total,
		"limit":      limit,
		"offset":     offset,
	})
}

func (s *Server) getDetection(c *gin.Context) {
	rec, err := s.evidence.GetEvidence(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) getDetectionImage(c *gin.Context) {
	data, _, err := s.evidence.ReadImage(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "image/jpeg", data)
}

func (s *Server) triggerSync(c *gin.Context) {
	if err := s.sync.Trigger(c.Request.Context()); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "sync": s.sync.Status()})
		return
	}
	c.JSON(http.StatusOK, s.sync.Status())
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New(key + " inválido")
	}
	return n, nil
}

func writeError(c *gin.Context, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, orchestrator.ErrCameraExists):
		code = http.StatusConflict
	case errors.Is(err, orchestrator.ErrCameraNotFound), errors.Is(err, evidence.ErrEvidenceNotFound):
		code = http.StatusNotFound
	case errors.Is(err, orchestrator.ErrInvalidCamera), errors.Is(err, evidence.ErrInvalidID):
		code = http.StatusBadRequest
	default:
		log.Printf("[api] %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.JSON(code, gin.H{"error": err.Error()})
}
