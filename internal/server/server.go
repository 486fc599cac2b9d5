// Package server exposes the incident ingestion HTTP API. Callers submit
// structured events (or Alertmanager webhooks) and receive an ActionResult
// synchronously, or an incident id for asynchronous polling.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kubeheal/remediator/internal/engine"
	"github.com/kubeheal/remediator/internal/history"
	"github.com/kubeheal/remediator/internal/incident"
)

// Server serves the ingestion and history API.
type Server struct {
	engine *engine.Engine
	store  history.Store
	logger *slog.Logger
	router *gin.Engine
}

// New creates the API server and registers routes.
func New(eng *engine.Engine, store history.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{engine: eng, store: store, logger: logger, router: router}

	router.GET("/healthz", s.health)
	v1 := router.Group("/api/v1")
	{
		v1.POST("/incidents", s.submitIncident)
		v1.GET("/incidents/:id", s.getResult)
		v1.POST("/webhooks/alertmanager", s.alertmanagerWebhook)
		v1.GET("/history", s.queryHistory)
	}

	return s
}

// Handler returns the underlying HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// submitIncident accepts one structured event. With ?async=true the call
// returns 202 and the incident id immediately; otherwise it blocks until
// the pipeline reaches a terminal outcome.
func (s *Server) submitIncident(c *gin.Context) {
	var ev incident.RawEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event payload: " + err.Error()})
		return
	}

	inc, err := incident.Normalize(ev)
	if err != nil {
		if errors.Is(err, incident.ErrMalformedIncident) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "code": "MalformedIncident"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if c.Query("async") == "true" {
		go s.processDetached(inc)
		c.JSON(http.StatusAccepted, gin.H{"incidentId": inc.ID})
		return
	}

	result, err := s.engine.ProcessIncident(c.Request.Context(), inc)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// alertmanagerWebhook fans an Alertmanager notification out into incidents
// processed in the background. Always 202: Alertmanager retries on
// non-2xx, and duplicate delivery is already safe at ingest.
func (s *Server) alertmanagerWebhook(c *gin.Context) {
	var payload incident.AlertmanagerPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid webhook payload: " + err.Error()})
		return
	}

	ids := make([]string, 0, len(payload.Alerts))
	for _, ev := range incident.FromAlertmanager(payload) {
		inc, err := incident.Normalize(ev)
		if err != nil {
			s.logger.Warn("dropping malformed alert", "error", err)
			continue
		}
		ids = append(ids, inc.ID)
		go s.processDetached(inc)
	}

	c.JSON(http.StatusAccepted, gin.H{"incidentIds": ids})
}

func (s *Server) getResult(c *gin.Context) {
	res, ok := s.engine.Result(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no result for incident id", "incidentId": c.Param("id")})
		return
	}
	c.JSON(http.StatusOK, res)
}

// queryHistory returns the action history for one workload, optionally
// bounded to the last sinceHours hours.
func (s *Server) queryHistory(c *gin.Context) {
	ref := incident.WorkloadRef{
		Kind:      c.DefaultQuery("kind", "Deployment"),
		Namespace: c.Query("namespace"),
		Name:      c.Query("name"),
	}
	if ref.IsZero() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind, namespace and name are required"})
		return
	}

	since := time.Time{}
	if raw := c.Query("sinceHours"); raw != "" {
		hours, err := strconv.Atoi(raw)
		if err != nil || hours < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "sinceHours must be a non-negative integer"})
			return
		}
		since = time.Now().Add(-time.Duration(hours) * time.Hour)
	}

	records, err := s.store.Query(c.Request.Context(), ref, since)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"workloadRef": ref, "records": records})
}

// processDetached runs an incident to completion independent of the HTTP
// request lifetime. Outcomes are retrievable via GET /incidents/:id and
// are always in the history store.
func (s *Server) processDetached(inc *incident.Incident) {
	if _, err := s.engine.ProcessIncident(context.Background(), inc); err != nil {
		s.logger.Error("background incident processing failed",
			"incident_id", inc.ID,
			"workload", inc.WorkloadRef.Key(),
			"error", err,
		)
	}
}
