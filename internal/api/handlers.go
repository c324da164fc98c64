package api

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/watchpost/watchpost/internal/registry"
	"github.com/watchpost/watchpost/pkg/models"
)

func (s *Server) healthHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "healthy",
		"service": "watchpost",
		"version": "1.0.0",
	})
}

func (s *Server) readyHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "ready",
		"checks": fiber.Map{
			"registry":  "ok",
			"scheduler": s.deps.Scheduler.IsRunning(),
		},
	})
}

// metricsHandler bridges the promhttp handler into fiber by capturing
// its output into a buffer.
func (s *Server) metricsHandler(c *fiber.Ctx) error {
	c.Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	gatherer, ok := s.prometheusReg.(prometheus.Gatherer)
	if !ok {
		return c.Status(fiber.StatusInternalServerError).
			SendString("Error: registry does not implement Gatherer interface")
	}

	var buf bytes.Buffer
	req, _ := http.NewRequest(http.MethodGet, "/metrics", nil)
	rw := &responseWriter{Buffer: &buf, header: make(http.Header)}
	promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}).ServeHTTP(rw, req)

	return c.SendString(buf.String())
}

type responseWriter struct {
	*bytes.Buffer
	header http.Header
}

func (rw *responseWriter) Header() http.Header  { return rw.header }
func (rw *responseWriter) WriteHeader(code int) {}
func (rw *responseWriter) Write(data []byte) (int, error) {
	return rw.Buffer.Write(data)
}

// createTargetRequest is the POST /targets body.
type createTargetRequest struct {
	Address        string                 `json:"address"`
	Name           string                 `json:"name"`
	Group          string                 `json:"group"`
	CheckInterval  int                    `json:"check_interval"`
	AlertThreshold int                    `json:"alert_threshold"`
	Headers        map[string]string      `json:"headers"`
	CustomParams   map[string]interface{} `json:"custom_params"`
}

func (s *Server) createTargetHandler(c *fiber.Ctx) error {
	var req createTargetRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "invalid request body: " + err.Error(),
		})
	}

	target, err := s.deps.Registry.Add(req.Address, registry.AddOptions{
		Name:           req.Name,
		Group:          req.Group,
		CheckInterval:  req.CheckInterval,
		AlertThreshold: req.AlertThreshold,
		Headers:        req.Headers,
		CustomParams:   req.CustomParams,
	})
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": err.Error(),
		})
	}

	return c.Status(fiber.StatusCreated).JSON(target)
}

func (s *Server) listTargetsHandler(c *fiber.Ctx) error {
	var targets map[string]*models.Target

	switch {
	case c.Query("group") != "":
		targets = s.deps.Registry.ListByGroup(c.Query("group"))
	case c.Query("kind") != "":
		targets = s.deps.Registry.ListByKind(models.TargetKind(c.Query("kind")))
	default:
		targets = s.deps.Registry.ListAll()
	}

	return c.JSON(fiber.Map{
		"targets": targets,
		"total":   len(targets),
	})
}

func (s *Server) getTargetHandler(c *fiber.Ctx) error {
	target := s.deps.Registry.Get(c.Params("id"))
	if target == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   true,
			"message": "Target not found",
		})
	}
	return c.JSON(target)
}

// updateTargetRequest is the PATCH /targets/:id body. Absent fields are
// left unchanged; address and kind cannot be changed.
type updateTargetRequest struct {
	Name           *string                `json:"name"`
	Group          *string                `json:"group"`
	CheckInterval  *int                   `json:"check_interval"`
	AlertThreshold *int                   `json:"alert_threshold"`
	Headers        map[string]string      `json:"headers"`
	CustomParams   map[string]interface{} `json:"custom_params"`
}

func (s *Server) updateTargetHandler(c *fiber.Ctx) error {
	var req updateTargetRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "invalid request body: " + err.Error(),
		})
	}

	id := c.Params("id")
	ok := s.deps.Registry.UpdateConfig(id, registry.ConfigUpdate{
		Name:           req.Name,
		Group:          req.Group,
		CheckInterval:  req.CheckInterval,
		AlertThreshold: req.AlertThreshold,
		Headers:        req.Headers,
		CustomParams:   req.CustomParams,
	})
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   true,
			"message": "Target not found",
		})
	}

	return c.JSON(s.deps.Registry.Get(id))
}

func (s *Server) deleteTargetHandler(c *fiber.Ctx) error {
	id := c.Params("id")
	if !s.deps.Registry.Remove(id) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   true,
			"message": "Target not found",
		})
	}
	return c.JSON(fiber.Map{"deleted": true, "id": id})
}

func (s *Server) targetHistoryHandler(c *fiber.Ctx) error {
	if s.deps.History == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error":   true,
			"message": "Check history is disabled",
		})
	}

	id := c.Params("id")
	if s.deps.Registry.Get(id) == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   true,
			"message": "Target not found",
		})
	}

	hours := c.QueryInt("hours", 24)
	limit := c.QueryInt("limit", 100)
	end := time.Now().UTC()
	start := end.Add(-time.Duration(hours) * time.Hour)

	records, err := s.deps.History.GetRecords(id, start, end, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"target_id": id,
		"records":   records,
		"total":     len(records),
	})
}

func (s *Server) targetMetricsHandler(c *fiber.Ctx) error {
	if s.deps.MetricsLog == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error":   true,
			"message": "Metrics log is disabled",
		})
	}

	id := c.Params("id")
	if s.deps.Registry.Get(id) == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   true,
			"message": "Target not found",
		})
	}

	day := time.Now().UTC()
	if date := c.Query("date"); date != "" {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error":   true,
				"message": "invalid date, expected YYYY-MM-DD",
			})
		}
		day = parsed
	}

	entries, err := s.deps.MetricsLog.Read(id, day)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"target_id": id,
		"date":      day.Format("2006-01-02"),
		"entries":   entries,
		"total":     len(entries),
	})
}

// monitorStartHandler starts the scheduler detached from the request
// context; the scan loop must outlive this request.
func (s *Server) monitorStartHandler(c *fiber.Ctx) error {
	if err := s.deps.Scheduler.Start(context.Background()); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": err.Error(),
		})
	}
	return c.JSON(fiber.Map{"running": true})
}

func (s *Server) monitorStopHandler(c *fiber.Ctx) error {
	if err := s.deps.Scheduler.Stop(); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": err.Error(),
		})
	}
	return c.JSON(fiber.Map{"running": false})
}

func (s *Server) monitorStatusHandler(c *fiber.Ctx) error {
	return c.JSON(s.deps.Scheduler.GetStats())
}

func (s *Server) exportConfigHandler(c *fiber.Ctx) error {
	format := c.Query("format", "json")

	data, err := s.deps.Registry.ExportConfig(format)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": err.Error(),
		})
	}

	if format == "yaml" {
		c.Set("Content-Type", "application/x-yaml")
	} else {
		c.Set("Content-Type", "application/json")
	}
	return c.Send(data)
}

func (s *Server) importConfigHandler(c *fiber.Ctx) error {
	format := c.Query("format", "json")

	n, err := s.deps.Registry.ImportConfig(c.Body(), format)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": err.Error(),
		})
	}

	return c.JSON(fiber.Map{"imported": n})
}
