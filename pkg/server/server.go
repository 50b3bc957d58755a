// Package server exposes the classifier over HTTP:
//
//	POST /analyze  {"text": "..."} -> {"threat_type", "severity", "confidence"}
//	GET  /health   liveness and model readiness
//	GET  /metrics  Prometheus metrics
package server

import (
	"context"
	"log"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/google/uuid"

	"github.com/bastionsec/bastion/pkg/config"
	"github.com/bastionsec/bastion/pkg/predictor"
	"github.com/bastionsec/bastion/pkg/telemetry"
)

// Classifier is what the HTTP layer needs from the prediction stack.
// Satisfied by *predictor.Predictor.
type Classifier interface {
	Predict(ctx context.Context, text string) (predictor.Prediction, error)
}

// Server wires the classifier into a fiber app.
type Server struct {
	app     *fiber.App
	clf     Classifier
	limiter *Limiter
	timeout time.Duration
	version string
}

// New builds the HTTP server. clf may be nil when no model could be
// loaded; /analyze then degrades to 503 while /health keeps answering.
func New(cfg *config.Config, clf Classifier, version string) *Server {
	s := &Server{
		app: fiber.New(fiber.Config{
			AppName: "bastion",
		}),
		clf:     clf,
		limiter: NewLimiter(cfg.MaxInFlight),
		timeout: cfg.InferenceTimeout,
		version: version,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.app.Get("/health", s.handleHealth)
	s.app.Post("/analyze", s.handleAnalyze)
	s.app.Get("/metrics", adaptor.HTTPHandler(telemetry.Handler()))
}

func (s *Server) handleHealth(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":      "ok",
		"version":     s.version,
		"model_ready": s.clf != nil,
	})
}

type analyzeRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleAnalyze(c fiber.Ctx) error {
	requestID := uuid.NewString()
	c.Set("X-Request-ID", requestID)

	var req analyzeRequest
	if err := c.Bind().Body(&req); err != nil {
		telemetry.RequestsTotal.WithLabelValues("bad_request").Inc()
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if req.Text == "" {
		telemetry.RequestsTotal.WithLabelValues("bad_request").Inc()
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "text field is required"})
	}

	if s.clf == nil {
		telemetry.RequestsTotal.WithLabelValues("error").Inc()
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "model not available"})
	}

	ctx, cancel := context.WithTimeout(c.Context(), s.timeout)
	defer cancel()

	if err := s.limiter.Acquire(ctx); err != nil {
		telemetry.RequestsTotal.WithLabelValues("saturated").Inc()
		telemetry.InFlightRejected.Inc()
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "server busy"})
	}
	defer s.limiter.Release()

	start := time.Now()
	pred, err := s.clf.Predict(ctx, req.Text)
	telemetry.InferenceDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		telemetry.RequestsTotal.WithLabelValues("error").Inc()
		log.Printf("[%s] analyze failed: %v", requestID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "classification failed"})
	}

	telemetry.RequestsTotal.WithLabelValues("ok").Inc()
	telemetry.PredictionsTotal.WithLabelValues(string(pred.ThreatType), string(pred.Severity)).Inc()
	log.Printf("[%s] threat=%s severity=%s confidence=%.3f latency=%s",
		requestID, pred.ThreatType, pred.Severity, pred.Confidence, time.Since(start).Round(time.Millisecond))

	return c.JSON(pred)
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen starts serving on the given port. Blocks until shutdown.
func (s *Server) Listen(port string) error {
	log.Printf("bastion HTTP server starting on :%s", port)
	log.Printf("  GET  /health   - Health check")
	log.Printf("  POST /analyze  - Threat classification")
	log.Printf("  GET  /metrics  - Prometheus metrics")
	return s.app.Listen(":" + port)
}
