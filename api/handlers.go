package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/BaSui01/scriptexec/sandbox"
	"github.com/BaSui01/scriptexec/sandbox/bag"
	"github.com/jkaninda/okapi"
	"go.uber.org/zap"
)

// ExecuteRequest is the JSON body for POST /v1/execute.
type ExecuteRequest struct {
	Source    string    `json:"source"`
	Context   bag.Value `json:"context"`
	TimeoutMs int       `json:"timeout_ms,omitempty"`
}

// ExecuteResponse is the JSON response for a successful execution.
type ExecuteResponse struct {
	Result bag.Value `json:"result"`
}

func (g *Gateway) handleExecute(c *okapi.Context) error {
	var req ExecuteRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if req.Source == "" {
		return c.AbortBadRequest("source is required")
	}

	ctx := c.Context()
	if !g.acquire(ctx) {
		return c.AbortServiceUnavailable("executor is at capacity")
	}
	defer g.release()

	execID := sandbox.ExecutionID()
	digest := sandbox.SourceDigest(req.Source)
	if g.logger != nil {
		g.logger.Info("execution started", zap.String("exec_id", execID), zap.String("source_digest", digest))
	}

	start := time.Now()
	result, err := g.executor.Execute(ctx, req.Source, req.Context, sandbox.Options{TimeoutMs: req.TimeoutMs})
	if err != nil {
		outcome, kind, status, msg := classify(err)
		if g.metrics != nil {
			g.metrics.RecordExecution(outcome, time.Since(start), 0)
		}
		if g.logger != nil {
			g.logger.Warn("execution failed",
				zap.String("exec_id", execID), zap.String("source_digest", digest),
				zap.String("kind", kind), zap.Duration("duration", time.Since(start)))
		}
		return c.JSON(status, ErrorBody{Kind: kind, Error: msg})
	}
	if g.metrics != nil {
		g.metrics.RecordExecution("ok", time.Since(start), 0)
	}
	if g.logger != nil {
		g.logger.Info("execution finished",
			zap.String("exec_id", execID), zap.String("source_digest", digest),
			zap.Duration("duration", time.Since(start)))
	}
	return c.OK(ExecuteResponse{Result: result})
}

// ValidateRequest is the JSON body for POST /v1/validate.
type ValidateRequest struct {
	Source string `json:"source"`
}

// ValidateResponse is the JSON response for a successful validation.
type ValidateResponse struct {
	OK bool `json:"ok"`
}

func (g *Gateway) handleValidate(c *okapi.Context) error {
	var req ValidateRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if req.Source == "" {
		return c.AbortBadRequest("source is required")
	}

	if err := g.executor.Validate(req.Source); err != nil {
		_, kind, status, msg := classify(err)
		if g.metrics != nil {
			g.metrics.RecordValidation(validationResultLabels[kind])
		}
		return c.JSON(status, ErrorBody{Kind: kind, Error: msg})
	}
	if g.metrics != nil {
		g.metrics.RecordValidation("ok")
	}
	return c.OK(ValidateResponse{OK: true})
}

// outcomeLabels maps sandbox.Kind to the snake_case outcome label the
// metrics package documents (internal/metrics/doc.go).
var outcomeLabels = map[sandbox.Kind]string{
	sandbox.KindMissingEntry:       "validation_failed",
	sandbox.KindDangerousConstruct: "validation_failed",
	sandbox.KindTimeout:            "timeout",
	sandbox.KindMemoryExceeded:     "memory_exceeded",
	sandbox.KindRuntimeError:       "runtime_error",
}

// validationResultLabels maps the Kind string classify returns to the
// result label RecordValidation documents (internal/metrics/doc.go).
var validationResultLabels = map[string]string{
	string(sandbox.KindMissingEntry):       "missing_entry",
	string(sandbox.KindDangerousConstruct): "dangerous_construct",
}

// classify maps a sandbox error to the outcome label metrics use, the
// Kind string clients see, the HTTP status (*sandbox.Error already
// knows via Kind.HTTPStatus), and a human-readable message.
func classify(err error) (outcome, kind string, status int, msg string) {
	var serr *sandbox.Error
	if errors.As(err, &serr) {
		outcome, ok := outcomeLabels[serr.Kind]
		if !ok {
			outcome = "runtime_error"
		}
		return outcome, string(serr.Kind), serr.Kind.HTTPStatus(), serr.Message
	}
	return "runtime_error", "RuntimeError", http.StatusInternalServerError, err.Error()
}
