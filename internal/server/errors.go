package server

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/sells-group/aoi-engine/internal/aoi"
	"github.com/sells-group/aoi-engine/internal/evaluate"
	"github.com/sells-group/aoi-engine/internal/resilience"
	"github.com/sells-group/aoi-engine/internal/resolver"
	"github.com/sells-group/aoi-engine/pkg/platform"
)

// Error kinds reported in error bodies.
const (
	kindNotFound          = "not_found"
	kindUnsupportedFormat = "unsupported_format"
	kindTimeout           = "timeout"
	kindInvalidArguments  = "invalid_arguments"
	kindUnknownTool       = "unknown_tool"
	kindPlatform          = "platform"
	kindUnavailable       = "unavailable"
	kindInternal          = "internal"
)

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
	Hint  string `json:"hint,omitempty"`
}

// argsError is a malformed or incomplete tool argument object.
type argsError struct{ msg string }

func (e *argsError) Error() string { return e.msg }

func badArgs(msg string) error { return &argsError{msg: msg} }

// classify maps an error to its HTTP status and body.
func classify(err error) (int, errorBody) {
	body := errorBody{Error: err.Error()}

	var (
		notFound    *resolver.NotFoundError
		unsupported *aoi.UnsupportedFormatError
		timeout     *evaluate.TimeoutError
		args        *argsError
		apiErr      *platform.APIError
	)
	switch {
	case errors.As(err, &args):
		body.Kind = kindInvalidArguments
		return http.StatusBadRequest, body
	case errors.As(err, &notFound):
		body.Kind = kindNotFound
		body.Hint = notFound.Hint
		return http.StatusNotFound, body
	case errors.As(err, &unsupported):
		body.Kind = kindUnsupportedFormat
		return http.StatusUnprocessableEntity, body
	case errors.As(err, &timeout), errors.Is(err, context.DeadlineExceeded):
		body.Kind = kindTimeout
		return http.StatusGatewayTimeout, body
	case resilience.IsCircuitOpen(err):
		body.Kind = kindUnavailable
		return http.StatusServiceUnavailable, body
	case errors.As(err, &apiErr):
		body.Kind = kindPlatform
		return http.StatusBadGateway, body
	default:
		body.Kind = kindInternal
		return http.StatusInternalServerError, body
	}
}

func writeError(w http.ResponseWriter, tool string, err error) {
	status, body := classify(err)
	if status >= http.StatusInternalServerError {
		zap.L().Warn("server: tool failed", zap.String("tool", tool), zap.String("kind", body.Kind), zap.Error(err))
	}
	writeJSON(w, status, body)
}
