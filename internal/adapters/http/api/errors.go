package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/okian/soccer-tracker/internal/domain/dedupe"
	"github.com/okian/soccer-tracker/internal/domain/model"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest   = errors.New("bad request")
	ErrBackpressure = errors.New("backpressure")
	ErrUnavailable  = errors.New("unavailable")
)

// NewKind tags a sentinel with the operation that raised it.
func NewKind(op string, kind error) error {
	return fmt.Errorf("%s: %w", op, kind)
}

// WrapKind tags err with a sentinel kind and the operation.
func WrapKind(op string, kind, err error) error {
	return fmt.Errorf("%s: %w: %w", op, kind, err)
}

// statusFor maps an error onto an HTTP status and a response code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, ErrBackpressure):
		return http.StatusTooManyRequests, "backpressure"
	case errors.Is(err, dedupe.ErrInProgress):
		return http.StatusConflict, "in_progress"
	case errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable, "unavailable"
	}
	switch kind := model.KindOf(err); {
	case kind == model.KindValidation:
		return http.StatusBadRequest, "validation"
	case kind == model.KindNotFound:
		return http.StatusNotFound, "not_found"
	case kind == model.KindNetwork:
		return http.StatusBadGateway, "network"
	case kind == model.KindUpstream && errors.Is(err, model.ErrUpstream):
		return http.StatusBadGateway, "upstream_model_error"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
