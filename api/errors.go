package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/eishaa-e/flowboard/domain"
	"github.com/eishaa-e/flowboard/storage"
)

// Error codes returned with 400 responses so clients can tell rejections
// apart.
const (
	CodeInvalidRequest = "invalid_request"
	CodeInvalidIndex   = "invalid_index"
	CodeInvalidLane    = "invalid_lane"
	CodeConflict       = "conflict"
	CodeBatchTooLarge  = "batch_too_large"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func codeFor(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidIndex):
		return CodeInvalidIndex
	case errors.Is(err, domain.ErrInvalidLane):
		return CodeInvalidLane
	case errors.Is(err, domain.ErrConflict):
		return CodeConflict
	case errors.Is(err, storage.ErrBatchTooLarge):
		return CodeBatchTooLarge
	}
	return ""
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrInvalidIndex),
		errors.Is(err, domain.ErrInvalidLane),
		errors.Is(err, domain.ErrConflict),
		errors.Is(err, storage.ErrBatchTooLarge):
		return http.StatusBadRequest
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return http.StatusInternalServerError
}

// fail writes err as a JSON error body. Server errors are logged and their
// details withheld from the client.
func (s *server) fail(c echo.Context, err error) error {
	status := statusFor(err)
	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg = fmt.Sprint(he.Message)
	}
	if status >= http.StatusInternalServerError {
		s.log.WithError(err).WithField("path", c.Path()).Error("request failed")
		msg = http.StatusText(status)
	}
	m := metricsFrom(c)
	m.SetErrorStage(stageFor(status))
	m.SetError(err)
	resp := errorResponse{Error: msg}
	if status == http.StatusBadRequest {
		resp.Code = codeFor(err)
		if resp.Code == "" {
			resp.Code = CodeInvalidRequest
		}
	}
	return c.JSON(status, resp)
}

func badRequest(c echo.Context, msg string) error {
	return reject(c, CodeInvalidRequest, msg)
}

func reject(c echo.Context, code, msg string) error {
	metricsFrom(c).SetErrorStage("validation")
	return c.JSON(http.StatusBadRequest, errorResponse{Error: msg, Code: code})
}

func stageFor(status int) string {
	switch {
	case status >= http.StatusInternalServerError:
		return "storage"
	case status == http.StatusNotFound:
		return "not_found"
	case status == http.StatusUnauthorized:
		return "auth"
	}
	return "validation"
}
