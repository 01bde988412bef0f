package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/seatbill/pkg/errkind"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Code    string            `json:"code,omitempty"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

// kindStatus is the HTTP status of each error kind.
var kindStatus = map[*errkind.Kind]int{
	errkind.Validation:          http.StatusBadRequest,
	errkind.AntiFraud:           http.StatusUnprocessableEntity,
	errkind.NotFound:            http.StatusNotFound,
	errkind.Conflict:            http.StatusConflict,
	errkind.InvalidState:        http.StatusConflict,
	errkind.MissingExchangeRate: http.StatusFailedDependency,
	errkind.MissingTaxRules:     http.StatusFailedDependency,
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return internalError()
	}

	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    errkind.Validation.Name(),
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	switch {
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest, errorPayload{
			Type:    errkind.Validation.Name(),
			Code:    "invalid_request",
			Message: "invalid request",
		}
	case errors.Is(err, ErrNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound, errorPayload{
			Type:    errkind.NotFound.Name(),
			Message: "not found",
		}
	}

	kind := errkind.KindOf(err)
	status, ok := kindStatus[kind]
	if !ok {
		return internalError()
	}
	code := errkind.CodeOf(err)
	return status, errorPayload{
		Type:    kind.Name(),
		Code:    code,
		Message: errorMessage(code),
	}
}

func internalError() (int, errorPayload) {
	return http.StatusInternalServerError, errorPayload{
		Type:    "internal_error",
		Message: "internal server error",
	}
}

func errorMessage(code string) string {
	return strings.ReplaceAll(code, "_", " ")
}

// classifyErrorForLog reports the kind and code logged with a failed request.
func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	if kind := errkind.KindOf(err); kind != nil {
		return kind.Name(), errkind.CodeOf(err)
	}
	var vErr *ValidationErrors
	if errors.As(err, &vErr) {
		return errkind.Validation.Name(), "invalid_request"
	}
	return "internal_error", ""
}
