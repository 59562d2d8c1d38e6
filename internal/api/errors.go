package api

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"component-deployer/internal/browser"
	"component-deployer/internal/check"
	"component-deployer/internal/filter"
	"component-deployer/internal/storage"
	"component-deployer/internal/store"
	"component-deployer/internal/task"
)

type AppError struct {
	Code    string `json:"code"`
	Status  int    `json:"-"`
	Message string `json:"message"`
}

func (e *AppError) Error() string {
	return e.Message
}

type ErrorResponse struct {
	Error *AppError `json:"error"`
}

func NewAppError(code string, status int, msg string) *AppError {
	return &AppError{Code: code, Status: status, Message: msg}
}

func NotFoundError(kind, id string) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Status:  404,
		Message: fmt.Sprintf("%s %s not found", kind, id),
	}
}

func InvalidPayload(msg string) *AppError {
	return NewAppError("INVALID_PAYLOAD", 400, msg)
}

// mapError turns known domain errors into an AppError. It returns nil for
// errors that should surface as internal errors.
func mapError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	var parseErr *filter.ParseError
	var queryErr *browser.QueryError
	switch {
	case errors.As(err, &parseErr):
		return NewAppError("INVALID_FILTER", 400, parseErr.Error())
	case errors.Is(err, filter.ErrEvaluation):
		return NewAppError("UNSUPPORTED_FILTER", 400, err.Error())
	case errors.Is(err, browser.ErrSelectorNotFound):
		return NewAppError("SELECTOR_NOT_FOUND", 404, err.Error())
	case errors.Is(err, check.ErrInvalidCheck):
		return NewAppError("INVALID_CHECK", 400, err.Error())
	case errors.Is(err, store.ErrInvalidSelector):
		return NewAppError("INVALID_SELECTOR", 400, err.Error())
	case errors.Is(err, task.ErrUnknownTask):
		return NewAppError("UNKNOWN_TASK", 404, err.Error())
	case errors.Is(err, task.ErrTaskRunning):
		return NewAppError("TASK_RUNNING", 409, err.Error())
	case errors.As(err, &queryErr):
		return NewAppError("QUERY_FAILED", 502, err.Error())
	case errors.Is(err, store.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		return NewAppError("NOT_FOUND", 404, err.Error())
	}

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return NewAppError(fiberCode(fiberErr.Code), fiberErr.Code, fiberErr.Message)
	}
	return nil
}

func fiberCode(status int) string {
	switch status {
	case fiber.StatusBadRequest:
		return "INVALID_PAYLOAD"
	case fiber.StatusUnauthorized:
		return "UNAUTHORIZED"
	case fiber.StatusForbidden:
		return "FORBIDDEN"
	case fiber.StatusNotFound:
		return "NOT_FOUND"
	case fiber.StatusMethodNotAllowed:
		return "METHOD_NOT_ALLOWED"
	case fiber.StatusRequestEntityTooLarge:
		return "FILE_TOO_LARGE"
	}
	return "HTTP_ERROR"
}

// ErrorHandler renders every handler error as an ErrorResponse.
func ErrorHandler(log zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		if appErr := mapError(err); appErr != nil {
			return c.Status(appErr.Status).JSON(ErrorResponse{Error: appErr})
		}

		log.Error().Err(err).
			Str("method", c.Method()).
			Str("path", c.Path()).
			Msg("Request failed")
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Error: &AppError{
				Code:    "INTERNAL_ERROR",
				Message: "Internal server error",
			},
		})
	}
}
