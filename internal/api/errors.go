package api

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"crudkit/internal/eav"
	"crudkit/internal/query"
	"crudkit/internal/service"
	"crudkit/internal/store"
)

type AppError struct {
	Code    string        `json:"code"`
	Status  int           `json:"-"`
	Message string        `json:"message"`
	Details []ErrorDetail `json:"details,omitempty"`
}

type ErrorDetail struct {
	Field   string `json:"field,omitempty"`
	Rule    string `json:"rule,omitempty"`
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

func NotFoundError(entity, id string) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Status:  fiber.StatusNotFound,
		Message: fmt.Sprintf("%s with id %s not found", entity, id),
	}
}

func UnknownEntityError(name string) *AppError {
	return &AppError{
		Code:    "UNKNOWN_ENTITY",
		Status:  fiber.StatusNotFound,
		Message: fmt.Sprintf("Unknown entity: %s", name),
	}
}

func ValidationError(details []ErrorDetail) *AppError {
	return &AppError{
		Code:    "VALIDATION_FAILED",
		Status:  fiber.StatusUnprocessableEntity,
		Message: "Validation failed",
		Details: details,
	}
}

func ConflictError(msg string) *AppError {
	return &AppError{Code: "CONFLICT", Status: fiber.StatusConflict, Message: msg}
}

func BadRequestError(msg string) *AppError {
	return &AppError{Code: "BAD_REQUEST", Status: fiber.StatusBadRequest, Message: msg}
}

func ForbiddenError(msg string) *AppError {
	return &AppError{Code: "FORBIDDEN", Status: fiber.StatusForbidden, Message: msg}
}

// toAppError maps domain errors onto their HTTP form. It returns nil for
// errors that have no client-facing meaning.
func toAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	var verr *service.ValidationError
	if errors.As(err, &verr) {
		details := make([]ErrorDetail, len(verr.Problems))
		for i, p := range verr.Problems {
			details[i] = ErrorDetail{Field: p.Field, Rule: p.Rule, Message: p.Message}
		}
		return ValidationError(details)
	}

	switch {
	case errors.Is(err, store.ErrNotFound):
		return NewAppError("NOT_FOUND", fiber.StatusNotFound, "Record not found")
	case errors.Is(err, store.ErrUniqueViolation):
		msg := "A record with this value already exists"
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Detail != "" {
			msg = pgErr.Detail
		}
		return ConflictError(msg)
	case errors.Is(err, eav.ErrMalformedAttributes):
		return ValidationError([]ErrorDetail{{Field: query.AttributesKey, Rule: "format", Message: err.Error()}})
	case errors.Is(err, query.ErrMalformedActivation):
		return BadRequestError(err.Error())
	}

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return NewAppError("HTTP_ERROR", fiberErr.Code, fiberErr.Message)
	}
	return nil
}

// ErrorHandler renders every error returned by a route as an ErrorResponse.
func ErrorHandler(c *fiber.Ctx, err error) error {
	if appErr := toAppError(err); appErr != nil {
		return c.Status(appErr.Status).JSON(ErrorResponse{Error: appErr})
	}

	zerolog.Ctx(c.UserContext()).Error().Err(err).
		Str("method", c.Method()).
		Str("path", c.Path()).
		Msg("request failed")
	return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
		Error: &AppError{
			Code:    "INTERNAL_ERROR",
			Message: "Internal server error",
		},
	})
}
