// Package apperror define a taxonomia de erros exposta na borda HTTP.
package apperror

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	goerrors "github.com/goliatone/go-errors"
)

const (
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeInvalidRequest     = "INVALID_REQUEST"
	CodeValidation         = "VALIDATION_ERROR"
	CodeBadRequest         = "BAD_REQUEST"
	CodeNotFound           = "NOT_FOUND"
	CodeConflict           = "CONFLICT"
	CodeRateLimited        = "RATE_LIMITED"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeInternal           = "INTERNAL_ERROR"
)

// GenericMessage é a única mensagem devolvida ao cliente para erros não classificados.
const GenericMessage = "erro interno do servidor"

func newError(message string, category goerrors.Category, status int, textCode string) *goerrors.Error {
	return goerrors.New(message, category).
		WithCode(status).
		WithTextCode(textCode)
}

func Unauthorized(message string) error {
	return newError(message, goerrors.CategoryAuth, http.StatusUnauthorized, CodeUnauthorized)
}

// InvalidRequest sinaliza entrada malformada; fields mapeia campo -> motivo.
func InvalidRequest(message string, fields map[string]string) error {
	err := newError(message, goerrors.CategoryBadInput, http.StatusBadRequest, CodeInvalidRequest)
	if len(fields) > 0 {
		err.WithMetadata(map[string]any{"fields": fields})
	}
	return err
}

// Validation converte erros de binding do gin (validator) em VALIDATION_ERROR.
func Validation(source error) error {
	fields := map[string]string{}
	var verrs validator.ValidationErrors
	if errors.As(source, &verrs) {
		for _, fe := range verrs {
			fields[fe.Field()] = fe.Tag()
		}
	}
	err := goerrors.Wrap(source, goerrors.CategoryValidation, "payload inválido").
		WithCode(http.StatusBadRequest).
		WithTextCode(CodeValidation)
	if len(fields) > 0 {
		err.WithMetadata(map[string]any{"fields": fields})
	}
	return err
}

func BadRequest(message string) error {
	return newError(message, goerrors.CategoryBadInput, http.StatusBadRequest, CodeBadRequest)
}

func NotFound(message string) error {
	return newError(message, goerrors.CategoryNotFound, http.StatusNotFound, CodeNotFound)
}

func Conflict(message string) error {
	return newError(message, goerrors.CategoryConflict, http.StatusConflict, CodeConflict)
}

func RateLimited(message string) error {
	return newError(message, goerrors.CategoryRateLimit, http.StatusTooManyRequests, CodeRateLimited)
}

func ServiceUnavailable(message string, cause error) error {
	if cause == nil {
		return newError(message, goerrors.CategoryOperation, http.StatusServiceUnavailable, CodeServiceUnavailable)
	}
	return goerrors.Wrap(cause, goerrors.CategoryOperation, message).
		WithCode(http.StatusServiceUnavailable).
		WithTextCode(CodeServiceUnavailable)
}

func Internal(cause error) error {
	if cause == nil {
		return newError(GenericMessage, goerrors.CategoryInternal, http.StatusInternalServerError, CodeInternal)
	}
	return goerrors.Wrap(cause, goerrors.CategoryInternal, GenericMessage).
		WithCode(http.StatusInternalServerError).
		WithTextCode(CodeInternal)
}

// From normaliza qualquer erro para *goerrors.Error. Erros sem classificação
// viram INTERNAL_ERROR com mensagem genérica.
func From(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		if rich.Code == 0 {
			rich.Code = http.StatusInternalServerError
		}
		if rich.TextCode == "" {
			rich.TextCode = CodeInternal
		}
		if rich.TextCode == CodeInternal {
			rich.Message = GenericMessage
		}
		return rich
	}
	if errors.Is(err, context.DeadlineExceeded) {
		goerrors.As(ServiceUnavailable("tempo limite excedido", err), &rich)
		return rich
	}
	goerrors.As(Internal(err), &rich)
	return rich
}

// Is verifica se err carrega o código textual informado.
func Is(err error, textCode string) bool {
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		return false
	}
	return rich.TextCode == textCode
}
