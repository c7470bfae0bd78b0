package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/xisvar/the-oan/internal/crypto"
	"github.com/xisvar/the-oan/internal/ledger"
	"github.com/xisvar/the-oan/internal/matching"
	"github.com/xisvar/the-oan/internal/rules"
	"github.com/xisvar/the-oan/internal/storage"
)

// Stable error codes returned to clients.
const (
	CodeBadRequest      = "BAD_REQUEST"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeValidation      = "VALIDATION_FAILED"
	CodeNotFound        = "NOT_FOUND"
	CodeConflict        = "CONFLICT"
	CodeLedgerConflict  = "LEDGER_CONFLICT"
	CodeLedgerIntegrity = "LEDGER_INTEGRITY"
	CodeSigningFailed   = "LEDGER_SIGNING_FAILED"
	CodeTimeout         = "TIMEOUT"
	CodeInternal        = "INTERNAL_ERROR"
)

type AppError struct {
	HTTPStatus int
	Code       string
	Message    string
	Retryable  bool
	Cause      error
}

// Error appends the cause, or returns the cause alone when it already
// carries the message.
func (e *AppError) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	cause := e.Cause.Error()
	if strings.Contains(cause, e.Message) {
		return cause
	}
	return e.Message + ": " + cause
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func NewAppError(status int, code, msg string, retryable bool, cause error) *AppError {
	return &AppError{
		HTTPStatus: status,
		Code:       code,
		Message:    msg,
		Retryable:  retryable,
		Cause:      cause,
	}
}

func IsCode(err error, code string) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}
	return appErr.Code == code
}

func Internal(msg string, cause error) *AppError {
	return NewAppError(http.StatusInternalServerError, CodeInternal, msg, true, cause)
}

func BadRequest(msg string, cause error) *AppError {
	return NewAppError(http.StatusBadRequest, CodeBadRequest, msg, false, cause)
}

func NotFound(msg string) *AppError {
	return NewAppError(http.StatusNotFound, CodeNotFound, msg, false, nil)
}

// classify maps a domain error onto the client taxonomy. op names the
// failed operation for internal errors.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var (
		appErr      *AppError
		integrity   *ledger.IntegrityError
		signing     *ledger.SigningError
		ledgerValid *ledger.ValidationError
		rulesValid  *rules.ValidationError
	)
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.As(err, &integrity):
		return NewAppError(http.StatusInternalServerError, CodeLedgerIntegrity, fmt.Sprintf("ledger integrity broken at index %d", integrity.Index), false, err)
	case errors.As(err, &signing):
		return NewAppError(http.StatusUnprocessableEntity, CodeSigningFailed, "sign event for "+signing.SignerID, false, err)
	case errors.As(err, &ledgerValid):
		return NewAppError(http.StatusBadRequest, CodeValidation, ledgerValid.Error(), false, err)
	case errors.As(err, &rulesValid):
		return NewAppError(http.StatusBadRequest, CodeValidation, rulesValid.Error(), false, err)
	case errors.Is(err, matching.ErrRuleNotFound), errors.Is(err, matching.ErrApplicantNotFound):
		return NewAppError(http.StatusNotFound, CodeNotFound, err.Error(), false, err)
	case errors.Is(err, crypto.ErrKeyExists):
		return NewAppError(http.StatusConflict, CodeConflict, err.Error(), false, err)
	case errors.Is(err, storage.ErrTailConflict):
		return NewAppError(http.StatusConflict, CodeLedgerConflict, "ledger tail moved; retry the request", true, err)
	case errors.Is(err, context.DeadlineExceeded):
		return NewAppError(http.StatusGatewayTimeout, CodeTimeout, op+" timed out", true, err)
	}
	return Internal(op, err)
}
