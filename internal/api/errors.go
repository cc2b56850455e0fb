package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/npezzotti/roomchat/internal/types"
)

type ApiError struct {
	StatusCode int             `json:"status_code"`
	Code       types.ErrorCode `json:"code,omitempty"`
	Message    string          `json:"message"`
	Err        error           `json:"-"`
}

func (e *ApiError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}

	return e.Message
}

func (e *ApiError) Unwrap() error {
	return e.Err
}

func lower(s string) string {
	return strings.ToLower(s)
}

func NewBadRequestError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusBadRequest,
		Code:       types.CodeValidation,
		Message:    lower(http.StatusText(http.StatusBadRequest)),
	}
}

func NewNotFoundError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusNotFound,
		Message:    lower(http.StatusText(http.StatusNotFound)),
	}
}

func NewInternalServerError(err error) *ApiError {
	return &ApiError{
		StatusCode: http.StatusInternalServerError,
		Code:       types.CodeInternal,
		Message:    lower(http.StatusText(http.StatusInternalServerError)),
		Err:        err,
	}
}

func NewUnauthorizedError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusUnauthorized,
		Code:       types.CodeInvalidCredential,
		Message:    lower(http.StatusText(http.StatusUnauthorized)),
	}
}

func NewForbiddenError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusForbidden,
		Message:    lower(http.StatusText(http.StatusForbidden)),
	}
}

func NewConflictError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusConflict,
		Code:       types.CodeValidation,
		Message:    lower(http.StatusText(http.StatusConflict)),
	}
}

var statusCodes = map[types.ErrorCode]int{
	types.CodeInvalidCredential: http.StatusUnauthorized,
	types.CodeExpiredCredential: http.StatusUnauthorized,
	types.CodeAccountInactive:   http.StatusUnauthorized,
	types.CodeNotMember:         http.StatusForbidden,
	types.CodeRoomNotFound:      http.StatusNotFound,
	types.CodeMessageNotFound:   http.StatusNotFound,
	types.CodeInvalidMembership: http.StatusBadRequest,
	types.CodeValidation:        http.StatusBadRequest,
	types.CodeTransientStorage:  http.StatusServiceUnavailable,
}

// errorFor maps a domain error onto its HTTP response. Internal failures
// keep the cause for logging but never expose it.
func errorFor(err error) *ApiError {
	var apiErr *ApiError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	code := types.CodeOf(err)
	status, ok := statusCodes[code]
	if !ok {
		return NewInternalServerError(err)
	}

	message := err.Error()
	if code == types.CodeTransientStorage {
		message = lower(http.StatusText(http.StatusServiceUnavailable))
	}

	return &ApiError{
		StatusCode: status,
		Code:       code,
		Message:    message,
		Err:        err,
	}
}
