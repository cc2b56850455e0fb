package types

import (
	"context"
	"errors"
)

var (
	ErrInvalidCredential = errors.New("invalid credential")
	ErrExpiredCredential = errors.New("expired credential")
	ErrAccountInactive   = errors.New("account inactive")
	ErrNotMember         = errors.New("not a member of room")
	ErrRoomNotFound      = errors.New("room not found")
	ErrMessageNotFound   = errors.New("message not found")
	ErrInvalidMembership = errors.New("invalid membership")
	ErrValidation        = errors.New("validation failure")
	ErrTransientStorage  = errors.New("transient storage failure")
)

type ErrorCode string

const (
	CodeInvalidCredential ErrorCode = "invalid_credential"
	CodeExpiredCredential ErrorCode = "expired_credential"
	CodeAccountInactive   ErrorCode = "account_inactive"
	CodeNotMember         ErrorCode = "not_member"
	CodeRoomNotFound      ErrorCode = "room_not_found"
	CodeMessageNotFound   ErrorCode = "message_not_found"
	CodeInvalidMembership ErrorCode = "invalid_membership"
	CodeValidation        ErrorCode = "validation_failure"
	CodeTransientStorage  ErrorCode = "transient_storage_failure"
	CodeInternal          ErrorCode = "internal_error"
)

var errorCodes = []struct {
	err  error
	code ErrorCode
}{
	{ErrInvalidCredential, CodeInvalidCredential},
	{ErrExpiredCredential, CodeExpiredCredential},
	{ErrAccountInactive, CodeAccountInactive},
	{ErrNotMember, CodeNotMember},
	{ErrRoomNotFound, CodeRoomNotFound},
	{ErrMessageNotFound, CodeMessageNotFound},
	{ErrInvalidMembership, CodeInvalidMembership},
	{ErrValidation, CodeValidation},
	{ErrTransientStorage, CodeTransientStorage},
}

// CodeOf returns the wire code for err, falling back to CodeInternal.
func CodeOf(err error) ErrorCode {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return CodeInternal
}

// IsTransient reports whether err came from a storage deadline or
// cancellation rather than a definite answer.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransientStorage) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}
