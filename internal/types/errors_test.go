package types

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	tcases := []struct {
		name string
		err  error
		code ErrorCode
	}{
		{"invalid credential", ErrInvalidCredential, CodeInvalidCredential},
		{"wrapped expired credential", fmt.Errorf("%w: token is expired", ErrExpiredCredential), CodeExpiredCredential},
		{"account inactive", ErrAccountInactive, CodeAccountInactive},
		{"not member", fmt.Errorf("append: %w", ErrNotMember), CodeNotMember},
		{"room not found", ErrRoomNotFound, CodeRoomNotFound},
		{"message not found", ErrMessageNotFound, CodeMessageNotFound},
		{"invalid membership", ErrInvalidMembership, CodeInvalidMembership},
		{"validation", ErrValidation, CodeValidation},
		{"transient storage", ErrTransientStorage, CodeTransientStorage},
		{"unknown error", errors.New("boom"), CodeInternal},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.code, CodeOf(tc.err), "expected code to match")
		})
	}
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(ErrTransientStorage), "expected transient storage error to be transient")
	assert.True(t, IsTransient(fmt.Errorf("query: %w", context.DeadlineExceeded)), "expected deadline to be transient")
	assert.False(t, IsTransient(ErrNotMember), "expected not member to not be transient")
}

func TestMessage_HasReadReceipt(t *testing.T) {
	msg := Message{ReadBy: []ReadReceipt{{UserId: 2}}}
	assert.True(t, msg.HasReadReceipt(2), "expected receipt for user 2")
	assert.False(t, msg.HasReadReceipt(3), "expected no receipt for user 3")
}

func TestMessageKind_Valid(t *testing.T) {
	assert.True(t, MessageKindText.Valid())
	assert.True(t, MessageKindImage.Valid())
	assert.True(t, MessageKindFile.Valid())
	assert.False(t, MessageKind("video").Valid())
	assert.False(t, MessageKind("").Valid())
}
