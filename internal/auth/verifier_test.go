package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/npezzotti/roomchat/internal/database"
	"github.com/npezzotti/roomchat/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestVerifier_Verify(t *testing.T) {
	tm := newTestTokenManager(t)
	pair, err := tm.IssuePair(context.Background(), 1, types.RoleUser)
	require.NoError(t, err)

	tcases := []struct {
		name      string
		token     string
		account   database.Account
		dbErr     error
		callsDb   bool
		expectErr error
	}{
		{
			name:    "active account",
			token:   pair.AccessToken,
			account: database.Account{Id: 1, Role: types.RoleAdmin, Status: types.StatusActive},
			callsDb: true,
		},
		{
			name:      "garbage token",
			token:     "garbage",
			expectErr: types.ErrInvalidCredential,
		},
		{
			name:      "inactive account",
			token:     pair.AccessToken,
			account:   database.Account{Id: 1, Status: types.StatusInactive},
			callsDb:   true,
			expectErr: types.ErrAccountInactive,
		},
		{
			name:      "missing account",
			token:     pair.AccessToken,
			dbErr:     database.ErrNotFound,
			callsDb:   true,
			expectErr: types.ErrAccountInactive,
		},
		{
			name:      "storage failure",
			token:     pair.AccessToken,
			dbErr:     errors.New("connection refused"),
			callsDb:   true,
			expectErr: types.ErrTransientStorage,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			db := &database.MockChatRepository{}
			defer db.AssertExpectations(t)
			if tc.callsDb {
				db.On("GetAccountById", mock.Anything, 1).Return(tc.account, tc.dbErr).Once()
			}

			v := NewVerifier(tm, db, time.Second)
			principal, err := v.Verify(context.Background(), tc.token)
			if tc.expectErr != nil {
				assert.ErrorIs(t, err, tc.expectErr, "expected %v, got %v", tc.expectErr, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, types.Principal{UserId: 1, Role: types.RoleAdmin}, principal, "expected role to come from the account")
		})
	}
}

func TestVerifier_Refresh(t *testing.T) {
	ctx := context.Background()
	db := database.NewMemoryChatRepository()
	account, err := db.CreateAccount(ctx, database.CreateAccountParams{Username: "alice", EmailAddress: "alice@example.com"})
	require.NoError(t, err)

	v := NewVerifier(newTestTokenManager(t), db, time.Second)
	pair, err := v.Tokens().IssuePair(ctx, account.Id, account.Role)
	require.NoError(t, err)

	rotated, principal, err := v.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, account.Id, principal.UserId)
	assert.NotEqual(t, pair.RefreshToken, rotated.RefreshToken, "expected a new refresh token")

	_, _, err = v.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, types.ErrInvalidCredential, "expected rotated token to be single use")

	_, err = db.UpdateAccountStatus(ctx, account.Id, types.StatusInactive)
	require.NoError(t, err)

	_, _, err = v.Refresh(ctx, rotated.RefreshToken)
	assert.ErrorIs(t, err, types.ErrAccountInactive, "expected inactive account to be refused a new pair")
}

func TestVerifier_Revoke(t *testing.T) {
	ctx := context.Background()
	v := NewVerifier(newTestTokenManager(t), &database.MockChatRepository{}, time.Second)

	pair, err := v.Tokens().IssuePair(ctx, 1, types.RoleUser)
	require.NoError(t, err)

	assert.NoError(t, v.Revoke(ctx, pair.RefreshToken), "expected revoke to succeed")
	_, err = v.Tokens().Consume(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, types.ErrInvalidCredential, "expected revoked token to be unusable")

	assert.ErrorIs(t, v.Revoke(ctx, "garbage"), types.ErrInvalidCredential)
}
