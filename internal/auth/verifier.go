package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/npezzotti/roomchat/internal/database"
	"github.com/npezzotti/roomchat/internal/types"
)

type AccountLookup interface {
	GetAccountById(ctx context.Context, id int) (database.Account, error)
}

// Verifier checks bearer credentials and the liveness of the account behind
// them. A well-formed token is only accepted while its account exists and is
// active.
type Verifier struct {
	tokens   *TokenManager
	accounts AccountLookup
	timeout  time.Duration
}

func NewVerifier(tokens *TokenManager, accounts AccountLookup, timeout time.Duration) *Verifier {
	return &Verifier{
		tokens:   tokens,
		accounts: accounts,
		timeout:  timeout,
	}
}

func (v *Verifier) Tokens() *TokenManager {
	return v.tokens
}

// Verify validates an access token and returns the identity it is bound to.
func (v *Verifier) Verify(ctx context.Context, token string) (types.Principal, error) {
	claims, err := v.tokens.Parse(token, AccessToken)
	if err != nil {
		return types.Principal{}, err
	}

	account, err := v.activeAccount(ctx, claims.UserId)
	if err != nil {
		return types.Principal{}, err
	}

	return types.Principal{UserId: account.Id, Role: account.Role}, nil
}

// CheckActive fails with types.ErrAccountInactive unless userId refers to an
// existing active account.
func (v *Verifier) CheckActive(ctx context.Context, userId int) error {
	_, err := v.activeAccount(ctx, userId)
	return err
}

// Refresh rotates a refresh token into a new token pair.
func (v *Verifier) Refresh(ctx context.Context, refreshToken string) (TokenPair, types.Principal, error) {
	claims, err := v.tokens.Consume(ctx, refreshToken)
	if err != nil {
		return TokenPair{}, types.Principal{}, err
	}

	account, err := v.activeAccount(ctx, claims.UserId)
	if err != nil {
		return TokenPair{}, types.Principal{}, err
	}

	pair, err := v.tokens.IssuePair(ctx, account.Id, account.Role)
	if err != nil {
		return TokenPair{}, types.Principal{}, err
	}

	return pair, types.Principal{UserId: account.Id, Role: account.Role}, nil
}

// Revoke invalidates a single refresh token. Expired or already used tokens
// are treated as revoked.
func (v *Verifier) Revoke(ctx context.Context, refreshToken string) error {
	_, err := v.tokens.Consume(ctx, refreshToken)
	if errors.Is(err, types.ErrExpiredCredential) {
		return nil
	}
	return err
}

func (v *Verifier) activeAccount(ctx context.Context, userId int) (database.Account, error) {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	account, err := v.accounts.GetAccountById(ctx, userId)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return database.Account{}, fmt.Errorf("%w: account %d not found", types.ErrAccountInactive, userId)
		}
		return database.Account{}, fmt.Errorf("%w: get account: %v", types.ErrTransientStorage, err)
	}

	if account.Status != types.StatusActive {
		return database.Account{}, fmt.Errorf("%w: account %d is %s", types.ErrAccountInactive, userId, account.Status)
	}

	return account, nil
}
