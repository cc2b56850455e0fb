package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/google/uuid"
	"github.com/npezzotti/roomchat/internal/types"
)

type TokenType string

const (
	AccessToken  TokenType = "access"
	RefreshToken TokenType = "refresh"
)

type Claims struct {
	UserId int        `json:"uid"`
	Role   types.Role `json:"role,omitempty"`
	Type   TokenType  `json:"typ"`
	jwt.StandardClaims
}

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// TokenManager issues and validates signed access and refresh tokens.
// Refresh tokens are single use: each one is tracked in a RefreshStore by
// its id and consumed on rotation.
type TokenManager struct {
	signingKey []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	store      RefreshStore
	now        func() time.Time
}

func NewTokenManager(signingKey []byte, accessTTL, refreshTTL time.Duration, store RefreshStore) *TokenManager {
	return &TokenManager{
		signingKey: signingKey,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		store:      store,
		now:        time.Now,
	}
}

func (tm *TokenManager) sign(userId int, role types.Role, typ TokenType, jti string, ttl time.Duration) (string, error) {
	now := tm.now()
	claims := Claims{
		UserId: userId,
		Role:   role,
		Type:   typ,
		StandardClaims: jwt.StandardClaims{
			Id:        jti,
			Subject:   fmt.Sprint(userId),
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(ttl).Unix(),
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(tm.signingKey)
}

// IssuePair creates an access token and a tracked refresh token for userId.
func (tm *TokenManager) IssuePair(ctx context.Context, userId int, role types.Role) (TokenPair, error) {
	access, err := tm.sign(userId, role, AccessToken, uuid.NewString(), tm.accessTTL)
	if err != nil {
		return TokenPair{}, fmt.Errorf("sign access token: %w", err)
	}

	jti := uuid.NewString()
	refresh, err := tm.sign(userId, "", RefreshToken, jti, tm.refreshTTL)
	if err != nil {
		return TokenPair{}, fmt.Errorf("sign refresh token: %w", err)
	}

	if err := tm.store.Save(ctx, jti, userId, tm.refreshTTL); err != nil {
		return TokenPair{}, fmt.Errorf("%w: save refresh token: %v", types.ErrTransientStorage, err)
	}

	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(tm.accessTTL.Seconds()),
	}, nil
}

// Parse validates the signature, expiry and type of tokenString.
// Expired tokens fail with types.ErrExpiredCredential, anything else
// with types.ErrInvalidCredential.
func (tm *TokenManager) Parse(tokenString string, typ TokenType) (*Claims, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("%w: empty token", types.ErrInvalidCredential)
	}

	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return tm.signingKey, nil
	})
	if err != nil {
		var ve *jwt.ValidationError
		if errors.As(err, &ve) && ve.Errors == jwt.ValidationErrorExpired {
			return nil, fmt.Errorf("%w: %v", types.ErrExpiredCredential, err)
		}
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidCredential, err)
	}

	if !token.Valid {
		return nil, fmt.Errorf("%w: invalid token", types.ErrInvalidCredential)
	}
	if claims.Type != typ {
		return nil, fmt.Errorf("%w: expected %s token, got %q", types.ErrInvalidCredential, typ, claims.Type)
	}
	if claims.UserId <= 0 {
		return nil, fmt.Errorf("%w: missing subject", types.ErrInvalidCredential)
	}

	return &claims, nil
}

// Consume validates a refresh token and marks it used. A token that was
// already rotated or revoked fails with types.ErrInvalidCredential.
func (tm *TokenManager) Consume(ctx context.Context, refreshToken string) (*Claims, error) {
	claims, err := tm.Parse(refreshToken, RefreshToken)
	if err != nil {
		return nil, err
	}

	userId, ok, err := tm.store.Consume(ctx, claims.Id)
	if err != nil {
		return nil, fmt.Errorf("%w: consume refresh token: %v", types.ErrTransientStorage, err)
	}
	if !ok || userId != claims.UserId {
		return nil, fmt.Errorf("%w: refresh token revoked", types.ErrInvalidCredential)
	}

	return claims, nil
}

// RevokeAll invalidates every outstanding refresh token of userId.
func (tm *TokenManager) RevokeAll(ctx context.Context, userId int) error {
	if err := tm.store.RevokeAll(ctx, userId); err != nil {
		return fmt.Errorf("%w: revoke refresh tokens: %v", types.ErrTransientStorage, err)
	}
	return nil
}
