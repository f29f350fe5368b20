package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims carries the wallet the bearer may act for.
type Claims struct {
	WalletID string `json:"wallet_id"`
	jwt.RegisteredClaims
}

type AccessToken struct {
	Token     string    `json:"access_token"`
	WalletID  string    `json:"wallet_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

type TokenGeneratorAPI interface {
	GenerateAccessToken(walletID string) (AccessToken, error)
	ValidateToken(tokenString string) (*Claims, error)
}

// ServiceAPI is what the HTTP layer needs from auth.
type ServiceAPI interface {
	ValidateAccessToken(tokenString string) (*Claims, error)
}

// PINVerifier is the confirmation gate used for large payments.
type PINVerifier interface {
	Confirm(ctx context.Context, pin string) error
}

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
	ErrPINRequired  = errors.New("payment pin required")
	ErrInvalidPIN   = errors.New("invalid payment pin")
)
