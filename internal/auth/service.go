package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	tokenIssuer     = "peerpay"
	DefaultTokenTTL = time.Hour
	minPINLength    = 4
)

type JWTTokenGenerator struct {
	Secret []byte
	TTL    time.Duration
	now    func() time.Time
}

func NewJWTTokenGenerator(secret string, ttl time.Duration) *JWTTokenGenerator {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &JWTTokenGenerator{
		Secret: []byte(secret),
		TTL:    ttl,
		now:    time.Now,
	}
}

// GenerateAccessToken signs an HS256 token for walletID.
func (j *JWTTokenGenerator) GenerateAccessToken(walletID string) (AccessToken, error) {
	walletID = strings.TrimSpace(walletID)
	if walletID == "" {
		return AccessToken{}, errors.New("wallet id is required")
	}

	issuedAt := j.now()
	expiresAt := issuedAt.Add(j.TTL)

	claims := &Claims{
		WalletID: walletID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   walletID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(j.Secret)
	if err != nil {
		return AccessToken{}, err
	}

	return AccessToken{Token: signed, WalletID: walletID, ExpiresAt: expiresAt}, nil
}

// ValidateToken validates a JWT token and returns claims
func (j *JWTTokenGenerator) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.Secret, nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithTimeFunc(j.now))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.WalletID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Service validates bearer tokens for the HTTP layer.
type Service struct {
	tokenGenerator TokenGeneratorAPI
}

func NewService(tokenGen TokenGeneratorAPI) *Service {
	return &Service{tokenGenerator: tokenGen}
}

func (s *Service) ValidateAccessToken(tokenString string) (*Claims, error) {
	return s.tokenGenerator.ValidateToken(tokenString)
}

// PINGate checks the payment PIN against a bcrypt hash.
type PINGate struct {
	hash []byte
}

func NewPINGate(pinHash string) *PINGate {
	return &PINGate{hash: []byte(pinHash)}
}

func (g *PINGate) Confirm(ctx context.Context, pin string) error {
	if pin == "" {
		return ErrPINRequired
	}
	if len(g.hash) == 0 {
		return ErrInvalidPIN
	}
	if err := bcrypt.CompareHashAndPassword(g.hash, []byte(pin)); err != nil {
		return ErrInvalidPIN
	}
	return nil
}

// HashPIN creates the bcrypt hash stored in security.payment_pin_hash.
func HashPIN(pin string, cost int) (string, error) {
	if len(pin) < minPINLength {
		return "", fmt.Errorf("pin must be at least %d characters", minPINLength)
	}
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
