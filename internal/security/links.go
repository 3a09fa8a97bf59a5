package security

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Redemption link validation errors.
var (
	// ErrInvalidToken indicates a token is malformed or fails validation.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken indicates a token has expired.
	ErrExpiredToken = errors.New("token expired")
)

const linkAudience = "gift-card-redeem"

// RedemptionLinkClaims binds a signed link to one gift card code.
type RedemptionLinkClaims struct {
	Code       string `json:"code"`
	MerchantID uint64 `json:"merchant_id,omitempty"`
	jwt.RegisteredClaims
}

// LinkSigner issues and verifies redemption links.
type LinkSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewLinkSigner constructs a signer. A zero ttl defaults to 7 days.
func NewLinkSigner(secret string, ttl time.Duration) *LinkSigner {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &LinkSigner{secret: []byte(secret), ttl: ttl, now: func() time.Time { return time.Now().UTC() }}
}

// Sign returns a token for code. The token never outlives cardExpiry when set.
func (s *LinkSigner) Sign(code string, merchantID uint64, cardExpiry *time.Time) (string, time.Time, error) {
	if s == nil || len(s.secret) == 0 {
		return "", time.Time{}, ErrInvalidToken
	}
	now := s.now()
	expiresAt := now.Add(s.ttl)
	if cardExpiry != nil && cardExpiry.Before(expiresAt) {
		expiresAt = cardExpiry.UTC()
	}
	jti, errID := RandomToken(16)
	if errID != nil {
		return "", time.Time{}, errID
	}
	claims := RedemptionLinkClaims{
		Code:       strings.TrimSpace(code),
		MerchantID: merchantID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Audience:  jwt.ClaimStrings{linkAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// Parse validates a link token and returns its claims.
func (s *LinkSigner) Parse(tokenString string) (*RedemptionLinkClaims, error) {
	if s == nil || len(s.secret) == 0 {
		return nil, ErrInvalidToken
	}
	token, err := jwt.ParseWithClaims(tokenString, &RedemptionLinkClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, jwt.WithAudience(linkAudience), jwt.WithTimeFunc(s.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*RedemptionLinkClaims)
	if !ok || !token.Valid || claims.Code == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
