package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token purposes. A token is only accepted where its purpose matches, so a
// two-factor challenge token can never pass as a full session.
const (
	PurposeSession = "session"
	PurposeTwoFA   = "2fa"
)

const TwoFATokenTTL = 5 * time.Minute

// ErrInvalidToken covers every verification failure. Callers must not tell
// an expired token apart from a forged one.
var ErrInvalidToken = errors.New("invalid token")

type Claims struct {
	UserID   int64  `json:"uid"`
	Username string `json:"username"`
	Role     string `json:"role"`
	Purpose  string `json:"purpose"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies the console's HS256 tokens.
type TokenIssuer struct {
	secret     []byte
	sessionTTL time.Duration
}

func NewTokenIssuer(secret string, sessionTTL time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), sessionTTL: sessionTTL}
}

// IssueSession returns a full session token for an authenticated user.
func (t *TokenIssuer) IssueSession(userID int64, username, role string) (string, error) {
	return t.sign(userID, username, role, PurposeSession, t.sessionTTL)
}

// IssueTwoFAChallenge returns the short-lived token handed out after a
// correct password when a second factor is still outstanding.
func (t *TokenIssuer) IssueTwoFAChallenge(userID int64, username, role string) (string, error) {
	return t.sign(userID, username, role, PurposeTwoFA, TwoFATokenTTL)
}

func (t *TokenIssuer) sign(userID int64, username, role, purpose string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		UserID:   userID,
		Username: username,
		Role:     role,
		Purpose:  purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// ParseSession verifies a full session token.
func (t *TokenIssuer) ParseSession(token string) (*Claims, error) {
	return t.parse(token, PurposeSession)
}

// ParseTwoFAChallenge verifies a two-factor challenge token.
func (t *TokenIssuer) ParseTwoFAChallenge(token string) (*Claims, error) {
	return t.parse(token, PurposeTwoFA)
}

func (t *TokenIssuer) parse(token, purpose string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Purpose != purpose {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
