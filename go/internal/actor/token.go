package actor

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/placeboard/placeboard/go/internal/models"
)

// Claims is the payload of a session token minted after external-identity
// verification. Role and status are looked up fresh at resolve time; the
// claims only pin the user identity.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// TokenCodec mints and verifies HS256 session tokens.
type TokenCodec struct {
	secret []byte
	expiry time.Duration
	clock  clockwork.Clock
}

// NewTokenCodec creates a codec with the given signing secret and token lifetime.
func NewTokenCodec(secret []byte, expiry time.Duration, clock clockwork.Clock) *TokenCodec {
	return &TokenCodec{secret: secret, expiry: expiry, clock: clock}
}

// Mint issues a session token for the user.
func (c *TokenCodec) Mint(user *models.User) (string, error) {
	now := c.clock.Now()
	claims := Claims{
		Email: user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.expiry)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

// Verify checks the token signature and expiry and returns the user id.
func (c *TokenCodec) Verify(tokenString string) (uuid.UUID, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(tokenString, &claims,
		func(t *jwt.Token) (interface{}, error) { return c.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.clock.Now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: bad subject", ErrInvalidToken)
	}
	return userID, nil
}

// SignAnonID returns the HMAC-SHA256 signature binding an anonymous session
// id to this server, hex encoded.
func (c *TokenCodec) SignAnonID(anonID string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(anonID))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyAnonSig checks an anonymous session id against its signature.
func (c *TokenCodec) VerifyAnonSig(anonID, sig string) bool {
	expected := c.SignAnonID(anonID)
	return hmac.Equal([]byte(expected), []byte(sig))
}
