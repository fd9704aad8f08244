package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	"payments-backend/apperr"
	"payments-backend/clock"
)

// hs256MinKeyLen is the minimum HMAC-SHA256 key size in bytes, per
// RFC 7518 section 3.2.
const hs256MinKeyLen = 32

const bearerPrefix = "Bearer "

// mediaType marks a JWT as an OAuth 2.0 access token (RFC 9068). Tokens
// without it are rejected so a generic JWT signed with the same key
// cannot be replayed as an access token.
const (
	mediaType     = "at+jwt"
	mediaTypeFull = "application/at+jwt"
)

// AccessTokenClaims is the claim set of an access token. client_id is a
// private claim carrying the configured OAuth client identifier
// (RFC 8693 section 4.3).
type AccessTokenClaims struct {
	ClientID string `json:"client_id"`
	jwt.RegisteredClaims
}

// TokenConfig holds the fixed token parameters shared by issuer and
// validator.
type TokenConfig struct {
	SigningKey []byte
	Issuer     string
	Audience   string
	ClientID   string
	Lifetime   time.Duration
}

func (c TokenConfig) validate() error {
	if len(c.SigningKey) < hs256MinKeyLen {
		return fmt.Errorf("signing key must be at least %d bytes, got %d", hs256MinKeyLen, len(c.SigningKey))
	}
	if c.Issuer == "" || c.Audience == "" || c.ClientID == "" {
		return errors.New("issuer, audience and client id must be configured")
	}
	if c.Lifetime <= 0 {
		return fmt.Errorf("token lifetime must be positive, got %s", c.Lifetime)
	}
	return nil
}

// TokenIssuer mints signed, time-bounded access tokens for verified
// principals.
type TokenIssuer struct {
	cfg   TokenConfig
	clock clock.Clock
}

func NewTokenIssuer(cfg TokenConfig, clk clock.Clock) (*TokenIssuer, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("token issuer: %w", err)
	}
	return &TokenIssuer{cfg: cfg, clock: clk}, nil
}

// Issue signs a fresh access token for userID. The only failure mode is
// an encoding error; configuration was validated at construction.
func (i *TokenIssuer) Issue(userID uuid.UUID) (string, error) {
	now := i.clock.Now()
	claims := &AccessTokenClaims{
		ClientID: i.cfg.ClientID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.cfg.Issuer,
			Audience:  jwt.ClaimStrings{i.cfg.Audience},
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.cfg.Lifetime)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["typ"] = mediaType

	signed, err := token.SignedString(i.cfg.SigningKey)
	if err != nil {
		return "", fmt.Errorf("could not sign access token: %w", err)
	}
	return signed, nil
}

// TokenValidator turns a raw Authorization header value into an
// authenticated principal. Pure apart from the clock read.
type TokenValidator struct {
	cfg    TokenConfig
	clock  clock.Clock
	parser *jwt.Parser
}

func NewTokenValidator(cfg TokenConfig, clk clock.Clock) (*TokenValidator, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("token validator: %w", err)
	}
	return &TokenValidator{
		cfg:   cfg,
		clock: clk,
		// Claim values are checked one by one below so each rejection
		// carries the reason for exactly the check that failed.
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
	}, nil
}

// Authenticate runs the ordered validation chain over the Authorization
// header value and returns the token subject as the principal. Each step
// short-circuits; the absence of a header carries no detail (RFC 6750
// section 3.1).
func (v *TokenValidator) Authenticate(authorizationHeader string) (uuid.UUID, error) {
	if authorizationHeader == "" {
		return uuid.Nil, apperr.New(apperr.Unauthenticated, "")
	}

	for _, c := range authorizationHeader {
		if c < 0x20 || c > 0x7e {
			return uuid.Nil, apperr.New(apperr.MalformedRequest,
				"the Authorization header value contains invalid characters")
		}
	}

	if len(authorizationHeader) < len(bearerPrefix) ||
		!strings.EqualFold(authorizationHeader[:len(bearerPrefix)], bearerPrefix) {
		return uuid.Nil, apperr.New(apperr.Unauthenticated, "")
	}
	raw := strings.TrimLeft(authorizationHeader[len(bearerPrefix):], " ")
	if raw == "" {
		return uuid.Nil, apperr.New(apperr.Unauthenticated, "")
	}

	claims := &AccessTokenClaims{}
	token, err := v.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return v.cfg.SigningKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return uuid.Nil, apperr.Wrap(apperr.InvalidToken, "bad signature", err)
		}
		return uuid.Nil, apperr.Wrap(apperr.InvalidToken, "malformed token", err)
	}

	if typ, _ := token.Header["typ"].(string); typ != mediaType && typ != mediaTypeFull {
		return uuid.Nil, apperr.New(apperr.InvalidToken, `"typ" header parameter mismatch`)
	}

	if err := v.checkClaims(claims); err != nil {
		return uuid.Nil, err
	}

	subject, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, apperr.New(apperr.InvalidToken, "bad subject")
	}
	return subject, nil
}

func (v *TokenValidator) checkClaims(claims *AccessTokenClaims) error {
	switch {
	case claims.Issuer == "":
		return apperr.New(apperr.InvalidToken, `missing "iss" claim`)
	case claims.ExpiresAt == nil:
		return apperr.New(apperr.InvalidToken, `missing "exp" claim`)
	case len(claims.Audience) == 0:
		return apperr.New(apperr.InvalidToken, `missing "aud" claim`)
	case claims.Subject == "":
		return apperr.New(apperr.InvalidToken, `missing "sub" claim`)
	case claims.IssuedAt == nil:
		return apperr.New(apperr.InvalidToken, `missing "iat" claim`)
	case claims.ID == "":
		return apperr.New(apperr.InvalidToken, `missing "jti" claim`)
	}

	if claims.Issuer != v.cfg.Issuer {
		return apperr.New(apperr.InvalidToken, `"iss" claim mismatch`)
	}
	audienceMatch := false
	for _, aud := range claims.Audience {
		if aud == v.cfg.Audience {
			audienceMatch = true
			break
		}
	}
	if !audienceMatch {
		return apperr.New(apperr.InvalidToken, `"aud" claim mismatch`)
	}

	// A token is stale either when exp has passed or when iat is older
	// than the configured lifetime, whichever the token claims.
	now := v.clock.Now()
	if now.After(claims.ExpiresAt.Time) {
		return apperr.New(apperr.InvalidToken, "expired")
	}
	if claims.IssuedAt.Time.Add(v.cfg.Lifetime).Before(now) {
		return apperr.New(apperr.InvalidToken, "expired")
	}

	if claims.ClientID != v.cfg.ClientID {
		return apperr.New(apperr.InvalidToken, `"client_id" claim mismatch`)
	}
	return nil
}
