package auth

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payments-backend/apperr"
	"payments-backend/clock"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func testTokenConfig() TokenConfig {
	return TokenConfig{
		SigningKey: testKey,
		Issuer:     "https://issuer.example",
		Audience:   "https://audience.example",
		ClientID:   "9bd4d9ff-f7ff-4b19-bf10-6bb61e1ae176",
		Lifetime:   15 * time.Minute,
	}
}

// testClock is a settable clock shared by issuer and validator tests.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newIssuerValidator(t *testing.T, cfg TokenConfig, clk clock.Clock) (*TokenIssuer, *TokenValidator) {
	t.Helper()
	issuer, err := NewTokenIssuer(cfg, clk)
	require.NoError(t, err)
	validator, err := NewTokenValidator(cfg, clk)
	require.NoError(t, err)
	return issuer, validator
}

func requireKind(t *testing.T, err error, kind apperr.Kind) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, kind, apperr.KindOf(err))
}

func TestIssueAuthenticateRoundtrip(t *testing.T) {
	clk := newTestClock()
	issuer, validator := newIssuerValidator(t, testTokenConfig(), clk)

	userID := uuid.New()
	token, err := issuer.Issue(userID)
	require.NoError(t, err)
	assert.Len(t, strings.Split(token, "."), 3)

	principal, err := validator.Authenticate("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, userID, principal)
}

func TestAuthenticateSchemeCaseInsensitive(t *testing.T) {
	clk := newTestClock()
	issuer, validator := newIssuerValidator(t, testTokenConfig(), clk)

	token, err := issuer.Issue(uuid.New())
	require.NoError(t, err)

	_, err = validator.Authenticate("bearer " + token)
	assert.NoError(t, err)
	_, err = validator.Authenticate("BEARER   " + token)
	assert.NoError(t, err)
}

func TestAuthenticateMissingHeader(t *testing.T) {
	clk := newTestClock()
	_, validator := newIssuerValidator(t, testTokenConfig(), clk)

	_, err := validator.Authenticate("")
	requireKind(t, err, apperr.Unauthenticated)
	// Absence of credentials carries no detail.
	assert.Empty(t, apperr.DetailOf(err))
}

func TestAuthenticateNonPrintableHeader(t *testing.T) {
	clk := newTestClock()
	_, validator := newIssuerValidator(t, testTokenConfig(), clk)

	_, err := validator.Authenticate("Bearer abc\x00def")
	requireKind(t, err, apperr.MalformedRequest)

	_, err = validator.Authenticate("Bearer tokén")
	requireKind(t, err, apperr.MalformedRequest)
}

func TestAuthenticateWrongScheme(t *testing.T) {
	clk := newTestClock()
	_, validator := newIssuerValidator(t, testTokenConfig(), clk)

	_, err := validator.Authenticate("Basic dXNlcjpwYXNz")
	requireKind(t, err, apperr.Unauthenticated)

	_, err = validator.Authenticate("Bearer ")
	requireKind(t, err, apperr.Unauthenticated)
}

func TestAuthenticateBitFlips(t *testing.T) {
	clk := newTestClock()
	issuer, validator := newIssuerValidator(t, testTokenConfig(), clk)

	token, err := issuer.Issue(uuid.New())
	require.NoError(t, err)

	// Corrupt every byte of the payload and signature segments in turn;
	// each corruption must be rejected as an invalid token.
	start := strings.Index(token, ".") + 1
	for i := start; i < len(token); i++ {
		if token[i] == '.' {
			continue
		}
		corrupted := []byte(token)
		corrupted[i] ^= 0x01
		_, err := validator.Authenticate("Bearer " + string(corrupted))
		requireKind(t, err, apperr.InvalidToken)
	}
}

func TestAuthenticateWrongKey(t *testing.T) {
	clk := newTestClock()
	otherCfg := testTokenConfig()
	otherCfg.SigningKey = []byte("ffffffffffffffffffffffffffffffff")
	otherIssuer, err := NewTokenIssuer(otherCfg, clk)
	require.NoError(t, err)

	_, validator := newIssuerValidator(t, testTokenConfig(), clk)

	token, err := otherIssuer.Issue(uuid.New())
	require.NoError(t, err)

	_, err = validator.Authenticate("Bearer " + token)
	requireKind(t, err, apperr.InvalidToken)
	assert.Equal(t, "bad signature", apperr.DetailOf(err))
}

func TestAuthenticateExpired(t *testing.T) {
	clk := newTestClock()
	issuer, validator := newIssuerValidator(t, testTokenConfig(), clk)

	token, err := issuer.Issue(uuid.New())
	require.NoError(t, err)

	clk.Advance(16 * time.Minute)

	_, err = validator.Authenticate("Bearer " + token)
	requireKind(t, err, apperr.InvalidToken)
	assert.Equal(t, "expired", apperr.DetailOf(err))
}

func TestAuthenticateStaleIssuedAt(t *testing.T) {
	// The issuer hands out a long expiry, but the validator's configured
	// lifetime still bounds how old the token's iat may be.
	clk := newTestClock()
	longCfg := testTokenConfig()
	longCfg.Lifetime = 2 * time.Hour
	issuer, err := NewTokenIssuer(longCfg, clk)
	require.NoError(t, err)

	validator, err := NewTokenValidator(testTokenConfig(), clk)
	require.NoError(t, err)

	token, err := issuer.Issue(uuid.New())
	require.NoError(t, err)

	clk.Advance(time.Hour)

	_, err = validator.Authenticate("Bearer " + token)
	requireKind(t, err, apperr.InvalidToken)
	assert.Equal(t, "expired", apperr.DetailOf(err))
}

// signRaw builds a token outside the issuer so individual header fields
// and claims can be bent.
func signRaw(t *testing.T, typ interface{}, claims jwt.Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	if typ == nil {
		delete(token.Header, "typ")
	} else {
		token.Header["typ"] = typ
	}
	signed, err := token.SignedString(testKey)
	require.NoError(t, err)
	return signed
}

func validClaims(cfg TokenConfig, now time.Time) AccessTokenClaims {
	return AccessTokenClaims{
		ClientID: cfg.ClientID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			Audience:  jwt.ClaimStrings{cfg.Audience},
			Subject:   uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(now.Add(cfg.Lifetime)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}
}

func TestAuthenticateMediaType(t *testing.T) {
	clk := newTestClock()
	cfg := testTokenConfig()
	_, validator := newIssuerValidator(t, cfg, clk)

	for _, typ := range []interface{}{"JWT", nil} {
		token := signRaw(t, typ, validClaims(cfg, clk.Now()))
		_, err := validator.Authenticate("Bearer " + token)
		requireKind(t, err, apperr.InvalidToken)
		assert.Contains(t, apperr.DetailOf(err), "typ")
	}

	// The long form of the media type is accepted too.
	token := signRaw(t, "application/at+jwt", validClaims(cfg, clk.Now()))
	_, err := validator.Authenticate("Bearer " + token)
	assert.NoError(t, err)
}

func TestAuthenticateMissingClaims(t *testing.T) {
	clk := newTestClock()
	cfg := testTokenConfig()
	_, validator := newIssuerValidator(t, cfg, clk)

	tests := []struct {
		name   string
		mutate func(*AccessTokenClaims)
	}{
		{"issuer", func(c *AccessTokenClaims) { c.Issuer = "" }},
		{"expiry", func(c *AccessTokenClaims) { c.ExpiresAt = nil }},
		{"audience", func(c *AccessTokenClaims) { c.Audience = nil }},
		{"subject", func(c *AccessTokenClaims) { c.Subject = "" }},
		{"issued-at", func(c *AccessTokenClaims) { c.IssuedAt = nil }},
		{"jti", func(c *AccessTokenClaims) { c.ID = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims := validClaims(cfg, clk.Now())
			tt.mutate(&claims)
			token := signRaw(t, "at+jwt", claims)
			_, err := validator.Authenticate("Bearer " + token)
			requireKind(t, err, apperr.InvalidToken)
			assert.Contains(t, apperr.DetailOf(err), "missing")
		})
	}
}

func TestAuthenticateClaimMismatches(t *testing.T) {
	clk := newTestClock()
	cfg := testTokenConfig()
	_, validator := newIssuerValidator(t, cfg, clk)

	tests := []struct {
		name   string
		mutate func(*AccessTokenClaims)
		detail string
	}{
		{"issuer", func(c *AccessTokenClaims) { c.Issuer = "https://evil.example" }, "iss"},
		{"audience", func(c *AccessTokenClaims) { c.Audience = jwt.ClaimStrings{"https://other.example"} }, "aud"},
		{"client id", func(c *AccessTokenClaims) { c.ClientID = uuid.NewString() }, "client_id"},
		{"subject", func(c *AccessTokenClaims) { c.Subject = "not-a-uuid" }, "bad subject"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims := validClaims(cfg, clk.Now())
			tt.mutate(&claims)
			token := signRaw(t, "at+jwt", claims)
			_, err := validator.Authenticate("Bearer " + token)
			requireKind(t, err, apperr.InvalidToken)
			assert.Contains(t, apperr.DetailOf(err), tt.detail)
		})
	}
}

func TestShortKeyRejectedAtConstruction(t *testing.T) {
	cfg := testTokenConfig()
	cfg.SigningKey = []byte("too short")

	_, err := NewTokenIssuer(cfg, clock.System{})
	require.Error(t, err)
	_, err = NewTokenValidator(cfg, clock.System{})
	require.Error(t, err)
}

func TestNonPositiveLifetimeRejected(t *testing.T) {
	cfg := testTokenConfig()
	cfg.Lifetime = 0

	_, err := NewTokenIssuer(cfg, clock.System{})
	require.Error(t, err)
}
