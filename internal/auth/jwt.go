// AngelaMos | 2026
// jwt.go

package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/lestrrat-go/jwx/v3/jwt"

	"github.com/carterperez-dev/goldsave/internal/config"
	"github.com/carterperez-dev/goldsave/internal/core"
	"github.com/carterperez-dev/goldsave/internal/middleware"
)

const accessTokenType = "access"

// TokenCodec signs HS256 access tokens with a server-held secret and mints
// opaque refresh secrets. It keeps no per-token state.
type TokenCodec struct {
	key    jwk.Key
	config config.JWTConfig
	clock  core.Clock
}

func NewTokenCodec(cfg config.JWTConfig, clock core.Clock) (*TokenCodec, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("token codec: empty signing secret")
	}

	key, err := jwk.Import([]byte(cfg.Secret))
	if err != nil {
		return nil, fmt.Errorf("import signing key: %w", err)
	}

	if setErr := key.Set(jwk.AlgorithmKey, jwa.HS256()); setErr != nil {
		return nil, fmt.Errorf("set algorithm: %w", setErr)
	}

	if clock == nil {
		clock = core.SystemClock{}
	}

	return &TokenCodec{
		key:    key,
		config: cfg,
		clock:  clock,
	}, nil
}

type AccessTokenClaims struct {
	UserID string
	Email  string
	Role   string
}

func (c *TokenCodec) IssueAccessToken(
	claims AccessTokenClaims,
) (string, time.Time, error) {
	now := c.clock.Now()
	expiresAt := now.Add(c.config.AccessTokenExpire)

	token, err := jwt.NewBuilder().
		JwtID(uuid.New().String()).
		Issuer(c.config.Issuer).
		Audience([]string{c.config.Audience}).
		Subject(claims.UserID).
		IssuedAt(now).
		NotBefore(now).
		Expiration(expiresAt).
		Claim("email", claims.Email).
		Claim("role", claims.Role).
		Claim("type", accessTokenType).
		Build()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("build token: %w", err)
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256(), c.key))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}

	return string(signed), expiresAt, nil
}

func (c *TokenCodec) VerifyAccessToken(
	_ context.Context,
	tokenString string,
) (*middleware.AccessTokenClaims, error) {
	token, err := jwt.Parse(
		[]byte(tokenString),
		jwt.WithKey(jwa.HS256(), c.key),
		jwt.WithValidate(true),
		jwt.WithClock(jwt.ClockFunc(c.clock.Now)),
		jwt.WithIssuer(c.config.Issuer),
		jwt.WithAudience(c.config.Audience),
	)
	if err != nil {
		if isTokenExpiredError(err) {
			return nil, fmt.Errorf("verify token: %w", core.ErrTokenExpired)
		}
		return nil, fmt.Errorf("verify token: %w", core.ErrTokenInvalid)
	}

	var tokenType string
	if err := token.Get("type", &tokenType); err != nil ||
		tokenType != accessTokenType {
		return nil, fmt.Errorf(
			"verify token: invalid token type: %w",
			core.ErrTokenInvalid,
		)
	}

	subject, ok := token.Subject()
	if !ok || subject == "" {
		return nil, fmt.Errorf(
			"verify token: missing subject: %w",
			core.ErrTokenInvalid,
		)
	}

	var email string
	if err := token.Get("email", &email); err != nil {
		return nil, fmt.Errorf(
			"verify token: missing email claim: %w",
			core.ErrTokenInvalid,
		)
	}

	var role string
	if err := token.Get("role", &role); err != nil {
		return nil, fmt.Errorf(
			"verify token: missing role claim: %w",
			core.ErrTokenInvalid,
		)
	}

	return &middleware.AccessTokenClaims{
		UserID: subject,
		Email:  email,
		Role:   role,
	}, nil
}

func isTokenExpiredError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "exp") &&
		strings.Contains(msg, "not satisfied")
}

// IssueRefreshSecret returns a new plain refresh secret and its storage hash.
func (c *TokenCodec) IssueRefreshSecret() (secret, hash string, err error) {
	secret, err = core.GenerateRefreshSecret()
	if err != nil {
		return "", "", fmt.Errorf("generate refresh secret: %w", err)
	}
	return secret, core.HashToken(secret), nil
}

// RefreshExpiry is always a full window from now, including on rotation.
func (c *TokenCodec) RefreshExpiry() time.Time {
	return c.clock.Now().Add(c.config.RefreshTokenExpire)
}

func (c *TokenCodec) AccessTokenTTL() time.Duration {
	return c.config.AccessTokenExpire
}
