package api

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"courseframework/pkg/access"

	"github.com/dgrijalva/jwt-go"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const (
	tokenIssuer      = "courseframework"
	contextAccessKey = "access"
)

var errNoSecret = errors.New("jwt secret not configured")

// Claims represents the authorization claims transmitted via a JWT.
type Claims struct {
	jwt.StandardClaims
	Role        string   `json:"role"`
	Permissions []string `json:"permissions,omitempty"`
	TenantID    string   `json:"tenant_id,omitempty"`
	SystemAdmin bool     `json:"system_admin,omitempty"`
}

// AccessContext converts the claims into the access context used for
// authorization.
func (c *Claims) AccessContext() access.Context {
	return access.Context{
		Role:          access.ParseRole(c.Role),
		Permissions:   access.NewPermissions(c.Permissions...),
		TenantID:      c.TenantID,
		IsSystemAdmin: c.SystemAdmin,
	}
}

// ClaimsFor builds claims carrying actx.
func ClaimsFor(subject string, actx access.Context, ttl time.Duration) *Claims {
	now := time.Now()
	return &Claims{
		StandardClaims: jwt.StandardClaims{
			Issuer:    tokenIssuer,
			Subject:   subject,
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(ttl).Unix(),
		},
		Role:        string(actx.Role),
		Permissions: actx.Permissions.List(),
		TenantID:    actx.TenantID,
		SystemAdmin: actx.IsSystemAdmin,
	}
}

// Tokens signs and verifies HS256 tokens.
type Tokens struct {
	secret []byte
}

// NewTokens creates a token signer. An empty secret disables verification,
// so every request is anonymous.
func NewTokens(secret string) *Tokens {
	return &Tokens{secret: []byte(secret)}
}

// GenerateToken generates a signed JWT token string representing the Claims.
func (t *Tokens) GenerateToken(claims *Claims) (string, error) {
	if len(t.secret) == 0 {
		return "", errNoSecret
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	ss, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return ss, nil
}

// ParseToken verifies a token string and returns its claims.
func (t *Tokens) ParseToken(raw string) (*Claims, error) {
	if len(t.secret) == 0 {
		return nil, errNoSecret
	}
	claims := new(Claims)
	_, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// authMiddleware derives the caller's access context from a bearer token.
// Requests without a valid token proceed as anonymous; the registries then
// refuse them.
func authMiddleware(tokens *Tokens, logger *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			actx := access.Anonymous()
			if raw := bearerToken(c); raw != "" {
				claims, err := tokens.ParseToken(raw)
				if err != nil {
					logger.Debug("Rejected bearer token",
						zap.String("path", c.Path()),
						zap.Error(err))
				} else {
					actx = claims.AccessContext()
				}
			}
			c.Set(contextAccessKey, actx)
			return next(c)
		}
	}
}

// bearerToken reads the Authorization header, falling back to the token
// query parameter for websocket clients that cannot set headers.
func bearerToken(c echo.Context) string {
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return c.QueryParam("token")
}

func accessContext(c echo.Context) access.Context {
	if actx, ok := c.Get(contextAccessKey).(access.Context); ok {
		return actx
	}
	return access.Anonymous()
}
