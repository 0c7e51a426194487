// Package authstub is the minimal external auth collaborator spec §1
// names as out of scope to implement fully: this gateway never issues
// or refreshes tokens, it only validates a bearer token presented on
// session init and reads the caller identity out of its claims.
// Grounded on the teacher's internal/domains/user.Claims shape and its
// AuthMiddleware's header-parsing convention, trimmed to validate-only.
package authstub

import (
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingHeader = errors.New("authorization header required")
	ErrMalformed     = errors.New("invalid authorization format")
	ErrInvalidToken  = errors.New("invalid token")
)

// Claims mirrors the teacher's domains/user.Claims shape.
type Claims struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// Validator checks bearer tokens against a shared secret. It does not
// issue, refresh, or store tokens — that is the external auth
// service's job.
type Validator struct {
	secret []byte
}

func New(secret string) *Validator {
	return &Validator{secret: []byte(secret)}
}

// ValidateToken parses and verifies tokenString, returning its claims.
func (v *Validator) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// FromHeader extracts and validates the bearer token from an
// Authorization header value.
func (v *Validator) FromHeader(authHeader string) (*Claims, error) {
	if authHeader == "" {
		return nil, ErrMissingHeader
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return nil, ErrMalformed
	}
	tokenString := strings.TrimPrefix(authHeader, "Bearer ")
	if tokenString == "" {
		return nil, ErrMalformed
	}
	return v.ValidateToken(tokenString)
}

// Middleware gates any HTTP route (including the WebSocket upgrade
// routes, which still arrive as a normal HTTP request before the
// protocol switch) behind a valid bearer token, stashing the claims on
// the gin context the way the teacher's AuthMiddleware does.
func (v *Validator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := v.FromHeader(c.GetHeader("Authorization"))
		if err != nil {
			c.JSON(401, gin.H{"error": err.Error()})
			c.Abort()
			return
		}
		c.Set("userID", claims.UserID)
		c.Set("email", claims.Email)
		c.Set("claims", claims)
		c.Next()
	}
}

// IssueForTesting mints a short-lived token, used only by integration
// tests that need a valid bearer token without a real auth service.
func (v *Validator) IssueForTesting(userID, email string, ttl time.Duration) (string, error) {
	claims := Claims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
