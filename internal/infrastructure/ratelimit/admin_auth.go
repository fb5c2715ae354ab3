// admin_auth.go: Bearer token authentication for the admin API
package ratelimit

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// AdminSubjectKey is the gin context key holding the authenticated admin.
const AdminSubjectKey = "admin_subject"

var (
	// ErrInvalidAdminToken covers malformed, expired, wrongly signed and
	// foreign-issuer tokens.
	ErrInvalidAdminToken = errors.New("invalid admin token")
	// ErrNotAdmin is returned for a valid token without an admin role.
	ErrNotAdmin = errors.New("token does not carry an admin role")
)

// adminRoles are the accepted role claims, compared case-insensitively.
var adminRoles = map[string]struct{}{
	"admin":      {},
	"superadmin": {},
}

// AdminClaims are the token claims the admin API accepts
type AdminClaims struct {
	Email string   `json:"email,omitempty"`
	Role  string   `json:"role"`
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// AdminAuthenticator validates HS256 admin tokens
type AdminAuthenticator struct {
	secret []byte
	issuer string
	logger *zap.Logger
}

// NewAdminAuthenticator creates an authenticator. An empty issuer accepts
// tokens from any issuer.
func NewAdminAuthenticator(secret, issuer string, logger *zap.Logger) *AdminAuthenticator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminAuthenticator{secret: []byte(secret), issuer: issuer, logger: logger}
}

// IssueToken signs an admin token; used by tooling and tests.
func (a *AdminAuthenticator) IssueToken(subject, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := AdminClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// ValidateAdminToken parses token and checks it carries an admin role.
func (a *AdminAuthenticator) ValidateAdminToken(token string) (*AdminClaims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	claims := &AdminClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAdminToken, err)
	}
	if !hasAdminRole(claims.Role, claims.Roles) {
		return nil, ErrNotAdmin
	}
	return claims, nil
}

// Middleware rejects requests without a valid admin bearer token.
func (a *AdminAuthenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		parts := strings.Fields(auth)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, AdminAPIResponse{
				Error: "missing bearer token", Timestamp: time.Now().UTC(), RequestID: requestID(c),
			})
			return
		}
		claims, err := a.ValidateAdminToken(parts[1])
		if err != nil {
			a.logger.Warn("Admin token rejected", zap.String("path", c.Request.URL.Path), zap.Error(err))
			status, msg := http.StatusUnauthorized, "invalid bearer token"
			if errors.Is(err, ErrNotAdmin) {
				status, msg = http.StatusForbidden, "admin access required"
			}
			c.AbortWithStatusJSON(status, AdminAPIResponse{
				Error: msg, Timestamp: time.Now().UTC(), RequestID: requestID(c),
			})
			return
		}
		c.Set(AdminSubjectKey, claims.Subject)
		c.Next()
	}
}

func hasAdminRole(role string, roles []string) bool {
	for _, r := range append([]string{role}, roles...) {
		if _, ok := adminRoles[strings.ToLower(strings.TrimSpace(r))]; ok {
			return true
		}
	}
	return false
}
