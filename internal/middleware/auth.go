package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

// ServiceClaims claims of a service-to-service token
type ServiceClaims struct {
	Service string   `json:"service"`
	Scopes  []string `json:"scopes,omitempty"`
	jwt.RegisteredClaims
}

// AuthMiddleware JWT bearer authentication (HS256)
type AuthMiddleware struct {
	secret []byte
	issuer string
	logger *logrus.Logger
	now    func() time.Time
}

// NewAuthMiddleware creates the JWT middleware
func NewAuthMiddleware(secret, issuer string, logger *logrus.Logger) (*AuthMiddleware, error) {
	if len(secret) < 16 {
		return nil, errors.New("jwt secret must be at least 16 characters")
	}
	if issuer == "" {
		issuer = "credit-backend"
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &AuthMiddleware{secret: []byte(secret), issuer: issuer, logger: logger, now: time.Now}, nil
}

// GenerateToken mints a token for service, valid for ttl
func (a *AuthMiddleware) GenerateToken(service string, scopes []string, ttl time.Duration) (string, error) {
	if service == "" {
		return "", errors.New("service name is required")
	}
	now := a.now()
	claims := ServiceClaims{
		Service: service,
		Scopes:  scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer,
			Subject:   service,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// ValidateToken verifies signature, algorithm, issuer and expiry
func (a *AuthMiddleware) ValidateToken(tokenString string) (*ServiceClaims, error) {
	claims := &ServiceClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(a.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("token is not valid")
	}
	return claims, nil
}

// RequireAuth rejects requests without a valid bearer token
func (a *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		fields := logrus.Fields{
			"path":   c.Request.URL.Path,
			"method": c.Request.Method,
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			a.logger.WithFields(fields).Warn("JWT auth failed - missing Authorization header")
			abortUnauthorized(c, "MISSING_AUTH_HEADER", "Missing Authorization header. Please provide a valid JWT token.")
			return
		}
		if !strings.HasPrefix(authHeader, "Bearer ") {
			a.logger.WithFields(fields).Warn("JWT auth failed - invalid Authorization format")
			abortUnauthorized(c, "INVALID_AUTH_FORMAT", "Authorization header must be in format: Bearer <token>")
			return
		}
		tokenString := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		if tokenString == "" {
			a.logger.WithFields(fields).Warn("JWT auth failed - empty token")
			abortUnauthorized(c, "EMPTY_TOKEN", "Token cannot be empty")
			return
		}

		claims, err := a.ValidateToken(tokenString)
		if err != nil {
			a.logger.WithFields(fields).WithError(err).Warn("JWT auth failed - token rejected")
			abortUnauthorized(c, "INVALID_TOKEN", "Invalid or expired token")
			return
		}

		c.Set("service", claims.Service)
		c.Set("scopes", claims.Scopes)
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, code, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"success": false,
		"code":    code,
		"message": message,
	})
}

// RequireScope rejects tokens that do not carry scope. Must run after RequireAuth.
func (a *AuthMiddleware) RequireScope(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		scopes, _ := c.Get("scopes")
		if granted, ok := scopes.([]string); ok {
			for _, s := range granted {
				if s == scope {
					c.Next()
					return
				}
			}
		}
		a.logger.WithFields(logrus.Fields{
			"path":  c.Request.URL.Path,
			"scope": scope,
		}).Warn("JWT auth failed - missing scope")
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"success": false,
			"code":    "INSUFFICIENT_SCOPE",
			"message": "Token is not allowed to call this API",
		})
	}
}
