package api

import (
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"mpesa-callback-service/internal/logcontext"
)

const (
	RequestIDHeader = "X-Request-ID"
	PrincipalKey    = "principal"
)

var (
	errMissingToken = errors.New("missing bearer token")
	errNoSubject    = errors.New("token has no subject")
)

// RequestLogger tags the request context with a request id and logs one line
// per request.
func RequestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Header(RequestIDHeader, requestID)

		ctx := logcontext.AppendCtx(c.Request.Context(), slog.String("requestId", requestID))
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		logger.InfoContext(ctx, "Request handled",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"latencyMs", time.Since(start).Milliseconds(),
		)
	}
}

func Recovery(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.ErrorContext(c.Request.Context(), "Panic recovered", "panic", err, "stack", string(debug.Stack()))
				c.AbortWithStatusJSON(http.StatusInternalServerError, MessageResponse{Message: "Internal server error"})
			}
		}()
		c.Next()
	}
}

// RequireBearer resolves the caller from an HS256 bearer token and stores the
// token subject under PrincipalKey. Requests without a valid token get 401.
func RequireBearer(secret string, logger *slog.Logger) gin.HandlerFunc {
	key := []byte(secret)

	return func(c *gin.Context) {
		principal, err := authenticate(c.GetHeader("Authorization"), key)
		if err != nil {
			logger.WarnContext(c.Request.Context(), "Rejected unauthenticated request", "error", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, MessageResponse{Message: "Unauthorized"})
			return
		}

		c.Set(PrincipalKey, principal)
		c.Next()
	}
}

func authenticate(header string, key []byte) (string, error) {
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return "", errMissingToken
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", errors.Wrap(err, "parsing token")
	}

	if claims.Subject == "" {
		return "", errNoSubject
	}
	return claims.Subject, nil
}

// Principal returns the subject stored by RequireBearer.
func Principal(c *gin.Context) (string, bool) {
	v, ok := c.Get(PrincipalKey)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
