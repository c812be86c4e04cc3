package api

import (
	"fmt"
	"strings"

	"carvo/internal/apperr"
	"carvo/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	ctxUserID = "user_id"
	ctxRole   = "user_role"
)

var jwtSigningMethod = jwt.SigningMethodHS256

// AuthConfig holds the token signing settings
type AuthConfig struct {
	JWTSecret string
	JWTIssuer string
}

// Claims are the access token claims issued by the auth service
type Claims struct {
	UserID int64  `json:"user_id"`
	Role   string `json:"role"`
	Email  string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

func parseToken(cfg AuthConfig, tokenString string) (*Claims, error) {
	claims := &Claims{}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwtSigningMethod.Alg()})}
	if cfg.JWTIssuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.JWTIssuer))
	}

	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwtSigningMethod {
			return nil, fmt.Errorf("unexpected signing method %s", token.Header["alg"])
		}
		return []byte(cfg.JWTSecret), nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if claims.UserID <= 0 || claims.Role == "" {
		return nil, fmt.Errorf("token is missing user_id or role")
	}
	return claims, nil
}

// AuthMiddleware requires a valid bearer token and stores the caller in the context
func AuthMiddleware(cfg AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		tokenString, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || tokenString == "" {
			abortWithError(c, apperr.New(apperr.CodeUnauthorized, "missing bearer token"))
			return
		}

		claims, err := parseToken(cfg, tokenString)
		if err != nil {
			abortWithError(c, apperr.Wrap(apperr.CodeUnauthorized, err, "invalid token"))
			return
		}

		c.Set(ctxUserID, claims.UserID)
		c.Set(ctxRole, claims.Role)
		c.Next()
	}
}

// RequireRole rejects callers whose role is not listed
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString(ctxRole)
		for _, r := range roles {
			if role == r {
				c.Next()
				return
			}
		}
		abortWithError(c, apperr.Forbidden("insufficient role"))
	}
}

func actorFrom(c *gin.Context) service.Actor {
	return service.Actor{
		UserID: c.GetInt64(ctxUserID),
		Role:   c.GetString(ctxRole),
	}
}
