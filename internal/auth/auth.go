// Package auth verifies bearer tokens and carries the caller through requests.
package auth

import (
	"fmt"
	"strings"
	"time"

	"cravvr/internal/apperr"
	"cravvr/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const principalKey = "cravvr.principal"

// Verifier validates HS256 tokens whose subject is the user id
type Verifier struct {
	secret []byte
}

// NewVerifier creates a verifier for the shared secret
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses a token and returns its principal
func (v *Verifier) Verify(tokenStr string) (models.Principal, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return models.Principal{}, apperr.New(apperr.Unauthenticated, "invalid token")
	}

	sub, err := token.Claims.GetSubject()
	if err != nil {
		return models.Principal{}, apperr.New(apperr.Unauthenticated, "invalid token subject")
	}
	userID, err := uuid.Parse(sub)
	if err != nil {
		return models.Principal{}, apperr.New(apperr.Unauthenticated, "invalid token subject")
	}
	return models.Principal{UserID: userID}, nil
}

// Issue signs a token for userID valid for ttl
func (v *Verifier) Issue(userID uuid.UUID, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Middleware rejects requests without a valid bearer token and stores the principal on the context
func Middleware(v *Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		parts := strings.Fields(header)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			abort(c, apperr.New(apperr.Unauthenticated, "missing bearer token"))
			return
		}

		principal, err := v.Verify(parts[1])
		if err != nil {
			abort(c, err)
			return
		}
		c.Set(principalKey, principal)
		c.Next()
	}
}

// PrincipalFrom returns the caller stored by Middleware
func PrincipalFrom(c *gin.Context) (models.Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return models.Principal{}, false
	}
	p, ok := v.(models.Principal)
	return p, ok
}

func abort(c *gin.Context, err error) {
	c.AbortWithStatusJSON(apperr.HTTPStatus(err), gin.H{
		"error": apperr.PublicMessage(err),
		"kind":  apperr.KindOf(err),
	})
}
