// Package auth verifies bearer tokens and exposes the acting principal to handlers.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"

	"toko/internal/apperr"
)

// Roles carried in tokens.
const (
	RoleAdmin   = "admin"
	RoleStaff   = "staff"
	RoleCourier = "courier"
)

const actorKey = "auth.actor"

// Claims are the JWT claims of a tenant user.
type Claims struct {
	BusinessID       string `json:"business_id"`
	Role             string `json:"role"`
	DeliveryPersonID string `json:"delivery_person_id,omitempty"`
	jwt.RegisteredClaims
}

// Actor is the authenticated principal of a request.
type Actor struct {
	UserID           string
	BusinessID       string
	Role             string
	DeliveryPersonID string
}

// IsCourier reports whether the actor acts as a delivery person.
func (a Actor) IsCourier() bool {
	return a.Role == RoleCourier
}

// Verifier signs and checks HS256 tokens.
type Verifier struct {
	secret []byte
	now    func() time.Time
}

// NewVerifier returns a verifier for secret.
func NewVerifier(secret string) (*Verifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("jwt secret is required")
	}
	return &Verifier{secret: []byte(secret), now: time.Now}, nil
}

// Issue signs a token for claims valid for ttl.
func (v *Verifier) Issue(claims Claims, ttl time.Duration) (string, error) {
	now := v.now()
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Parse validates tokenStr and returns its actor.
func (v *Verifier) Parse(tokenStr string) (Actor, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || token == nil || !token.Valid {
		return Actor{}, apperr.Unauthorized("invalid or expired token")
	}
	if claims.BusinessID == "" {
		return Actor{}, apperr.Unauthorized("token has no business")
	}
	switch claims.Role {
	case RoleAdmin, RoleStaff:
	case RoleCourier:
		if claims.DeliveryPersonID == "" {
			return Actor{}, apperr.Unauthorized("courier token has no delivery person")
		}
	default:
		return Actor{}, apperr.Unauthorized("unknown role")
	}
	return Actor{
		UserID:           claims.Subject,
		BusinessID:       claims.BusinessID,
		Role:             claims.Role,
		DeliveryPersonID: claims.DeliveryPersonID,
	}, nil
}

// Middleware requires a valid bearer token. Websocket upgrades may pass it as the token query parameter.
func Middleware(v *Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr, err := bearer(c)
		if err != nil {
			_ = c.Error(err)
			c.Abort()
			return
		}
		actor, err := v.Parse(tokenStr)
		if err != nil {
			_ = c.Error(err)
			c.Abort()
			return
		}
		c.Set(actorKey, actor)
		c.Next()
	}
}

// RequireRole rejects actors whose role is not listed.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := ActorFrom(c)
		for _, r := range roles {
			if actor.Role == r {
				c.Next()
				return
			}
		}
		_ = c.Error(apperr.Forbidden("role not allowed"))
		c.Abort()
	}
}

// ActorFrom returns the actor stored by Middleware.
func ActorFrom(c *gin.Context) Actor {
	if v, ok := c.Get(actorKey); ok {
		if actor, ok := v.(Actor); ok {
			return actor
		}
	}
	return Actor{}
}

func bearer(c *gin.Context) (string, error) {
	header := c.GetHeader("Authorization")
	if header == "" {
		if q := c.Query("token"); q != "" {
			return q, nil
		}
		return "", apperr.Unauthorized("token is required")
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return "", apperr.Unauthorized("invalid token format")
	}
	return strings.TrimSpace(header[len("Bearer "):]), nil
}
