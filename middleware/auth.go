package middleware

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"ibstudy-server/models"
)

// SessionCookie holds the session JWT for browser clients.
const SessionCookie = "ib_session"

// CSRFHeader must accompany state-changing requests authenticated by cookie.
const CSRFHeader = "X-CSRF-Token"

// CSRFFormField carries the token for plain HTML form posts from the admin pages.
const CSRFFormField = "csrf_token"

// Claims are the session JWT claims. Subject is the user id, ID is the session id.
type Claims struct {
	Email string   `json:"email"`
	Roles []string `json:"roles"`
	Plan  string   `json:"plan"`
	jwt.RegisteredClaims
}

// IssueToken signs a session token for u and returns it with its session id.
func IssueToken(signingKey, issuer string, u models.User, ttl time.Duration) (string, string, error) {
	now := time.Now()
	sessionID := uuid.NewString()
	claims := Claims{
		Email: u.Email,
		Roles: u.Roles,
		Plan:  u.Plan,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        sessionID,
			Subject:   u.ID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(signingKey))
	if err != nil {
		return "", "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, sessionID, nil
}

// ParseToken validates a session token.
func ParseToken(tokenString, signingKey, issuer string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(signingKey), nil
	}, jwt.WithIssuer(issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" || claims.ID == "" {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

// tokenFromRequest prefers the Authorization header and falls back to the cookie.
func tokenFromRequest(c *gin.Context) (token string, fromCookie bool, err error) {
	if h := c.GetHeader("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if !(len(parts) == 2 && strings.ToLower(parts[0]) == "bearer") {
			return "", false, errors.New("Authorization header format must be Bearer {token}")
		}
		return parts[1], false, nil
	}
	if ck, err := c.Cookie(SessionCookie); err == nil && ck != "" {
		return ck, true, nil
	}
	return "", false, errors.New("Authentication required")
}

// csrfFromRequest reads the CSRF header, or the form field on urlencoded posts.
func csrfFromRequest(c *gin.Context) string {
	if t := c.GetHeader(CSRFHeader); t != "" {
		return t
	}
	if c.ContentType() == binding.MIMEPOSTForm {
		return c.PostForm(CSRFFormField)
	}
	return ""
}

func safeMethod(m string) bool {
	return m == http.MethodGet || m == http.MethodHead || m == http.MethodOptions
}

// AuthMiddleware validates the session token from the Authorization header or the
// session cookie and sets user_id, user_email, user_roles, user_plan and session_id.
// Cookie-authenticated writes must carry a valid CSRF header.
func AuthMiddleware(signingKey, issuer string, csrf *CSRFGenerator) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, fromCookie, err := tokenFromRequest(c)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		claims, err := ParseToken(tokenString, signingKey, issuer)
		if err != nil {
			log.Printf("JWT parsing error: %v", err)
			switch {
			case errors.Is(err, jwt.ErrTokenSignatureInvalid):
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token signature"})
			case errors.Is(err, jwt.ErrTokenExpired):
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Token expired"})
			case errors.Is(err, jwt.ErrTokenInvalidIssuer):
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token issuer"})
			default:
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			}
			return
		}
		if fromCookie && !safeMethod(c.Request.Method) && !csrf.ValidateToken(claims.ID, csrfFromRequest(c)) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Invalid or missing CSRF token"})
			return
		}

		c.Set("user_id", claims.Subject)
		c.Set("user_email", claims.Email)
		c.Set("user_roles", claims.Roles)
		c.Set("user_plan", claims.Plan)
		c.Set("session_id", claims.ID)
		c.Set("csrf_token", csrf.Token(claims.ID))
		c.Next()
	}
}

// RoleCheckMiddleware checks if the user has one of the required roles.
func RoleCheckMiddleware(requiredRoles []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userRoles, exists := c.Get("user_roles")
		if !exists {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "User roles not found in context"})
			return
		}
		roles, ok := userRoles.([]string)
		if !ok {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Invalid user roles format"})
			return
		}
		for _, required := range requiredRoles {
			for _, role := range roles {
				if role == required {
					c.Next()
					return
				}
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Insufficient permissions"})
	}
}

var planRank = map[string]int{models.PlanFree: 0, models.PlanPremium: 1}

// PlanLookup returns a user's current plan.
type PlanLookup func(ctx context.Context, userID string) (string, error)

// PlanRequired rejects users whose current plan ranks below plan. The plan is looked
// up on every request so upgrades apply without a new session.
func PlanRequired(plan string, lookup PlanLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		current, err := lookup(c.Request.Context(), c.GetString("user_id"))
		if err != nil {
			log.Printf("Plan lookup for %s failed: %v", c.GetString("user_id"), err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to check plan"})
			return
		}
		if planRank[current] < planRank[plan] {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":         "This feature requires the " + plan + " plan",
				"required_plan": plan,
			})
			return
		}
		c.Set("user_plan", current)
		c.Next()
	}
}

// Logger middleware for request logging
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		t := time.Now()
		c.Next()
		latency := time.Since(t)
		log.Printf("[IBSTUDY] %s %s %s %d %s", c.Request.Method, c.Request.URL.Path, c.Request.Proto, c.Writer.Status(), latency)
	}
}
