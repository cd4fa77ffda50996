package handlers

import (
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"ibstudy-server/db"
	"ibstudy-server/middleware"
	"ibstudy-server/models"
)

// AuthOptions carries what the auth handlers need from configuration.
type AuthOptions struct {
	SigningKey     string
	Issuer         string
	SessionTTL     time.Duration
	CSRF           *middleware.CSRFGenerator
	SecureCookies  bool
	DefaultCredits int
}

func setSessionCookie(c *gin.Context, opts AuthOptions, token string) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(opts.SessionTTL.Seconds()),
		Expires:  time.Now().Add(opts.SessionTTL),
		HttpOnly: true,
		Secure:   opts.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearSessionCookie(c *gin.Context, opts AuthOptions) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   opts.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func startSession(c *gin.Context, opts AuthOptions, u models.User, status int) {
	token, sessionID, err := middleware.IssueToken(opts.SigningKey, opts.Issuer, u, opts.SessionTTL)
	if err != nil {
		log.Printf("Error issuing session for %s: %v", u.Email, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start session"})
		return
	}
	setSessionCookie(c, opts, token)
	c.JSON(status, models.LoginResponse{
		User:      profileOf(u),
		Token:     token,
		CSRFToken: opts.CSRF.Token(sessionID),
	})
}

// Register creates an account and signs it in.
// POST /api/auth/register
func Register(pool *pgxpool.Pool, opts AuthOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.RegisterRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			log.Printf("Error hashing password: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create account"})
			return
		}
		email := strings.ToLower(strings.TrimSpace(req.Email))
		u, err := db.CreateUser(c.Request.Context(), pool, email, string(hash), strings.TrimSpace(req.DisplayName), opts.DefaultCredits)
		if errors.Is(err, db.ErrConflict) {
			c.JSON(http.StatusConflict, gin.H{"error": "An account with this email already exists"})
			return
		}
		if err != nil {
			respondError(c, err, "registration")
			return
		}
		startSession(c, opts, u, http.StatusCreated)
	}
}

// Login checks credentials and starts a cookie session.
// POST /api/auth/login
func Login(pool *pgxpool.Pool, opts AuthOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		u, err := db.GetUserByEmail(c.Request.Context(), pool, strings.ToLower(strings.TrimSpace(req.Email)))
		if err != nil && !errors.Is(err, db.ErrNotFound) {
			respondError(c, err, "login")
			return
		}
		if err != nil || bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)) != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
			return
		}
		startSession(c, opts, u, http.StatusOK)
	}
}

// Logout clears the session cookie. Tokens are stateless and expire on their own.
// POST /api/auth/logout
func Logout(opts AuthOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		clearSessionCookie(c, opts)
		c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
	}
}

// Me returns the signed-in user's profile.
// GET /api/auth/me
func Me(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		u, err := db.GetUserByID(c.Request.Context(), pool, c.GetString("user_id"))
		if err != nil {
			respondError(c, err, "user")
			return
		}
		badges, err := db.ListBadges(c.Request.Context(), pool, u.ID)
		if err != nil {
			log.Printf("Error listing badges for %s: %v", u.ID, err)
		}
		c.JSON(http.StatusOK, gin.H{"profile": profileOf(u), "badges": badges, "email_notifications": u.EmailNotifications})
	}
}

// CSRFToken returns the CSRF token for the current session.
// GET /api/auth/csrf
func CSRFToken(opts AuthOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"csrf_token": opts.CSRF.Token(c.GetString("session_id"))})
	}
}

// UpdateProfile changes the display name or email preference.
// PATCH /api/profile
func UpdateProfile(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.ProfileUpdateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.DisplayName != nil {
			name := strings.TrimSpace(*req.DisplayName)
			if name == "" {
				c.JSON(http.StatusBadRequest, gin.H{"error": "display_name cannot be empty"})
				return
			}
			req.DisplayName = &name
		}
		u, err := db.UpdateProfile(c.Request.Context(), pool, c.GetString("user_id"), req)
		if err != nil {
			respondError(c, err, "user")
			return
		}
		c.JSON(http.StatusOK, profileOf(u))
	}
}
