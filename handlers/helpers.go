package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	"ibstudy-server/ai"
	"ibstudy-server/db"
	"ibstudy-server/gamify"
	"ibstudy-server/models"
)

// AI is the part of the chat completions client the handlers use.
type AI interface {
	StreamQuestion(ctx context.Context, req models.GenerateRequest, onToken func(string)) (models.StudyQuestion, error)
	GradeAnswer(ctx context.Context, in ai.GradeInput) (models.GradeResult, error)
	GenerateFlashcards(ctx context.Context, subject, topic string, count int) ([]ai.Card, error)
	TutorReply(ctx context.Context, subject string, history []models.TutorMessage, message string) (string, error)
}

// respondError maps sentinel errors onto status codes and logs the rest.
func respondError(c *gin.Context, err error, what string) {
	switch {
	case errors.Is(err, db.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": what + " not found"})
	case errors.Is(err, db.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, ai.ErrRateLimited):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "AI service is busy, please try again shortly"})
	case errors.Is(err, context.Canceled):
		c.Status(499)
	default:
		log.Printf("Error handling %s %s (%s): %v", c.Request.Method, c.Request.URL.Path, what, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process " + what})
	}
}

// chargeCredit debits one AI credit, writing 402 with the balance when none are left.
func chargeCredit(c *gin.Context, pool *pgxpool.Pool) bool {
	balance, err := db.DebitCredits(c.Request.Context(), pool, c.GetString("user_id"), 1)
	if errors.Is(err, db.ErrInsufficientCredits) {
		c.JSON(http.StatusPaymentRequired, gin.H{"error": "Insufficient credits", "credits": balance})
		return false
	}
	if err != nil {
		respondError(c, err, "credits")
		return false
	}
	return true
}

// refundCredit returns a credit after a failed AI call.
func refundCredit(pool *pgxpool.Pool, userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.RefundCredits(ctx, pool, userID, 1); err != nil {
		log.Printf("Failed to refund credit for %s: %v", userID, err)
	}
}

func releaseSubmission(pool *pgxpool.Pool, sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.ReleaseSubmission(ctx, pool, sessionID); err != nil {
		log.Printf("Failed to release submit claim on %s: %v", sessionID, err)
	}
}

// recordActivity applies XP, streak and badge rules and persists the result.
// Failures are logged; they never fail the request that earned the XP.
func recordActivity(ctx context.Context, pool *pgxpool.Pool, userID string, a gamify.Activity) gamify.Outcome {
	rules := gamify.Rules{
		XPPerMark:   db.GetSettingInt(pool, "xp_per_mark", 10),
		XPPerReview: db.GetSettingInt(pool, "xp_per_review", 2),
	}
	now := time.Now()
	out, err := db.UpdateGamification(ctx, pool, userID, func(st gamify.State) gamify.Outcome {
		return rules.Apply(st, a, now)
	})
	if err != nil {
		log.Printf("Gamification: failed to update %s: %v", userID, err)
		return gamify.Outcome{}
	}
	for _, b := range out.NewBadges {
		_ = db.InsertNotification(ctx, pool, userID, models.Notification{
			Kind: "badge", Title: "New badge: " + b, Link: "/profile",
		})
	}
	return out
}

func profileOf(u models.User) models.Profile {
	return models.Profile{
		ID:          u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		Plan:        u.Plan,
		Credits:     u.Credits,
		XP:          u.XP,
		Level:       gamify.Level(u.XP),
		StreakDays:  u.StreakDays,
		Roles:       u.Roles,
	}
}

// intQuery reads an integer query parameter bounded to [lo, hi].
func intQuery(c *gin.Context, key string, def, lo, hi int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return def
	}
	return min(max(v, lo), hi)
}
