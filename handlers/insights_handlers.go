package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	"ibstudy-server/db"
	"ibstudy-server/gamify"
	"ibstudy-server/models"
	"ibstudy-server/srs"
)

// RetentionWindow is how far back flashcard retention is measured.
const RetentionWindow = 30 * 24 * time.Hour

// Insights returns the analytics dashboard.
// GET /api/insights
func Insights(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		userID := c.GetString("user_id")

		u, err := db.GetUserByID(ctx, pool, userID)
		if err != nil {
			respondError(c, err, "user")
			return
		}
		perf, err := db.PerformanceBySubject(ctx, pool, userID)
		if err != nil {
			respondError(c, err, "performance")
			return
		}
		dist, err := db.GradeDistribution(ctx, pool, userID)
		if err != nil {
			respondError(c, err, "grades")
			return
		}
		total, recalled, err := db.ReviewStats(ctx, pool, userID, time.Now().Add(-RetentionWindow))
		if err != nil {
			respondError(c, err, "reviews")
			return
		}
		exams, err := db.ExamHistory(ctx, pool, userID, 20)
		if err != nil {
			respondError(c, err, "exams")
			return
		}

		out := models.Insights{
			SubjectAverages:   make(map[string]float64, len(perf)),
			GradeDistribution: dist,
			Retention:         srs.Retention(total, recalled),
			ReviewsLast30Days: total,
			Exams:             exams,
			StreakDays:        u.StreakDays,
			XP:                u.XP,
			Level:             gamify.Level(u.XP),
		}
		for _, p := range perf {
			out.SubjectAverages[p.Subject] = p.AveragePct
		}
		c.JSON(http.StatusOK, out)
	}
}

func endOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, 0, t.Location())
}

// Dashboard is the landing summary.
// GET /api/dashboard
func Dashboard(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		userID := c.GetString("user_id")
		now := time.Now()

		u, err := db.GetUserByID(ctx, pool, userID)
		if err != nil {
			respondError(c, err, "user")
			return
		}
		due, err := db.CountDue(ctx, pool, userID, now)
		if err != nil {
			respondError(c, err, "due cards")
			return
		}
		open := false
		until := endOfDay(now)
		tasks, err := db.ListTasks(ctx, pool, userID, db.TaskFilter{Completed: &open, DueBefore: &until})
		if err != nil {
			respondError(c, err, "tasks")
			return
		}
		recent, err := db.ListAttempts(ctx, pool, userID, 5)
		if err != nil {
			respondError(c, err, "attempts")
			return
		}
		unread, err := db.CountUnread(ctx, pool, userID)
		if err != nil {
			respondError(c, err, "notifications")
			return
		}
		c.JSON(http.StatusOK, models.Dashboard{
			Profile:      profileOf(u),
			DueCards:     due,
			TasksToday:   tasks,
			RecentGrades: recent,
			Unread:       unread,
		})
	}
}

// ListNotifications returns the newest in-app notifications.
// GET /api/notifications
func ListNotifications(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		ns, err := db.ListNotifications(c.Request.Context(), pool, c.GetString("user_id"), intQuery(c, "limit", 50, 1, 200))
		if err != nil {
			respondError(c, err, "notifications")
			return
		}
		c.JSON(http.StatusOK, ns)
	}
}

// MarkNotificationRead marks one notification read.
// POST /api/notifications/:id/read
func MarkNotificationRead(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.MarkNotificationRead(c.Request.Context(), pool, c.GetString("user_id"), c.Param("id")); err != nil {
			respondError(c, err, "notification")
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// SubscribePush stores a browser push subscription.
// POST /api/push/subscribe
func SubscribePush(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		var sub models.PushSubscription
		if err := c.ShouldBindJSON(&sub); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := db.SavePushSubscription(c.Request.Context(), pool, c.GetString("user_id"), sub); err != nil {
			respondError(c, err, "subscription")
			return
		}
		c.JSON(http.StatusCreated, gin.H{"message": "Subscribed"})
	}
}

// UnsubscribePush removes a push subscription.
// DELETE /api/push/subscribe?endpoint=
func UnsubscribePush(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		endpoint := c.Query("endpoint")
		if endpoint == "" {
			var body struct {
				Endpoint string `json:"endpoint"`
			}
			_ = c.ShouldBindJSON(&body)
			endpoint = body.Endpoint
		}
		if endpoint == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "endpoint is required"})
			return
		}
		if err := db.DeletePushSubscription(c.Request.Context(), pool, c.GetString("user_id"), endpoint); err != nil {
			respondError(c, err, "subscription")
			return
		}
		c.Status(http.StatusNoContent)
	}
}
