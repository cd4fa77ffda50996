package handlers

import (
	"fmt"
	"log"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	"ibstudy-server/db"
	"ibstudy-server/ingestion"
	"ibstudy-server/middleware"
	"ibstudy-server/models"
)

// AdminDashboard renders the admin dashboard with counters and recent activity.
// GET /admin/dashboard
func AdminDashboard(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		counts, err := db.GetAdminCounts(ctx, pool)
		if err != nil {
			log.Printf("Error fetching admin counts: %v", err)
			c.HTML(http.StatusInternalServerError, "admin_dashboard", gin.H{"error": "Failed to load dashboard"})
			return
		}
		events, err := db.ListAdminEvents(ctx, pool, 10)
		if err != nil {
			log.Printf("Error fetching recent admin events: %v", err)
		}
		errs, err := db.ListErrorLogs(ctx, pool, 5)
		if err != nil {
			log.Printf("Error fetching recent error logs: %v", err)
		}

		c.HTML(http.StatusOK, "admin_dashboard", gin.H{
			"Title":        "IB Study Admin",
			"Counts":       counts,
			"RecentEvents": events,
			"RecentErrors": errs,
			"UserEmail":    c.GetString("user_email"),
			"CSRFToken":    c.GetString("csrf_token"),
			"Admin":        true,
		})
	}
}

// AdminErrorLogs lists error log entries, optionally filtered by source.
// GET /admin/error_logs?source=&limit=
func AdminErrorLogs(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		logs, err := db.ListErrorLogs(c.Request.Context(), pool, intQuery(c, "limit", 200, 1, 1000))
		if err != nil {
			log.Printf("Error querying error logs: %v", err)
			c.HTML(http.StatusInternalServerError, "admin_error_logs", gin.H{"error": "Failed to retrieve error logs"})
			return
		}
		source := c.Query("source")
		if source != "" {
			filtered := logs[:0]
			for _, l := range logs {
				if l.Source == source {
					filtered = append(filtered, l)
				}
			}
			logs = filtered
		}
		c.HTML(http.StatusOK, "admin_error_logs", gin.H{
			"Title":        "Error Logs",
			"ErrorLogs":    logs,
			"SearchSource": source,
			"UserEmail":    c.GetString("user_email"),
			"CSRFToken":    c.GetString("csrf_token"),
			"Admin":        true,
		})
	}
}

// AdminQuestionStats shows question bank coverage and average scores per topic.
// GET /admin/question_stats
func AdminQuestionStats(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := db.QuestionBankStats(c.Request.Context(), pool)
		if err != nil {
			log.Printf("Error querying question stats: %v", err)
			c.HTML(http.StatusInternalServerError, "admin_question_stats", gin.H{"error": "Failed to retrieve question stats"})
			return
		}
		c.HTML(http.StatusOK, "admin_question_stats", gin.H{
			"Title":     "Question Bank",
			"Stats":     stats,
			"UserEmail": c.GetString("user_email"),
			"CSRFToken": c.GetString("csrf_token"),
			"Admin":     true,
		})
	}
}

// AdminSettings displays server settings.
// GET /admin/settings
func AdminSettings(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		settings, err := db.ListSettings(c.Request.Context(), pool)
		if err != nil {
			log.Printf("Error querying settings: %v", err)
			c.HTML(http.StatusInternalServerError, "admin_settings", gin.H{"error": "Failed to retrieve settings"})
			return
		}
		c.HTML(http.StatusOK, "admin_settings", gin.H{
			"Title":     "Server Settings",
			"Settings":  settings,
			"UserEmail": c.GetString("user_email"),
			"CSRFToken": c.GetString("csrf_token"),
			"Admin":     true,
		})
	}
}

// validateSetting checks a new value against the current one: numeric
// settings stay non-negative integers.
func validateSetting(current models.Setting, value string) error {
	if _, err := strconv.Atoi(current.Value); err != nil {
		return nil
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return fmt.Errorf("%s must be a non-negative integer", current.Key)
	}
	return nil
}

// AdminUpdateSettings applies submitted key=value form pairs. Unknown keys
// and invalid values are reported and nothing else is skipped.
// POST /admin/settings
func AdminUpdateSettings(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := c.Request.ParseForm(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid form"})
			return
		}
		ctx := c.Request.Context()
		current, err := db.ListSettings(ctx, pool)
		if err != nil {
			respondError(c, err, "settings")
			return
		}
		byKey := make(map[string]models.Setting, len(current))
		for _, s := range current {
			byKey[s.Key] = s
		}

		actor := c.GetString("user_email")
		var failed []string
		updated := 0
		keys := make([]string, 0, len(c.Request.PostForm))
		for k := range c.Request.PostForm {
			if k != middleware.CSRFFormField {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		for _, key := range keys {
			value := strings.TrimSpace(c.Request.PostForm.Get(key))
			s, ok := byKey[key]
			if !ok {
				failed = append(failed, key+": unknown setting")
				continue
			}
			if s.Value == value {
				continue
			}
			if err := validateSetting(s, value); err != nil {
				failed = append(failed, err.Error())
				continue
			}
			if err := db.UpdateSetting(ctx, pool, key, value, actor); err != nil {
				log.Printf("Error updating setting %s: %v", key, err)
				failed = append(failed, key+": update failed")
				continue
			}
			updated++
			db.LogAdminEvent(pool, actor, "update_setting", key, fmt.Sprintf("Set to: %s", value))
		}

		if len(failed) > 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Some settings were not updated", "failed": failed, "updated": updated})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Settings updated successfully", "updated": updated})
	}
}

// AdminSetPlan changes a user's plan and optionally tops up credits.
// POST /admin/users/plan (form: email, plan, credits)
func AdminSetPlan(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		email := strings.TrimSpace(c.PostForm("email"))
		plan := c.PostForm("plan")
		if email == "" || (plan != models.PlanFree && plan != models.PlanPremium) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "email and a valid plan are required"})
			return
		}
		credits, _ := strconv.Atoi(c.DefaultPostForm("credits", "0"))
		if credits < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "credits cannot be negative"})
			return
		}
		if err := db.SetUserPlan(c.Request.Context(), pool, email, plan, credits); err != nil {
			respondError(c, err, "user")
			return
		}
		actor := c.GetString("user_email")
		db.LogAdminEvent(pool, actor, "set_plan", email, fmt.Sprintf("Plan %s, +%d credits", plan, credits))
		c.JSON(http.StatusOK, gin.H{"message": "Plan updated", "email": email, "plan": plan})
	}
}

// TriggerIngestion re-reads the subject catalogue into the database.
// POST /admin/ingest
func TriggerIngestion(pool *pgxpool.Pool, cataloguePath string) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := c.GetString("user_email")
		if err := ingestion.ProcessCatalogue(c.Request.Context(), pool, cataloguePath); err != nil {
			log.Printf("Manual ingestion of %s failed: %v", cataloguePath, err)
			db.LogAdminEvent(pool, actor, "manual_ingestion_failed", cataloguePath, fmt.Sprintf("Error: %v", err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Ingestion failed: %v", err)})
			return
		}
		db.LogAdminEvent(pool, actor, "manual_ingestion_success", cataloguePath, "Catalogue ingested.")
		c.JSON(http.StatusOK, gin.H{"message": "Catalogue ingested successfully"})
	}
}
