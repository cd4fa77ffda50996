package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	"ibstudy-server/db"
	"ibstudy-server/models"
	"ibstudy-server/utils"
)

// ListApplications returns the caller's university applications.
// GET /api/admissions/applications
func ListApplications(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		apps, err := db.ListApplications(c.Request.Context(), pool, c.GetString("user_id"))
		if err != nil {
			respondError(c, err, "applications")
			return
		}
		c.JSON(http.StatusOK, apps)
	}
}

func bindApplication(c *gin.Context) (models.ApplicationRequest, bool) {
	var req models.ApplicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return req, false
	}
	req.University = strings.TrimSpace(req.University)
	req.Course = strings.TrimSpace(req.Course)
	if req.Status == "" {
		req.Status = "researching"
	}
	return req, true
}

// CreateApplication adds an application.
// POST /api/admissions/applications
func CreateApplication(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		req, ok := bindApplication(c)
		if !ok {
			return
		}
		a, err := db.CreateApplication(c.Request.Context(), pool, c.GetString("user_id"), req)
		if err != nil {
			respondError(c, err, "application")
			return
		}
		c.JSON(http.StatusCreated, a)
	}
}

// UpdateApplication replaces an application.
// PUT /api/admissions/applications/:id
func UpdateApplication(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		req, ok := bindApplication(c)
		if !ok {
			return
		}
		a, err := db.UpdateApplication(c.Request.Context(), pool, c.GetString("user_id"), c.Param("id"), req)
		if err != nil {
			respondError(c, err, "application")
			return
		}
		c.JSON(http.StatusOK, a)
	}
}

// DeleteApplication removes an application.
// DELETE /api/admissions/applications/:id
func DeleteApplication(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.DeleteApplication(c.Request.Context(), pool, c.GetString("user_id"), c.Param("id")); err != nil {
			respondError(c, err, "application")
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// coreBonus awards one point each for a finished extended essay, both TOK
// components, and CAS.
func coreBonus(ms []models.Milestone) int {
	done := make(map[string]bool, len(ms))
	for _, m := range ms {
		done[m.Key] = m.Done
	}
	bonus := 0
	if done["ee"] {
		bonus++
	}
	if done["tok_essay"] && done["tok_exhibition"] {
		bonus++
	}
	if done["cas"] {
		bonus++
	}
	return bonus
}

// predictPoints turns per-subject performance into a diploma prediction and
// checks it against each application's offer.
func predictPoints(perf []db.SubjectPerformance, bonus int, apps []models.Application) models.PointsPrediction {
	grades := make(map[string]int, len(perf))
	for _, p := range perf {
		if p.LatestGrade > 0 {
			grades[p.Subject] = p.LatestGrade
		}
	}
	out := models.PointsPrediction{
		SubjectGrades: grades,
		CoreBonus:     utils.Clamp(bonus, 0, 3),
		Total:         utils.PredictPoints(grades, bonus),
		Applications:  []models.ApplicationFit{},
	}
	for _, a := range apps {
		fit := models.ApplicationFit{
			ApplicationID:  a.ID,
			University:     a.University,
			RequiredPoints: a.RequiredPoints,
			Meets:          out.Total >= a.RequiredPoints,
		}
		if !fit.Meets {
			fit.Gap = a.RequiredPoints - out.Total
		}
		out.Applications = append(out.Applications, fit)
	}
	return out
}

// PredictedPoints estimates the diploma total from the latest grade in each subject.
// GET /api/admissions/points
func PredictedPoints(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		userID := c.GetString("user_id")
		perf, err := db.PerformanceBySubject(ctx, pool, userID)
		if err != nil {
			respondError(c, err, "performance")
			return
		}
		ms, err := db.ListMilestones(ctx, pool, userID)
		if err != nil {
			respondError(c, err, "milestones")
			return
		}
		apps, err := db.ListApplications(ctx, pool, userID)
		if err != nil {
			respondError(c, err, "applications")
			return
		}
		c.JSON(http.StatusOK, predictPoints(perf, coreBonus(ms), apps))
	}
}

// DefaultMilestones is the diploma checklist: one internal assessment per
// subject the student works in, then the core.
func DefaultMilestones(subjects []string) []models.Milestone {
	var ms []models.Milestone
	for i, s := range subjects {
		ms = append(ms, models.Milestone{
			Key:       "ia_" + strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), " ", "_")),
			Title:     s + " internal assessment",
			SortOrder: 10 + i,
		})
	}
	return append(ms,
		models.Milestone{Key: "ee", Title: "Extended essay", SortOrder: 100},
		models.Milestone{Key: "tok_essay", Title: "TOK essay", SortOrder: 110},
		models.Milestone{Key: "tok_exhibition", Title: "TOK exhibition", SortOrder: 120},
		models.Milestone{Key: "cas", Title: "CAS portfolio", SortOrder: 130},
	)
}

// ListMilestones seeds any missing milestones and returns the checklist.
// GET /api/lifecycle/milestones
func ListMilestones(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		userID := c.GetString("user_id")
		perf, err := db.PerformanceBySubject(ctx, pool, userID)
		if err != nil {
			respondError(c, err, "performance")
			return
		}
		subjects := make([]string, 0, len(perf))
		for _, p := range perf {
			subjects = append(subjects, p.Subject)
		}
		if err := db.EnsureMilestones(ctx, pool, userID, DefaultMilestones(subjects)); err != nil {
			respondError(c, err, "milestones")
			return
		}
		ms, err := db.ListMilestones(ctx, pool, userID)
		if err != nil {
			respondError(c, err, "milestones")
			return
		}
		c.JSON(http.StatusOK, ms)
	}
}

// ToggleMilestone flips a milestone between done and not done.
// PATCH /api/lifecycle/milestones/:key/toggle
func ToggleMilestone(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		m, err := db.ToggleMilestone(c.Request.Context(), pool, c.GetString("user_id"), c.Param("key"))
		if err != nil {
			respondError(c, err, "milestone")
			return
		}
		c.JSON(http.StatusOK, m)
	}
}
