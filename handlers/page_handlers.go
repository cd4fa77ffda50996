package handlers

import (
	"log"
	"net/http"
	"path/filepath"

	"github.com/gin-contrib/multitemplate"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	"ibstudy-server/db"
	"ibstudy-server/middleware"
)

// Pages maps template names to their page file; each is rendered inside layout.html.
var Pages = map[string]string{
	"admin_dashboard":      "admin_dashboard.html",
	"admin_error_logs":     "admin_error_logs.html",
	"admin_question_stats": "admin_question_stats.html",
	"admin_settings":       "admin_settings.html",
	"study":                "study.html",
}

// LoadTemplates builds the HTML renderer from dir. The offline page is
// standalone so it renders with nothing else available.
func LoadTemplates(dir string) multitemplate.Renderer {
	r := multitemplate.NewRenderer()
	layout := filepath.Join(dir, "layout.html")
	for name, file := range Pages {
		r.AddFromFiles(name, layout, filepath.Join(dir, file))
	}
	r.AddFromFiles("offline", filepath.Join(dir, "offline.html"))
	return r
}

// StudyPage renders the study shell. The page drives the JSON API, so the only
// server-side state it needs is the CSRF token for a signed-in visitor.
// GET /study
func StudyPage(pool *pgxpool.Pool, opts AuthOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		data := gin.H{"Title": "Study"}
		if ck, err := c.Cookie(middleware.SessionCookie); err == nil && ck != "" {
			if claims, err := middleware.ParseToken(ck, opts.SigningKey, opts.Issuer); err == nil {
				data["CSRFToken"] = opts.CSRF.Token(claims.ID)
				data["UserEmail"] = claims.Email
			}
		}
		subjects, err := db.ListSubjects(c.Request.Context(), pool)
		if err != nil {
			log.Printf("Error loading subjects for study page: %v", err)
		}
		data["Subjects"] = subjects
		c.HTML(http.StatusOK, "study", data)
	}
}

// OfflinePage is served by the caching layer when navigation fails.
// GET /offline
func OfflinePage() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "public, max-age=86400")
		c.HTML(http.StatusOK, "offline", gin.H{"Title": "Offline"})
	}
}
