package cmd

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	"ibstudy-server/config"
	"ibstudy-server/handlers"
	"ibstudy-server/middleware"
	"ibstudy-server/models"
)

// routerDeps are the pieces of the router that tests swap out.
type routerDeps struct {
	AI           handlers.AI
	APILimiter   *middleware.RateLimiter
	AdminLimiter *middleware.RateLimiter
	PlanLookup   middleware.PlanLookup
}

func authOptions(cfg *config.Config) handlers.AuthOptions {
	return handlers.AuthOptions{
		SigningKey:     cfg.Auth.JWTSigningKey,
		Issuer:         cfg.Auth.Issuer,
		SessionTTL:     cfg.Auth.SessionDuration(),
		CSRF:           middleware.NewCSRFGenerator(cfg.Auth.CSRFSecret),
		SecureCookies:  cfg.GinMode == gin.ReleaseMode,
		DefaultCredits: cfg.Credits.Default,
	}
}

func newRouter(cfg *config.Config, pool *pgxpool.Pool, deps routerDeps) *gin.Engine {
	router := gin.Default()
	router.HTMLRender = handlers.LoadTemplates(cfg.TemplatesPath)
	router.Use(middleware.Logger())

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowOrigins = cfg.CORS.AllowedOrigins
	corsCfg.AllowCredentials = true
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization", "X-CSRF-Token")
	corsCfg.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsCfg))

	router.Static("/static", cfg.StaticPath)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "UP"})
	})

	opts := authOptions(cfg)
	auth := middleware.AuthMiddleware(opts.SigningKey, opts.Issuer, opts.CSRF)

	router.GET("/study", handlers.StudyPage(pool, opts))
	router.GET("/offline", handlers.OfflinePage())

	public := router.Group("/api/auth")
	public.Use(deps.APILimiter.Middleware())
	{
		public.POST("/register", handlers.Register(pool, opts))
		public.POST("/login", handlers.Login(pool, opts))
		public.POST("/logout", handlers.Logout(opts))
	}

	api := router.Group("/api")
	api.Use(auth, deps.APILimiter.Middleware())
	{
		api.GET("/auth/me", handlers.Me(pool))
		api.GET("/auth/csrf", handlers.CSRFToken(opts))
		api.PATCH("/profile", handlers.UpdateProfile(pool))

		study := api.Group("/study")
		study.POST("/generate", handlers.GenerateQuestion(pool, deps.AI))
		study.POST("/grade", handlers.GradeAnswer(pool, deps.AI))
		study.GET("/subjects", handlers.ListSubjects(pool))
		study.GET("/history", handlers.StudyHistory(pool))

		cards := api.Group("/flashcards")
		cards.GET("/decks", handlers.ListDecks(pool))
		cards.POST("/decks", handlers.CreateDeck(pool))
		cards.DELETE("/decks/:id", handlers.DeleteDeck(pool))
		cards.GET("/decks/:id/cards", handlers.ListCards(pool))
		cards.POST("/decks/:id/cards", handlers.AddCard(pool))
		cards.POST("/decks/:id/generate", handlers.GenerateCards(pool, deps.AI))
		cards.DELETE("/cards/:id", handlers.DeleteCard(pool))
		cards.GET("/due", handlers.DueCards(pool))
		cards.POST("/review", handlers.ReviewCard(pool))

		exams := api.Group("/exams")
		exams.POST("/papers", handlers.CreatePaper(pool))
		exams.GET("/papers/:id", handlers.GetPaper(pool))
		exams.POST("/sessions", handlers.StartSession(pool))
		exams.GET("/sessions/:id", handlers.SessionStatus(pool))
		exams.POST("/sessions/:id/start-writing", handlers.StartWriting(pool))
		exams.PUT("/sessions/:id/answers/:number", handlers.SaveAnswer(pool))
		exams.POST("/sessions/:id/submit", handlers.SubmitSession(pool, deps.AI))
		exams.GET("/history", handlers.ExamHistory(pool))

		tasks := api.Group("/planner/tasks")
		tasks.GET("", handlers.ListTasks(pool))
		tasks.POST("", handlers.CreateTask(pool))
		tasks.PUT("/:id", handlers.UpdateTask(pool))
		tasks.PATCH("/:id/toggle", handlers.ToggleTask(pool))
		tasks.DELETE("/:id", handlers.DeleteTask(pool))

		community := api.Group("/community")
		community.GET("/posts", handlers.ListPosts(pool))
		community.POST("/posts", handlers.CreatePost(pool))
		community.GET("/posts/:id", handlers.GetPost(pool))
		community.DELETE("/posts/:id", handlers.DeletePost(pool))
		community.POST("/posts/:id/vote", handlers.VotePost(pool))
		community.GET("/posts/:id/comments", handlers.ListComments(pool))
		community.POST("/posts/:id/comments", handlers.CreateComment(pool))
		community.GET("/papers", handlers.ListPastPapers(pool))
		community.POST("/papers", handlers.UploadPastPaper(pool, cfg.Uploads.Dir, cfg.Uploads.MaxBytes))
		community.GET("/papers/:id/download", handlers.DownloadPastPaper(pool))
		community.GET("/groups", handlers.ListGroups(pool))
		community.POST("/groups", handlers.CreateGroup(pool))
		community.POST("/groups/:id/join", handlers.JoinGroup(pool))
		community.POST("/groups/:id/leave", handlers.LeaveGroup(pool))
		community.GET("/groups/:id/messages", handlers.ListGroupMessages(pool))
		community.POST("/groups/:id/messages", handlers.PostGroupMessage(pool))

		tutor := api.Group("/tutor")
		tutor.Use(middleware.PlanRequired(models.PlanPremium, deps.PlanLookup))
		tutor.POST("/chat", handlers.TutorChat(pool, deps.AI))
		tutor.GET("/history", handlers.TutorConversation(pool))

		admissions := api.Group("/admissions")
		admissions.GET("/applications", handlers.ListApplications(pool))
		admissions.POST("/applications", handlers.CreateApplication(pool))
		admissions.PUT("/applications/:id", handlers.UpdateApplication(pool))
		admissions.DELETE("/applications/:id", handlers.DeleteApplication(pool))
		admissions.GET("/points", handlers.PredictedPoints(pool))

		api.GET("/lifecycle/milestones", handlers.ListMilestones(pool))
		api.PATCH("/lifecycle/milestones/:key/toggle", handlers.ToggleMilestone(pool))

		api.GET("/insights", handlers.Insights(pool))
		api.GET("/dashboard", handlers.Dashboard(pool))
		api.GET("/notifications", handlers.ListNotifications(pool))
		api.POST("/notifications/:id/read", handlers.MarkNotificationRead(pool))
		api.POST("/push/subscribe", handlers.SubscribePush(pool))
		api.DELETE("/push/subscribe", handlers.UnsubscribePush(pool))
	}

	admin := router.Group("/admin")
	admin.Use(auth, middleware.RoleCheckMiddleware([]string{"admin"}), deps.AdminLimiter.Middleware())
	{
		admin.GET("/dashboard", handlers.AdminDashboard(pool))
		admin.GET("/error_logs", handlers.AdminErrorLogs(pool))
		admin.GET("/question_stats", handlers.AdminQuestionStats(pool))
		admin.GET("/settings", handlers.AdminSettings(pool))
		admin.POST("/settings", handlers.AdminUpdateSettings(pool))
		admin.POST("/users/plan", handlers.AdminSetPlan(pool))
		admin.POST("/ingest", handlers.TriggerIngestion(pool, cfg.CataloguePath))
	}

	return router
}
