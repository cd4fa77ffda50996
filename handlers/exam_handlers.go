package handlers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"ibstudy-server/ai"
	"ibstudy-server/db"
	"ibstudy-server/exam"
	"ibstudy-server/gamify"
	"ibstudy-server/models"
	"ibstudy-server/utils"
)

// CreatePaper assembles a mock paper from the question bank.
// POST /api/exams/papers
func CreatePaper(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.PaperRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if len(req.TopicWeights) > 0 {
			if err := utils.ValidateWeights(req.TopicWeights); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}
		ctx := c.Request.Context()
		userID := c.GetString("user_id")
		bank, err := db.QuestionsFor(ctx, pool, req.Subject, req.Level)
		if err != nil {
			respondError(c, err, "question bank")
			return
		}

		now := time.Now().UTC()
		seed := utils.SeedFrom(userID, req.Subject, req.Level, strconv.Itoa(req.PaperNumber),
			strconv.Itoa(req.QuestionCount), now.Format(time.RFC3339Nano))
		paper, err := exam.AssemblePaper(bank, req, seed)
		if errors.Is(err, exam.ErrUnsatisfiable) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := db.InsertPaper(ctx, pool, paper, userID); err != nil {
			respondError(c, err, "paper")
			return
		}
		c.JSON(http.StatusCreated, exam.WithoutMarkschemes(paper))
	}
}

// GetPaper returns a paper without its markschemes.
// GET /api/exams/papers/:id
func GetPaper(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		paper, err := db.GetPaper(c.Request.Context(), pool, c.Param("id"))
		if err != nil {
			respondError(c, err, "paper")
			return
		}
		c.JSON(http.StatusOK, exam.WithoutMarkschemes(paper))
	}
}

// StartSession starts the clock on a paper.
// POST /api/exams/sessions
func StartSession(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.SessionStartRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		ctx := c.Request.Context()
		paper, err := db.GetPaper(ctx, pool, req.PaperID)
		if err != nil {
			respondError(c, err, "paper")
			return
		}
		s := exam.NewServerSession(uuid.NewString(), c.GetString("user_id"), paper, time.Now().UTC())
		if err := db.InsertSession(ctx, pool, s); err != nil {
			respondError(c, err, "session")
			return
		}
		c.JSON(http.StatusCreated, gin.H{"session": s, "paper": exam.WithoutMarkschemes(paper)})
	}
}

func loadSession(c *gin.Context, pool *pgxpool.Pool) (models.ExamSession, models.ExamPaper, bool) {
	ctx := c.Request.Context()
	s, err := db.GetSession(ctx, pool, c.GetString("user_id"), c.Param("id"))
	if err != nil {
		respondError(c, err, "session")
		return s, models.ExamPaper{}, false
	}
	paper, err := db.GetPaper(ctx, pool, s.PaperID)
	if err != nil {
		respondError(c, err, "paper")
		return s, paper, false
	}
	return s, paper, true
}

// StartWriting ends reading time early and restarts the exam clock from now.
// POST /api/exams/sessions/:id/start-writing
func StartWriting(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		s, paper, ok := loadSession(c, pool)
		if !ok {
			return
		}
		now := time.Now().UTC()
		moved, err := exam.StartWritingAt(s, paper, now)
		if err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "phase": exam.PhaseAt(s, now)})
			return
		}
		if err := db.MoveDeadlines(c.Request.Context(), pool, moved); err != nil {
			respondError(c, err, "session")
			return
		}
		c.JSON(http.StatusOK, moved)
	}
}

// SaveAnswer stores one answer while the exam clock is running.
// PUT /api/exams/sessions/:id/answers/:number
func SaveAnswer(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		number, err := strconv.Atoi(c.Param("number"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid question number"})
			return
		}
		var req models.AnswerRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s, paper, ok := loadSession(c, pool)
		if !ok {
			return
		}
		if !slices.Contains(exam.Numbers(paper), number) {
			c.JSON(http.StatusBadRequest, gin.H{"error": exam.ErrUnknownQuestion.Error()})
			return
		}
		if !exam.AcceptsAnswers(s, time.Now()) {
			c.JSON(http.StatusConflict, gin.H{"error": exam.ErrAnswersLocked.Error(), "phase": exam.PhaseAt(s, time.Now())})
			return
		}
		if err := db.SaveAnswer(c.Request.Context(), pool, s.ID, number, req.Answer); err != nil {
			respondError(c, err, "answer")
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Answer saved", "number": number})
	}
}

// SessionStatus reports the phase and remaining time from the server clock.
// GET /api/exams/sessions/:id
func SessionStatus(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		s, paper, ok := loadSession(c, pool)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, exam.StatusAt(s, paper, time.Now()))
	}
}

// SubmitSession grades every question and closes the session.
// POST /api/exams/sessions/:id/submit
func SubmitSession(pool *pgxpool.Pool, grader AI) gin.HandlerFunc {
	return func(c *gin.Context) {
		var sub models.ExamSubmission
		if err := c.ShouldBindJSON(&sub); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s, paper, ok := loadSession(c, pool)
		if !ok {
			return
		}
		if s.SubmittedAt != nil {
			c.JSON(http.StatusConflict, gin.H{"error": "Session already submitted"})
			return
		}
		numbers := exam.Numbers(paper)
		for n := range sub.Answers {
			if !slices.Contains(numbers, n) {
				c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("question %d is not on this paper", n)})
				return
			}
		}

		now := time.Now()
		answers := make(map[int]string, len(numbers))
		for _, n := range numbers {
			answers[n] = s.Answers[n]
		}
		// answers sent after the grace period are ignored; the stored ones stand
		if exam.AcceptsAnswers(s, now) {
			for n, a := range sub.Answers {
				answers[n] = a
			}
		}

		ctx := c.Request.Context()
		userID := c.GetString("user_id")
		if err := db.ClaimSubmission(ctx, pool, userID, s.ID, now.UTC()); err != nil {
			if errors.Is(err, db.ErrConflict) {
				c.JSON(http.StatusConflict, gin.H{"error": "Session is already being submitted"})
				return
			}
			respondError(c, err, "session")
			return
		}
		if !chargeCredit(c, pool) {
			releaseSubmission(pool, s.ID)
			return
		}
		grade := func(ctx context.Context, q models.ExamQuestion, answer string) (models.GradeResult, error) {
			return grader.GradeAnswer(ctx, ai.GradeInput{
				Subject:     paper.Subject,
				Level:       paper.Level,
				Topic:       q.Topic,
				CommandTerm: q.CommandTerm,
				Marks:       q.Marks,
				Question:    q.Text,
				Markscheme:  utils.Deref(q.Markscheme),
				Answer:      answer,
			})
		}
		result, err := exam.GradeSubmission(ctx, paper, answers, grade, db.GetSettingInt(pool, "grade_workers", 4))
		if err != nil {
			refundCredit(pool, userID)
			releaseSubmission(pool, s.ID)
			db.LogError(pool, "exam_submit", paper.Subject, "exam grading failed", err.Error())
			respondError(c, err, "exam grading")
			return
		}

		estimated := sub.EstimatedMarks
		if estimated == 0 {
			estimated = exam.EstimateMarks(paper, answers)
		}
		s.Answers = answers
		s.EstimatedMarks = &estimated
		s.AwardedMarks = &result.AwardedMarks
		s.Grade = &result.Grade
		s.Feedback = result.Feedback
		if err := db.CompleteSession(ctx, pool, s, now.UTC()); err != nil {
			refundCredit(pool, userID)
			releaseSubmission(pool, s.ID)
			respondError(c, err, "session")
			return
		}

		out := recordActivity(ctx, pool, userID, gamify.Activity{Kind: "exam", MarkEarned: result.AwardedMarks, Grade: result.Grade})
		result.SessionID = s.ID
		result.EstimatedMarks = estimated
		result.XPAwarded = out.XPAwarded
		if err := db.InsertNotification(ctx, pool, userID, models.Notification{
			Kind:  "exam",
			Title: fmt.Sprintf("%s graded: %d/%d (grade %d)", paper.Title, result.AwardedMarks, result.TotalMarks, result.Grade),
			Link:  "/exams/" + s.ID,
		}); err != nil {
			log.Printf("Error notifying %s of exam result: %v", userID, err)
		}
		c.JSON(http.StatusOK, result)
	}
}

// ExamHistory lists the caller's submitted sessions.
// GET /api/exams/history
func ExamHistory(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		history, err := db.ExamHistory(c.Request.Context(), pool, c.GetString("user_id"), intQuery(c, "limit", 20, 1, 100))
		if err != nil {
			respondError(c, err, "exam history")
			return
		}
		c.JSON(http.StatusOK, history)
	}
}
