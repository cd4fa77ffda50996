package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	"ibstudy-server/ai"
	"ibstudy-server/db"
	"ibstudy-server/exam"
	"ibstudy-server/gamify"
	"ibstudy-server/models"
	"ibstudy-server/sse"
	"ibstudy-server/utils"
)

// GenerateQuestion streams a new practice question as server-sent events:
// token chunks while the model writes, then the stored question, then [DONE].
// POST /api/study/generate
func GenerateQuestion(pool *pgxpool.Pool, gen AI) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.GenerateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.CommandTerm != "" {
			term, ok := utils.NormalizeCommandTerm(req.CommandTerm)
			if !ok {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown command term: " + req.CommandTerm})
				return
			}
			req.CommandTerm = term
		}
		if !chargeCredit(c, pool) {
			return
		}
		userID := c.GetString("user_id")

		c.Header("Content-Type", sse.ContentType)
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")
		c.Status(http.StatusOK)

		fail := func(err error) {
			refundCredit(pool, userID)
			db.LogError(pool, "study_generate", req.Subject, "question generation failed", err.Error())
			msg := "Question generation failed, your credit was refunded"
			if errors.Is(err, ai.ErrRateLimited) {
				msg = "AI service is busy, your credit was refunded"
			}
			_ = sse.WriteChunk(c.Writer, sse.Chunk{Type: "error", Error: msg})
			_ = sse.WriteDone(c.Writer)
			c.Writer.Flush()
		}

		ctx := c.Request.Context()
		q, err := gen.StreamQuestion(ctx, req, func(tok string) {
			if err := sse.WriteChunk(c.Writer, sse.Chunk{Type: "token", Text: tok}); err == nil {
				c.Writer.Flush()
			}
		})
		if err != nil {
			fail(err)
			return
		}
		stored, err := db.InsertQuestion(ctx, pool, q, userID)
		if err != nil {
			fail(err)
			return
		}
		stored.ModelAnswer = nil
		payload, err := json.Marshal(stored)
		if err != nil {
			fail(err)
			return
		}
		_ = sse.WriteChunk(c.Writer, sse.Chunk{Type: "question", Question: payload})
		_ = sse.WriteDone(c.Writer)
		c.Writer.Flush()
	}
}

// GradeAnswer marks an answer to a stored question with the AI examiner.
// POST /api/study/grade
func GradeAnswer(pool *pgxpool.Pool, grader AI) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.GradeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		ctx := c.Request.Context()
		q, err := db.GetQuestion(ctx, pool, req.QuestionID)
		if err != nil {
			respondError(c, err, "question")
			return
		}
		if !chargeCredit(c, pool) {
			return
		}
		userID := c.GetString("user_id")

		r, err := grader.GradeAnswer(ctx, ai.GradeInput{
			Subject:     q.Subject,
			Level:       q.Level,
			Topic:       q.Topic,
			CommandTerm: q.CommandTerm,
			Marks:       q.Marks,
			Question:    q.Question,
			Markscheme:  utils.Deref(q.ModelAnswer),
			Answer:      req.Answer,
		})
		if err != nil {
			refundCredit(pool, userID)
			db.LogError(pool, "study_grade", q.Subject, "grading failed", err.Error())
			respondError(c, err, "grading")
			return
		}
		result := exam.Finalize(r, q.Marks)
		if err := db.InsertAttempt(ctx, pool, userID, q.ID, req.Answer, result); err != nil {
			log.Printf("Error saving attempt for %s: %v", userID, err)
		}
		out := recordActivity(ctx, pool, userID, gamify.Activity{Kind: "grade", MarkEarned: result.MarkEarned, Grade: result.Grade})
		result.XPAwarded = out.XPAwarded
		result.Badges = out.NewBadges
		c.JSON(http.StatusOK, gin.H{"result": result, "model_answer": q.ModelAnswer})
	}
}

// ListSubjects returns the IB subject catalogue.
// GET /api/study/subjects
func ListSubjects(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		subjects, err := db.ListSubjects(c.Request.Context(), pool)
		if err != nil {
			respondError(c, err, "subjects")
			return
		}
		c.JSON(http.StatusOK, subjects)
	}
}

// StudyHistory lists the caller's recent graded attempts.
// GET /api/study/history?limit=
func StudyHistory(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		attempts, err := db.ListAttempts(c.Request.Context(), pool, c.GetString("user_id"), intQuery(c, "limit", 20, 1, 100))
		if err != nil {
			respondError(c, err, "history")
			return
		}
		c.JSON(http.StatusOK, attempts)
	}
}
