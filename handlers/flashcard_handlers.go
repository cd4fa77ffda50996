package handlers

import (
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	"ibstudy-server/content"
	"ibstudy-server/db"
	"ibstudy-server/gamify"
	"ibstudy-server/models"
	"ibstudy-server/srs"
)

// ListDecks returns the caller's decks and the public starter decks.
// GET /api/flashcards/decks
func ListDecks(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		decks, err := db.ListDecks(c.Request.Context(), pool, c.GetString("user_id"), time.Now())
		if err != nil {
			respondError(c, err, "decks")
			return
		}
		c.JSON(http.StatusOK, decks)
	}
}

// CreateDeck creates a private deck.
// POST /api/flashcards/decks
func CreateDeck(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.DeckCreateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		title, err := content.PlainText(req.Title)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "title is empty"})
			return
		}
		deck, err := db.CreateDeck(c.Request.Context(), pool, c.GetString("user_id"), req.Subject, title)
		if err != nil {
			respondError(c, err, "deck")
			return
		}
		c.JSON(http.StatusCreated, deck)
	}
}

// DeleteDeck removes one of the caller's decks with its cards.
// DELETE /api/flashcards/decks/:id
func DeleteDeck(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.DeleteDeck(c.Request.Context(), pool, c.GetString("user_id"), c.Param("id")); err != nil {
			respondError(c, err, "deck")
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// ListCards lists the cards of a deck the caller can see.
// GET /api/flashcards/decks/:id/cards
func ListCards(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		cards, err := db.ListCards(c.Request.Context(), pool, c.GetString("user_id"), c.Param("id"))
		if err != nil {
			respondError(c, err, "cards")
			return
		}
		c.JSON(http.StatusOK, cards)
	}
}

// AddCard adds a card to one of the caller's decks.
// POST /api/flashcards/decks/:id/cards
func AddCard(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.CardCreateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		ctx := c.Request.Context()
		deckID := c.Param("id")
		if err := db.DeckWritable(ctx, pool, c.GetString("user_id"), deckID); err != nil {
			respondError(c, err, "deck")
			return
		}
		front, errF := content.Sanitize(req.Front)
		back, errB := content.Sanitize(req.Back)
		if errF != nil || errB != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "front and back must have content"})
			return
		}
		if req.Difficulty == 0 {
			req.Difficulty = 3
		}
		card, err := db.InsertCard(ctx, pool, deckID, front, back, req.Difficulty)
		if err != nil {
			respondError(c, err, "card")
			return
		}
		c.JSON(http.StatusCreated, card)
	}
}

// DeleteCard removes a card from one of the caller's decks.
// DELETE /api/flashcards/cards/:id
func DeleteCard(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.DeleteCard(c.Request.Context(), pool, c.GetString("user_id"), c.Param("id")); err != nil {
			respondError(c, err, "card")
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// GenerateCards asks the AI for cards on a topic and adds them to a deck.
// POST /api/flashcards/decks/:id/generate
func GenerateCards(pool *pgxpool.Pool, gen AI) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.DeckGenerateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.Count == 0 {
			req.Count = 10
		}
		ctx := c.Request.Context()
		userID := c.GetString("user_id")
		deckID := c.Param("id")
		if err := db.DeckWritable(ctx, pool, userID, deckID); err != nil {
			respondError(c, err, "deck")
			return
		}
		decks, err := db.ListDecks(ctx, pool, userID, time.Now())
		if err != nil {
			respondError(c, err, "deck")
			return
		}
		subject := ""
		for _, d := range decks {
			if d.ID == deckID {
				subject = d.Subject
			}
		}
		if !chargeCredit(c, pool) {
			return
		}
		generated, err := gen.GenerateFlashcards(ctx, subject, req.Topic, req.Count)
		if err != nil {
			refundCredit(pool, userID)
			db.LogError(pool, "flashcards_generate", subject, "card generation failed", err.Error())
			respondError(c, err, "card generation")
			return
		}
		var cards []models.Flashcard
		for _, g := range generated {
			front, errF := content.Sanitize(g.Front)
			back, errB := content.Sanitize(g.Back)
			if errF != nil || errB != nil {
				continue
			}
			card, err := db.InsertCard(ctx, pool, deckID, front, back, 3)
			if err != nil {
				log.Printf("Error inserting generated card into %s: %v", deckID, err)
				continue
			}
			cards = append(cards, card)
		}
		c.JSON(http.StatusCreated, cards)
	}
}

// DueCards lists cards due now, oldest due first.
// GET /api/flashcards/due?deck_id=&limit=
func DueCards(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		cards, err := db.DueCards(c.Request.Context(), pool, c.GetString("user_id"), c.Query("deck_id"), time.Now(), intQuery(c, "limit", 20, 1, 100))
		if err != nil {
			respondError(c, err, "due cards")
			return
		}
		c.JSON(http.StatusOK, cards)
	}
}

// reschedule runs the SM-2 step on the reviewer's current progress.
func reschedule(quality int, reviewedAt time.Time) db.ScheduleFunc {
	return func(current models.Flashcard) (models.Flashcard, error) {
		return srs.Schedule(current, quality, reviewedAt)
	}
}

// ReviewCard records a 1..4 rating and reschedules the card. Replaying the same
// (card_id, reviewed_at) returns the stored card without rescheduling again.
// POST /api/flashcards/review
func ReviewCard(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.ReviewRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if strings.TrimSpace(req.CardID) == "" || !srs.ValidQuality(req.Quality) {
			c.JSON(http.StatusBadRequest, gin.H{"error": srs.ErrInvalidQuality.Error()})
			return
		}
		now := time.Now()
		reviewedAt := now
		if req.ReviewedAt != nil {
			if req.ReviewedAt.After(now.Add(time.Minute)) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "reviewed_at is in the future"})
				return
			}
			reviewedAt = *req.ReviewedAt
		}
		reviewedAt = reviewedAt.UTC().Truncate(time.Microsecond)

		ctx := c.Request.Context()
		userID := c.GetString("user_id")
		saved, applied, err := db.SaveReview(ctx, pool, userID, req.CardID, req.Quality, reviewedAt, reschedule(req.Quality, reviewedAt))
		if err != nil {
			respondError(c, err, "review")
			return
		}
		resp := gin.H{"card": saved, "applied": applied}
		if applied {
			out := recordActivity(ctx, pool, userID, gamify.Activity{Kind: "review"})
			resp["xp_awarded"] = out.XPAwarded
			resp["badges"] = out.NewBadges
		}
		c.JSON(http.StatusOK, resp)
	}
}
