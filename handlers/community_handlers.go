package handlers

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"ibstudy-server/content"
	"ibstudy-server/db"
	"ibstudy-server/models"
)

// ListPosts returns one page of the community feed with the caller's votes.
// GET /api/community/posts?page=&per_page=&subject=
func ListPosts(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		page := intQuery(c, "page", 1, 1, 10000)
		perPage := intQuery(c, "per_page", 20, 1, 50)
		feed, err := db.ListPosts(c.Request.Context(), pool, c.GetString("user_id"), c.Query("subject"), page, perPage)
		if err != nil {
			respondError(c, err, "posts")
			return
		}
		c.JSON(http.StatusOK, feed)
	}
}

// GetPost returns a single post.
// GET /api/community/posts/:id
func GetPost(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		post, err := db.GetPost(c.Request.Context(), pool, c.GetString("user_id"), c.Param("id"))
		if err != nil {
			respondError(c, err, "post")
			return
		}
		c.JSON(http.StatusOK, post)
	}
}

// CreatePost publishes a post. The body is sanitised HTML.
// POST /api/community/posts
func CreatePost(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.PostCreateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		title, err := content.PlainText(req.Title)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "title is empty"})
			return
		}
		body, err := content.Sanitize(req.Content)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "content is empty"})
			return
		}
		ctx := c.Request.Context()
		userID := c.GetString("user_id")
		id, err := db.CreatePost(ctx, pool, userID, title, body, req.Subject)
		if err != nil {
			respondError(c, err, "post")
			return
		}
		post, err := db.GetPost(ctx, pool, userID, id)
		if err != nil {
			respondError(c, err, "post")
			return
		}
		c.JSON(http.StatusCreated, post)
	}
}

// DeletePost removes one of the caller's posts.
// DELETE /api/community/posts/:id
func DeletePost(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.DeletePost(c.Request.Context(), pool, c.GetString("user_id"), c.Param("id")); err != nil {
			respondError(c, err, "post")
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// VotePost sets the caller's vote to -1, 0 or 1. Sending the same value again
// is accepted and returns the same totals.
// POST /api/community/posts/:id/vote
func VotePost(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.VoteRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		res, err := db.SetVote(c.Request.Context(), pool, c.GetString("user_id"), c.Param("id"), *req.Value)
		if err != nil {
			respondError(c, err, "post")
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// ListComments lists a post's comments, oldest first.
// GET /api/community/posts/:id/comments
func ListComments(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		comments, err := db.ListComments(c.Request.Context(), pool, c.Param("id"))
		if err != nil {
			respondError(c, err, "comments")
			return
		}
		c.JSON(http.StatusOK, comments)
	}
}

// CreateComment adds a comment and notifies the post author.
// POST /api/community/posts/:id/comments
func CreateComment(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.CommentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		body, err := content.Sanitize(req.Content)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "content is empty"})
			return
		}
		ctx := c.Request.Context()
		userID := c.GetString("user_id")
		postID := c.Param("id")
		post, err := db.GetPost(ctx, pool, userID, postID)
		if err != nil {
			respondError(c, err, "post")
			return
		}
		comment, err := db.CreateComment(ctx, pool, userID, postID, body)
		if err != nil {
			respondError(c, err, "post")
			return
		}
		if post.AuthorID != userID {
			if err := db.InsertNotification(ctx, pool, post.AuthorID, models.Notification{
				Kind:  "comment",
				Title: comment.Author + " commented on " + post.Title,
				Link:  "/community/posts/" + postID,
			}); err != nil {
				log.Printf("Error notifying %s of comment: %v", post.AuthorID, err)
			}
		}
		c.JSON(http.StatusCreated, comment)
	}
}

// UploadPastPaper stores a shared past paper and indexes its text.
// POST /api/community/papers (multipart: file, title, subject, year)
func UploadPastPaper(pool *pgxpool.Pool, dir string, maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes+1<<20)
		fh, err := c.FormFile("file")
		if err != nil {
			var tooBig *http.MaxBytesError
			if errors.As(err, &tooBig) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("File exceeds %d bytes", maxBytes)})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
			return
		}
		if fh.Size > maxBytes {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("File exceeds %d bytes", maxBytes)})
			return
		}
		title, err := content.PlainText(c.PostForm("title"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "title is required"})
			return
		}
		year, _ := strconv.Atoi(c.PostForm("year"))
		if year != 0 && (year < 1968 || year > time.Now().Year()) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "year is out of range"})
			return
		}

		contentType := fh.Header.Get("Content-Type")
		kind := content.Kind(contentType, fh.Filename)
		if kind == "" {
			c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": content.ErrUnsupportedType.Error()})
			return
		}
		f, err := fh.Open()
		if err != nil {
			respondError(c, err, "upload")
			return
		}
		defer f.Close()
		text, err := content.Extract(kind, f, fh.Size)
		if err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Could not read document: " + err.Error()})
			return
		}

		if err := os.MkdirAll(dir, 0o755); err != nil {
			respondError(c, err, "upload")
			return
		}
		stored := filepath.Join(dir, uuid.NewString()+strings.ToLower(filepath.Ext(fh.Filename)))
		if err := c.SaveUploadedFile(fh, stored); err != nil {
			respondError(c, err, "upload")
			return
		}
		paper, err := db.InsertPastPaper(c.Request.Context(), pool, models.PastPaper{
			Title:       title,
			Subject:     c.PostForm("subject"),
			Year:        year,
			FileName:    filepath.Base(fh.Filename),
			ContentType: contentType,
			SizeBytes:   fh.Size,
			Excerpt:     content.Excerpt(text, 280),
		}, c.GetString("user_id"), stored, text)
		if err != nil {
			_ = os.Remove(stored)
			respondError(c, err, "past paper")
			return
		}
		c.JSON(http.StatusCreated, paper)
	}
}

// ListPastPapers lists shared past papers.
// GET /api/community/papers?subject=
func ListPastPapers(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		papers, err := db.ListPastPapers(c.Request.Context(), pool, c.Query("subject"))
		if err != nil {
			respondError(c, err, "past papers")
			return
		}
		c.JSON(http.StatusOK, papers)
	}
}

// DownloadPastPaper serves the stored file.
// GET /api/community/papers/:id/download
func DownloadPastPaper(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		paper, path, err := db.GetPastPaper(c.Request.Context(), pool, c.Param("id"))
		if err != nil {
			respondError(c, err, "past paper")
			return
		}
		c.FileAttachment(path, paper.FileName)
	}
}

// ListGroups lists study groups with membership of the caller.
// GET /api/community/groups
func ListGroups(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		groups, err := db.ListGroups(c.Request.Context(), pool, c.GetString("user_id"))
		if err != nil {
			respondError(c, err, "groups")
			return
		}
		c.JSON(http.StatusOK, groups)
	}
}

// CreateGroup creates a group with the caller as its first member.
// POST /api/community/groups
func CreateGroup(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.GroupCreateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		name, err := content.PlainText(req.Name)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "name is empty"})
			return
		}
		req.Name = name
		req.Description, _ = content.PlainText(req.Description)
		g, err := db.CreateGroup(c.Request.Context(), pool, c.GetString("user_id"), req)
		if err != nil {
			respondError(c, err, "group")
			return
		}
		c.JSON(http.StatusCreated, g)
	}
}

// JoinGroup adds the caller to a group.
// POST /api/community/groups/:id/join
func JoinGroup(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		err := db.JoinGroup(c.Request.Context(), pool, c.GetString("user_id"), c.Param("id"))
		if errors.Is(err, db.ErrConflict) {
			c.JSON(http.StatusConflict, gin.H{"error": "Already a member"})
			return
		}
		if err != nil {
			respondError(c, err, "group")
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Joined group"})
	}
}

// LeaveGroup removes the caller from a group.
// POST /api/community/groups/:id/leave
func LeaveGroup(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.LeaveGroup(c.Request.Context(), pool, c.GetString("user_id"), c.Param("id")); err != nil {
			respondError(c, err, "membership")
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Left group"})
	}
}

func requireMember(c *gin.Context, pool *pgxpool.Pool) bool {
	ok, err := db.IsGroupMember(c.Request.Context(), pool, c.GetString("user_id"), c.Param("id"))
	if err != nil {
		respondError(c, err, "group")
		return false
	}
	if !ok {
		c.JSON(http.StatusForbidden, gin.H{"error": "Join the group to see its messages"})
		return false
	}
	return true
}

// ListGroupMessages returns recent group messages, oldest first.
// GET /api/community/groups/:id/messages
func ListGroupMessages(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireMember(c, pool) {
			return
		}
		msgs, err := db.ListGroupMessages(c.Request.Context(), pool, c.Param("id"), intQuery(c, "limit", 50, 1, 200))
		if err != nil {
			respondError(c, err, "messages")
			return
		}
		c.JSON(http.StatusOK, msgs)
	}
}

// PostGroupMessage posts a plain-text message to a group.
// POST /api/community/groups/:id/messages
func PostGroupMessage(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.MessageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		text, err := content.PlainText(req.Content)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "message is empty"})
			return
		}
		if !requireMember(c, pool) {
			return
		}
		m, err := db.CreateGroupMessage(c.Request.Context(), pool, c.GetString("user_id"), c.Param("id"), text)
		if err != nil {
			respondError(c, err, "message")
			return
		}
		c.JSON(http.StatusCreated, m)
	}
}

// TutorHistoryLimit is how many earlier turns are sent back to the model.
const TutorHistoryLimit = 20

// TutorChat continues the caller's conversation with the AI tutor.
// POST /api/tutor/chat (premium)
func TutorChat(pool *pgxpool.Pool, tutor AI) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.TutorRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		msg, err := content.PlainText(req.Message)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "message is empty"})
			return
		}
		ctx := c.Request.Context()
		userID := c.GetString("user_id")
		history, err := db.TutorHistory(ctx, pool, userID, TutorHistoryLimit)
		if err != nil {
			respondError(c, err, "tutor history")
			return
		}
		if !chargeCredit(c, pool) {
			return
		}
		reply, err := tutor.TutorReply(ctx, req.Subject, history, msg)
		if err != nil {
			refundCredit(pool, userID)
			db.LogError(pool, "tutor", req.Subject, "tutor reply failed", err.Error())
			respondError(c, err, "tutor reply")
			return
		}
		now := time.Now()
		turns := []models.TutorMessage{
			{Role: "user", Content: msg, CreatedAt: now},
			{Role: "assistant", Content: reply, CreatedAt: now},
		}
		if err := db.AppendTutorMessages(ctx, pool, userID, turns...); err != nil {
			log.Printf("Error storing tutor turns for %s: %v", userID, err)
		}
		c.JSON(http.StatusOK, turns[1])
	}
}

// TutorConversation returns the stored conversation.
// GET /api/tutor/history
func TutorConversation(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		history, err := db.TutorHistory(c.Request.Context(), pool, c.GetString("user_id"), intQuery(c, "limit", 50, 1, 200))
		if err != nil {
			respondError(c, err, "tutor history")
			return
		}
		c.JSON(http.StatusOK, history)
	}
}
