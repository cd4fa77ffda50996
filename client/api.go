package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"ibstudy-server/models"
	"ibstudy-server/sse"
)

// Login signs in, keeps the session cookie in the jar and remembers the CSRF token.
func (c *Client) Login(ctx context.Context, email, password string) (models.LoginResponse, error) {
	var out models.LoginResponse
	err := c.JSON(ctx, http.MethodPost, "/api/auth/login", models.LoginRequest{Email: email, Password: password}, &out)
	if err != nil {
		return out, err
	}
	c.SetCSRFToken(out.CSRFToken)
	return out, nil
}

// Me is the signed-in user's profile.
type Me struct {
	Profile            models.Profile `json:"profile"`
	Badges             []string       `json:"badges"`
	EmailNotifications bool           `json:"email_notifications"`
}

func (c *Client) Me(ctx context.Context) (Me, error) {
	var out Me
	err := c.JSON(ctx, http.MethodGet, "/api/auth/me", nil, &out)
	return out, err
}

// ErrStreamFailed is returned when the server reports an error inside the stream.
var ErrStreamFailed = errors.New("question generation failed")

// GenerateQuestion streams a new practice question, passing each token to
// onToken. If the stream ends without a question payload the accumulated text
// is returned as the question body.
func (c *Client) GenerateQuestion(ctx context.Context, req models.GenerateRequest, onToken func(string)) (models.StudyQuestion, error) {
	p, err := c.Stream(ctx, "/api/study/generate", req, func(ev sse.Event) bool {
		if onToken == nil {
			return true
		}
		switch {
		case ev.Chunk == nil && !ev.Done:
			onToken(ev.Data)
		case ev.Chunk != nil && ev.Chunk.Text != "":
			onToken(ev.Chunk.Text)
		}
		return true
	})
	if err != nil {
		return models.StudyQuestion{}, err
	}
	if msg := p.Err(); msg != "" {
		return models.StudyQuestion{}, fmt.Errorf("%w: %s", ErrStreamFailed, msg)
	}
	var q models.StudyQuestion
	if raw := p.Question(); len(raw) > 0 {
		if err := json.Unmarshal(raw, &q); err != nil {
			return q, fmt.Errorf("failed to decode streamed question: %w", err)
		}
		return q, nil
	}
	q.Subject, q.Level, q.Topic = req.Subject, req.Level, req.Topic
	q.Question = p.Text()
	return q, nil
}

// GradeResponse is the result of grading one answer.
type GradeResponse struct {
	Result      models.GradeResult `json:"result"`
	ModelAnswer *string            `json:"model_answer"`
}

func (c *Client) Grade(ctx context.Context, questionID, answer string) (GradeResponse, error) {
	var out GradeResponse
	err := c.JSON(ctx, http.MethodPost, "/api/study/grade", models.GradeRequest{QuestionID: questionID, Answer: answer}, &out)
	return out, err
}

func (c *Client) Subjects(ctx context.Context) ([]models.Subject, error) {
	var out []models.Subject
	err := c.JSON(ctx, http.MethodGet, "/api/study/subjects", nil, &out)
	return out, err
}

// DueCards lists cards due now, optionally within one deck.
func (c *Client) DueCards(ctx context.Context, deckID string, limit int) ([]models.Flashcard, error) {
	q := url.Values{}
	if deckID != "" {
		q.Set("deck_id", deckID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/flashcards/due"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out []models.Flashcard
	err := c.JSON(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// ReviewResponse is the rescheduled card. Applied is false for a replay.
type ReviewResponse struct {
	Card      models.Flashcard `json:"card"`
	Applied   bool             `json:"applied"`
	XPAwarded int              `json:"xp_awarded"`
	Badges    []string         `json:"badges"`
}

// Review posts one rating. The quality and card id are checked before sending.
func (c *Client) Review(ctx context.Context, r models.ReviewRequest) (ReviewResponse, error) {
	if err := ValidateReview(r); err != nil {
		return ReviewResponse{}, err
	}
	var out ReviewResponse
	err := c.JSON(ctx, http.MethodPost, "/api/flashcards/review", r, &out)
	return out, err
}

// ErrInvalidReview rejects a review without a card id or outside 1..4.
var ErrInvalidReview = errors.New("review needs a card_id and a quality of 1, 2, 3 or 4")

func ValidateReview(r models.ReviewRequest) error {
	if r.CardID == "" || r.Quality < 1 || r.Quality > 4 {
		return ErrInvalidReview
	}
	return nil
}

func (c *Client) CreatePaper(ctx context.Context, req models.PaperRequest) (models.ExamPaper, error) {
	var out models.ExamPaper
	err := c.JSON(ctx, http.MethodPost, "/api/exams/papers", req, &out)
	return out, err
}

// StartedExam is the server session together with its paper.
type StartedExam struct {
	Session models.ExamSession `json:"session"`
	Paper   models.ExamPaper   `json:"paper"`
}

func (c *Client) StartExam(ctx context.Context, paperID string) (StartedExam, error) {
	var out StartedExam
	err := c.JSON(ctx, http.MethodPost, "/api/exams/sessions", models.SessionStartRequest{PaperID: paperID}, &out)
	return out, err
}

func (c *Client) StartWriting(ctx context.Context, sessionID string) (models.ExamSession, error) {
	var out models.ExamSession
	err := c.JSON(ctx, http.MethodPost, "/api/exams/sessions/"+url.PathEscape(sessionID)+"/start-writing", nil, &out)
	return out, err
}

func (c *Client) SaveAnswer(ctx context.Context, sessionID string, number int, answer string) error {
	path := fmt.Sprintf("/api/exams/sessions/%s/answers/%d", url.PathEscape(sessionID), number)
	return c.JSON(ctx, http.MethodPut, path, models.AnswerRequest{Answer: answer}, nil)
}

func (c *Client) ExamStatus(ctx context.Context, sessionID string) (models.SessionStatus, error) {
	var out models.SessionStatus
	err := c.JSON(ctx, http.MethodGet, "/api/exams/sessions/"+url.PathEscape(sessionID), nil, &out)
	return out, err
}

func (c *Client) SubmitExam(ctx context.Context, sessionID string, sub models.ExamSubmission) (models.ExamResult, error) {
	var out models.ExamResult
	err := c.JSON(ctx, http.MethodPost, "/api/exams/sessions/"+url.PathEscape(sessionID)+"/submit", sub, &out)
	return out, err
}

func (c *Client) ToggleTask(ctx context.Context, id string) (models.PlannerTask, error) {
	var out models.PlannerTask
	err := c.JSON(ctx, http.MethodPatch, "/api/planner/tasks/"+url.PathEscape(id)+"/toggle", nil, &out)
	return out, err
}

// Posts fetches one page of the community feed.
func (c *Client) Posts(ctx context.Context, page, perPage int, subject string) (models.PostPage, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(perPage))
	if subject != "" {
		q.Set("subject", subject)
	}
	var out models.PostPage
	err := c.JSON(ctx, http.MethodGet, "/api/community/posts?"+q.Encode(), nil, &out)
	return out, err
}

// Vote sets the caller's vote on a post. Every call is a request.
func (c *Client) Vote(ctx context.Context, postID string, value int) (models.VoteResult, error) {
	var out models.VoteResult
	err := c.JSON(ctx, http.MethodPost, "/api/community/posts/"+url.PathEscape(postID)+"/vote", models.VoteRequest{Value: &value}, &out)
	return out, err
}

func (c *Client) Dashboard(ctx context.Context) (models.Dashboard, error) {
	var out models.Dashboard
	err := c.JSON(ctx, http.MethodGet, "/api/dashboard", nil, &out)
	return out, err
}
