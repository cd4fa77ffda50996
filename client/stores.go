package client

import (
	"context"
	"fmt"
	"sync"

	"ibstudy-server/exam"
	"ibstudy-server/models"
)

// FeedAPI is what FeedStore needs from the server.
type FeedAPI interface {
	Posts(ctx context.Context, page, perPage int, subject string) (models.PostPage, error)
	Vote(ctx context.Context, postID string, value int) (models.VoteResult, error)
}

// FeedStore holds a page of community posts and casts votes optimistically.
type FeedStore struct {
	api FeedAPI

	mu    sync.Mutex
	posts []models.CommunityPost
	page  models.PostPage
}

func NewFeedStore(api FeedAPI) *FeedStore {
	return &FeedStore{api: api}
}

// Load replaces the held posts with one page from the server.
func (s *FeedStore) Load(ctx context.Context, page, perPage int, subject string) error {
	p, err := s.api.Posts(ctx, page, perPage, subject)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.page = p
	s.posts = append([]models.CommunityPost(nil), p.Posts...)
	s.mu.Unlock()
	return nil
}

// Set replaces the held posts.
func (s *FeedStore) Set(posts []models.CommunityPost) {
	s.mu.Lock()
	s.posts = append([]models.CommunityPost(nil), posts...)
	s.mu.Unlock()
}

// Posts returns a copy of the held posts.
func (s *FeedStore) Posts() []models.CommunityPost {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.CommunityPost(nil), s.posts...)
}

// Post returns one held post.
func (s *FeedStore) Post(id string) (models.CommunityPost, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexLocked(id); i >= 0 {
		return s.posts[i], true
	}
	return models.CommunityPost{}, false
}

func (s *FeedStore) indexLocked(id string) int {
	for i := range s.posts {
		if s.posts[i].ID == id {
			return i
		}
	}
	return -1
}

// Vote shows value at once, then sends it. On success the server totals are
// applied; on failure the post goes back to how it was before this call.
// Every call sends a request, including a repeat of the current vote, and
// whichever response arrives last decides what is shown.
func (s *FeedStore) Vote(ctx context.Context, postID string, value int) (models.VoteResult, error) {
	if value < -1 || value > 1 {
		return models.VoteResult{}, fmt.Errorf("vote must be -1, 0 or 1, got %d", value)
	}
	s.mu.Lock()
	i := s.indexLocked(postID)
	if i < 0 {
		s.mu.Unlock()
		return models.VoteResult{}, fmt.Errorf("post %s is not loaded", postID)
	}
	before := s.posts[i]
	s.posts[i].Votes += value - s.posts[i].UserVote
	s.posts[i].UserVote = value
	s.mu.Unlock()

	res, err := s.api.Vote(ctx, postID, value)

	s.mu.Lock()
	defer s.mu.Unlock()
	if i = s.indexLocked(postID); i < 0 {
		return res, err
	}
	if err != nil {
		s.posts[i].Votes = before.Votes
		s.posts[i].UserVote = before.UserVote
		return res, err
	}
	s.posts[i].Votes = res.Votes
	s.posts[i].UserVote = res.UserVote
	return res, nil
}

// ExamAPI is what ExamStore needs from the server.
type ExamAPI interface {
	StartWriting(ctx context.Context, sessionID string) (models.ExamSession, error)
	SaveAnswer(ctx context.Context, sessionID string, number int, answer string) error
	SubmitExam(ctx context.Context, sessionID string, sub models.ExamSubmission) (models.ExamResult, error)
}

// ExamStore runs one started exam on the client: the phase machine and timers
// live in exam.Session, the server gets answers and the final submission.
type ExamStore struct {
	api       ExamAPI
	sessionID string
	paper     models.ExamPaper
	sess      *exam.Session

	mu     sync.Mutex
	result *models.ExamResult
}

// NewExamStore wraps a started exam. opts go to exam.NewSession, so callers
// can inject a clock or an expiry callback.
func NewExamStore(api ExamAPI, started StartedExam, opts ...exam.Option) *ExamStore {
	return &ExamStore{
		api:       api,
		sessionID: started.Session.ID,
		paper:     started.Paper,
		sess:      exam.NewSession(started.Paper, opts...),
	}
}

func (s *ExamStore) Session() *exam.Session { return s.sess }
func (s *ExamStore) Paper() models.ExamPaper { return s.paper }
func (s *ExamStore) Phase() exam.Phase { return s.sess.Phase() }
func (s *ExamStore) Start() error { return s.sess.Start() }
func (s *ExamStore) Close() { s.sess.Close() }

// StartWriting ends reading time on the server first, then locally, so both
// clocks run the exam from the same moment.
func (s *ExamStore) StartWriting(ctx context.Context) error {
	if s.sess.Phase() != exam.PhaseReading {
		return fmt.Errorf("%w: start writing during %s", exam.ErrInvalidTransition, s.sess.Phase())
	}
	if _, err := s.api.StartWriting(ctx, s.sessionID); err != nil {
		return err
	}
	return s.sess.SkipReading()
}

// Answer records an answer locally and saves it on the server.
func (s *ExamStore) Answer(ctx context.Context, number int, text string) error {
	if err := s.sess.SetAnswer(number, text); err != nil {
		return err
	}
	return s.api.SaveAnswer(ctx, s.sessionID, number, text)
}

// Submit sends every question's answer with the placeholder estimate. A
// failed request returns the session to review so it can be retried.
func (s *ExamStore) Submit(ctx context.Context) (models.ExamResult, error) {
	sub, err := s.sess.BeginSubmit()
	if err != nil {
		return models.ExamResult{}, err
	}
	res, err := s.api.SubmitExam(ctx, s.sessionID, sub)
	if err != nil {
		_ = s.sess.SubmitFailed()
		return models.ExamResult{}, err
	}
	if err := s.sess.Complete(); err != nil {
		return res, err
	}
	s.mu.Lock()
	s.result = &res
	s.mu.Unlock()
	return res, nil
}

// Result is the graded result once the exam was submitted.
func (s *ExamStore) Result() (models.ExamResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result == nil {
		return models.ExamResult{}, false
	}
	return *s.result, true
}

// ProfileCache keeps the /api/auth/me response until invalidated.
type ProfileCache struct {
	load func(ctx context.Context) (Me, error)

	mu     sync.Mutex
	cached *Me
}

func NewProfileCache(c *Client) *ProfileCache {
	return &ProfileCache{load: c.Me}
}

// Get returns the cached profile, loading it on first use.
func (p *ProfileCache) Get(ctx context.Context) (Me, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cached != nil {
		return *p.cached, nil
	}
	me, err := p.load(ctx)
	if err != nil {
		return Me{}, err
	}
	p.cached = &me
	return me, nil
}

// Invalidate drops the cached profile, e.g. after spending credits or logging out.
func (p *ProfileCache) Invalidate() {
	p.mu.Lock()
	p.cached = nil
	p.mu.Unlock()
}
