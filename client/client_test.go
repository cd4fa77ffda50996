package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"ibstudy-server/exam"
	"ibstudy-server/models"
	"ibstudy-server/sse"
)

func TestDoStatusMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/401":
			w.WriteHeader(401)
			io.WriteString(w, `{"error":"Authentication required"}`)
		case "/402":
			w.WriteHeader(402)
			io.WriteString(w, `{"error":"Insufficient credits","credits":0}`)
		case "/403plan":
			w.WriteHeader(403)
			io.WriteString(w, `{"error":"This feature needs premium","required_plan":"premium"}`)
		case "/403":
			w.WriteHeader(403)
			io.WriteString(w, `{"error":"Not your deck"}`)
		case "/500":
			w.WriteHeader(500)
			io.WriteString(w, `{"error":"boom"}`)
		}
	}))
	defer srv.Close()

	var loginPath, plan string
	credits := -1
	c := New(srv.URL, "", nil, 5)
	c.Hooks = Hooks{
		OnUnauthorized:        func(p string) { loginPath = p },
		OnInsufficientCredits: func(n int) { credits = n },
		OnUpgradeRequired:     func(p string) { plan = p },
	}
	ctx := context.Background()

	_, err := c.Do(ctx, "GET", "/401", nil)
	var ue *UnauthorizedError
	if !errors.Is(err, ErrUnauthorized) || !errors.As(err, &ue) {
		t.Fatalf("401 error = %v", err)
	}
	if ue.LoginPath != "/login?next=%2F401" || loginPath != ue.LoginPath {
		t.Errorf("login path = %q, hook got %q", ue.LoginPath, loginPath)
	}

	if _, err := c.Do(ctx, "POST", "/402", map[string]string{}); !errors.Is(err, ErrInsufficientCredits) {
		t.Errorf("402 error = %v", err)
	}
	if credits != 0 {
		t.Errorf("credits hook got %d", credits)
	}

	_, err = c.Do(ctx, "GET", "/403plan", nil)
	var upg *UpgradeRequiredError
	if !errors.As(err, &upg) || upg.Plan != "premium" || plan != "premium" {
		t.Errorf("403 plan error = %v, hook plan %q", err, plan)
	}

	resp, err := c.Do(ctx, "GET", "/403", nil)
	if err != nil {
		t.Fatalf("plain 403 should be returned raw, got %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != 403 || !strings.Contains(string(body), "Not your deck") {
		t.Errorf("plain 403 = %d %s", resp.StatusCode, body)
	}

	resp, err = c.Do(ctx, "GET", "/500", nil)
	if err != nil || resp.StatusCode != 500 {
		t.Fatalf("500 should be returned raw, got %v", err)
	}
	resp.Body.Close()

	var apiErr *APIError
	if err := c.JSON(ctx, "GET", "/500", nil, nil); !errors.As(err, &apiErr) || apiErr.Message != "boom" {
		t.Errorf("JSON 500 error = %v", err)
	}
}

func TestHeadersAndLoginSession(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("Accept") != "application/json" {
			t.Errorf("Accept = %q", r.Header.Get("Accept"))
		}
		switch r.URL.Path {
		case "/api/auth/login":
			if r.Header.Get("Content-Type") != "application/json" {
				t.Errorf("Content-Type = %q", r.Header.Get("Content-Type"))
			}
			if r.Header.Get("X-CSRF-Token") != "" {
				t.Error("CSRF header sent before login")
			}
			http.SetCookie(w, &http.Cookie{Name: "ib_session", Value: "tok", Path: "/"})
			json.NewEncoder(w).Encode(models.LoginResponse{CSRFToken: "csrf-1", User: models.Profile{Email: "a@b.c"}})
		case "/api/planner/tasks/t1/toggle":
			if r.Method != http.MethodPatch {
				t.Errorf("method = %s", r.Method)
			}
			if r.Header.Get("X-CSRF-Token") != "csrf-1" {
				t.Errorf("CSRF header = %q", r.Header.Get("X-CSRF-Token"))
			}
			if ck, err := r.Cookie("ib_session"); err != nil || ck.Value != "tok" {
				t.Errorf("session cookie missing: %v", err)
			}
			json.NewEncoder(w).Encode(models.PlannerTask{ID: "t1", Completed: true})
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "", nil, 5)
	ctx := context.Background()
	if _, err := c.Login(ctx, "a@b.c", "password1"); err != nil {
		t.Fatal(err)
	}
	if c.CSRFToken() != "csrf-1" {
		t.Errorf("CSRF token = %q", c.CSRFToken())
	}
	task, err := c.ToggleTask(ctx, "t1")
	if err != nil || !task.Completed {
		t.Errorf("ToggleTask = %+v, %v", task, err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d", calls.Load())
	}
}

func TestBearerToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer abc" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		io.WriteString(w, `[]`)
	}))
	defer srv.Close()
	if _, err := New(srv.URL, "abc", nil, 5).Subjects(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestGenerateQuestionStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != sse.ContentType {
			t.Errorf("Accept = %q", r.Header.Get("Accept"))
		}
		w.Header().Set("Content-Type", sse.ContentType)
		f := w.(http.Flusher)
		for _, tok := range []string{"Explain ", "osmosis."} {
			sse.WriteChunk(w, sse.Chunk{Type: "token", Text: tok})
			f.Flush()
		}
		q, _ := json.Marshal(models.StudyQuestion{ID: "q1", Question: "Explain osmosis.", Marks: 4})
		sse.WriteChunk(w, sse.Chunk{Type: "question", Question: q})
		sse.WriteDone(w)
	}))
	defer srv.Close()

	var tokens []string
	q, err := New(srv.URL, "", nil, 5).GenerateQuestion(context.Background(), models.GenerateRequest{Subject: "Biology"}, func(s string) {
		tokens = append(tokens, s)
	})
	if err != nil {
		t.Fatal(err)
	}
	if q.ID != "q1" || q.Marks != 4 {
		t.Errorf("question = %+v", q)
	}
	if strings.Join(tokens, "") != "Explain osmosis." {
		t.Errorf("tokens = %q", tokens)
	}
}

func TestGenerateQuestionStreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", sse.ContentType)
		sse.WriteChunk(w, sse.Chunk{Type: "error", Error: "AI unavailable"})
		sse.WriteDone(w)
	}))
	defer srv.Close()
	_, err := New(srv.URL, "", nil, 5).GenerateQuestion(context.Background(), models.GenerateRequest{}, nil)
	if !errors.Is(err, ErrStreamFailed) {
		t.Errorf("error = %v", err)
	}
}

func TestReviewValidatedBeforeSending(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req models.ReviewRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.CardID == "" {
			t.Error("review sent without card_id")
		}
		json.NewEncoder(w).Encode(ReviewResponse{Card: models.Flashcard{ID: req.CardID}, Applied: true})
	}))
	defer srv.Close()
	c := New(srv.URL, "", nil, 5)
	ctx := context.Background()

	bad := []models.ReviewRequest{
		{CardID: "c1", Quality: 0},
		{CardID: "c1", Quality: 5},
		{CardID: "", Quality: 3},
	}
	for _, r := range bad {
		if _, err := c.Review(ctx, r); !errors.Is(err, ErrInvalidReview) {
			t.Errorf("Review(%+v) error = %v", r, err)
		}
	}
	if calls.Load() != 0 {
		t.Fatalf("invalid reviews reached the server %d times", calls.Load())
	}
	for q := 1; q <= 4; q++ {
		if _, err := c.Review(ctx, models.ReviewRequest{CardID: "c1", Quality: q}); err != nil {
			t.Errorf("quality %d: %v", q, err)
		}
	}
	if calls.Load() != 4 {
		t.Errorf("calls = %d, want 4", calls.Load())
	}
}

// fakeFeed blocks each vote until released so tests can look at the store mid-flight.
type fakeFeed struct {
	mu      sync.Mutex
	calls   int
	started chan struct{}
	release chan struct{}
	result  func(value int) (models.VoteResult, error)
}

func (f *fakeFeed) Posts(context.Context, int, int, string) (models.PostPage, error) {
	return models.PostPage{Posts: []models.CommunityPost{{ID: "p1", Votes: 10}}}, nil
}

func (f *fakeFeed) Vote(_ context.Context, postID string, value int) (models.VoteResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.started != nil {
		f.started <- struct{}{}
		<-f.release
	}
	return f.result(value)
}

func TestFeedStoreVoteTwiceSendsTwoRequests(t *testing.T) {
	f := &fakeFeed{result: func(v int) (models.VoteResult, error) {
		return models.VoteResult{PostID: "p1", Votes: 10 + v, UserVote: v}, nil
	}}
	s := NewFeedStore(f)
	if err := s.Load(context.Background(), 1, 20, ""); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if _, err := s.Vote(context.Background(), "p1", 1); err != nil {
			t.Fatal(err)
		}
	}
	if f.calls != 2 {
		t.Errorf("calls = %d, want 2", f.calls)
	}
	p, _ := s.Post("p1")
	if p.Votes != 11 || p.UserVote != 1 {
		t.Errorf("post = %+v", p)
	}
}

func TestFeedStoreOptimisticThenServerTotals(t *testing.T) {
	f := &fakeFeed{
		started: make(chan struct{}),
		release: make(chan struct{}),
		result: func(v int) (models.VoteResult, error) {
			// someone else voted meanwhile
			return models.VoteResult{PostID: "p1", Votes: 12, UserVote: v}, nil
		},
	}
	s := NewFeedStore(f)
	s.Load(context.Background(), 1, 20, "")

	done := make(chan error)
	go func() {
		_, err := s.Vote(context.Background(), "p1", 1)
		done <- err
	}()
	<-f.started
	if p, _ := s.Post("p1"); p.Votes != 11 || p.UserVote != 1 {
		t.Errorf("optimistic post = %+v", p)
	}
	close(f.release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if p, _ := s.Post("p1"); p.Votes != 12 || p.UserVote != 1 {
		t.Errorf("post after response = %+v", p)
	}
}

func TestFeedStoreRollback(t *testing.T) {
	f := &fakeFeed{
		started: make(chan struct{}),
		release: make(chan struct{}),
		result: func(int) (models.VoteResult, error) {
			return models.VoteResult{}, errors.New("network down")
		},
	}
	s := NewFeedStore(f)
	s.Set([]models.CommunityPost{{ID: "p1", Votes: 10, UserVote: 1}})

	done := make(chan error)
	go func() {
		_, err := s.Vote(context.Background(), "p1", -1)
		done <- err
	}()
	<-f.started
	if p, _ := s.Post("p1"); p.Votes != 8 || p.UserVote != -1 {
		t.Errorf("optimistic post = %+v", p)
	}
	close(f.release)
	if err := <-done; err == nil {
		t.Fatal("expected error")
	}
	if p, _ := s.Post("p1"); p.Votes != 10 || p.UserVote != 1 {
		t.Errorf("rolled back post = %+v", p)
	}
}

type fakeExamAPI struct {
	saved     map[int]string
	submitted *models.ExamSubmission
	fail      bool
	writing   int
	conflict  bool
}

func (f *fakeExamAPI) StartWriting(context.Context, string) (models.ExamSession, error) {
	if f.conflict {
		return models.ExamSession{}, &APIError{Status: http.StatusConflict, Message: "reading is over"}
	}
	f.writing++
	return models.ExamSession{ID: "s1"}, nil
}

func (f *fakeExamAPI) SaveAnswer(_ context.Context, _ string, n int, a string) error {
	if f.saved == nil {
		f.saved = map[int]string{}
	}
	f.saved[n] = a
	return nil
}

func (f *fakeExamAPI) SubmitExam(_ context.Context, _ string, sub models.ExamSubmission) (models.ExamResult, error) {
	if f.fail {
		return models.ExamResult{}, errors.New("offline")
	}
	f.submitted = &sub
	return models.ExamResult{AwardedMarks: 3, TotalMarks: 10, EstimatedMarks: sub.EstimatedMarks}, nil
}

func startedExam() StartedExam {
	return StartedExam{
		Session: models.ExamSession{ID: "s1"},
		Paper: models.ExamPaper{
			DurationMinutes: 60,
			Questions: []models.ExamQuestion{
				{Number: 1, Marks: 4}, {Number: 2, Marks: 6},
			},
		},
	}
}

func TestExamStoreSubmitAll(t *testing.T) {
	api := &fakeExamAPI{}
	s := NewExamStore(api, startedExam())
	defer s.Close()
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	if err := s.Answer(context.Background(), 2, "diffusion of water"); err != nil {
		t.Fatal(err)
	}
	if api.saved[2] != "diffusion of water" {
		t.Errorf("saved = %v", api.saved)
	}
	res, err := s.Submit(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(api.submitted.Answers) != 2 || api.submitted.Answers[1] != "" {
		t.Errorf("submission = %+v", api.submitted.Answers)
	}
	if s.Phase() != exam.PhaseResults || res.AwardedMarks != 3 {
		t.Errorf("phase = %s, result = %+v", s.Phase(), res)
	}
	if _, ok := s.Result(); !ok {
		t.Error("result not kept")
	}
}

func TestExamStoreSubmitFailureReturnsToReview(t *testing.T) {
	api := &fakeExamAPI{fail: true}
	s := NewExamStore(api, startedExam())
	defer s.Close()
	s.Start()
	if _, err := s.Submit(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if s.Phase() != exam.PhaseReview {
		t.Errorf("phase = %s, want review", s.Phase())
	}
	api.fail = false
	if _, err := s.Submit(context.Background()); err != nil {
		t.Errorf("retry: %v", err)
	}
}

func TestProfileCache(t *testing.T) {
	loads := 0
	p := &ProfileCache{load: func(context.Context) (Me, error) {
		loads++
		return Me{Profile: models.Profile{Credits: 10 - loads}}, nil
	}}
	ctx := context.Background()
	p.Get(ctx)
	me, _ := p.Get(ctx)
	if loads != 1 || me.Profile.Credits != 9 {
		t.Errorf("loads = %d, credits = %d", loads, me.Profile.Credits)
	}
	p.Invalidate()
	me, _ = p.Get(ctx)
	if loads != 2 || me.Profile.Credits != 8 {
		t.Errorf("after invalidate loads = %d, credits = %d", loads, me.Profile.Credits)
	}
}

func TestIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	url := srv.URL
	srv.Close()

	c := New(url, "", nil, 5)
	_, err := c.Do(context.Background(), http.MethodGet, "/api/dashboard", nil)
	if !IsNetworkError(err) {
		t.Errorf("closed server error %v not classed as network", err)
	}
	if IsNetworkError(&APIError{Status: 500}) || IsNetworkError(ErrInsufficientCredits) {
		t.Error("server answers classed as network errors")
	}
}

func TestExamStoreStartWritingAsksServerFirst(t *testing.T) {
	started := startedExam()
	started.Paper.ReadingMinutes = 5

	api := &fakeExamAPI{conflict: true}
	s := NewExamStore(api, started)
	defer s.Close()
	s.Start()
	if err := s.StartWriting(context.Background()); err == nil {
		t.Fatal("expected the server refusal")
	}
	if s.Phase() != exam.PhaseReading {
		t.Errorf("phase = %s, want reading until the server agrees", s.Phase())
	}

	api.conflict = false
	if err := s.StartWriting(context.Background()); err != nil {
		t.Fatal(err)
	}
	if s.Phase() != exam.PhaseActive || api.writing != 1 {
		t.Errorf("phase = %s, server calls = %d", s.Phase(), api.writing)
	}
	if err := s.StartWriting(context.Background()); !errors.Is(err, exam.ErrInvalidTransition) {
		t.Errorf("second start = %v, want ErrInvalidTransition", err)
	}
	if api.writing != 1 {
		t.Errorf("server called %d times", api.writing)
	}
}
