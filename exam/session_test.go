package exam

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"ibstudy-server/models"
)

// fakeClock fires AfterFunc callbacks synchronously from Advance.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped && !t.fired
	t.stopped = true
	return was
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 5, 11, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	sort.Slice(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.f()
	}
}

func testPaper(reading int) models.ExamPaper {
	return models.ExamPaper{
		ID:              "p1",
		DurationMinutes: 90,
		ReadingMinutes:  reading,
		TotalMarks:      10,
		Questions: []models.ExamQuestion{
			{Number: 1, Marks: 2, Topic: "Cells"},
			{Number: 2, Marks: 3, Topic: "Cells"},
			{Number: 3, Marks: 5, Topic: "Genetics"},
		},
	}
}

func TestExamTimerExpiresExactlyAtDuration(t *testing.T) {
	clock := newFakeClock()
	calls := 0
	s := NewSession(testPaper(0), WithClock(clock), OnExpire(func() { calls++ }))
	defer s.Close()

	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if s.Phase() != PhaseActive {
		t.Fatalf("phase = %s, want active", s.Phase())
	}

	clock.Advance(90*60*time.Second - time.Nanosecond)
	if calls != 0 {
		t.Fatalf("expired early: %d calls", calls)
	}
	if s.Remaining() != time.Nanosecond {
		t.Errorf("Remaining() = %s, want 1ns", s.Remaining())
	}

	clock.Advance(time.Nanosecond)
	if calls != 1 {
		t.Fatalf("callback calls = %d, want 1", calls)
	}
	if s.Phase() != PhaseReview {
		t.Errorf("phase after expiry = %s, want review", s.Phase())
	}

	clock.Advance(time.Hour)
	if calls != 1 {
		t.Errorf("callback fired again: %d calls", calls)
	}
	if err := s.SetAnswer(1, "late"); !errors.Is(err, ErrAnswersLocked) {
		t.Errorf("SetAnswer after expiry error = %v, want ErrAnswersLocked", err)
	}
	if err := s.Resume(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Resume after expiry error = %v, want ErrInvalidTransition", err)
	}
}

func TestReadingTimeThenExamClock(t *testing.T) {
	clock := newFakeClock()
	var phases []Phase
	s := NewSession(testPaper(5), WithClock(clock), OnPhase(func(p Phase) { phases = append(phases, p) }))
	defer s.Close()

	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	if err := s.SetAnswer(1, "too early"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("SetAnswer during reading error = %v", err)
	}
	clock.Advance(5 * time.Minute)
	if s.Phase() != PhaseActive {
		t.Fatalf("phase = %s, want active after reading time", s.Phase())
	}
	// exam clock starts when active begins
	clock.Advance(90*time.Minute - time.Second)
	if s.Expired() {
		t.Fatal("expired before duration measured from the active phase")
	}
	clock.Advance(time.Second)
	if !s.Expired() {
		t.Fatal("not expired at duration")
	}
	want := []Phase{PhaseReading, PhaseActive, PhaseReview}
	if len(phases) != len(want) {
		t.Fatalf("phases = %v, want %v", phases, want)
	}
	for i := range want {
		if phases[i] != want[i] {
			t.Errorf("phases[%d] = %s, want %s", i, phases[i], want[i])
		}
	}
}

func TestInvalidTransitions(t *testing.T) {
	s := NewSession(testPaper(0), WithClock(newFakeClock()))
	defer s.Close()

	if err := s.Review(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Review from config error = %v", err)
	}
	if _, err := s.BeginSubmit(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("BeginSubmit from config error = %v", err)
	}
	if err := s.Complete(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Complete from config error = %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("second Start error = %v", err)
	}
	if err := s.SkipReading(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("SkipReading while active error = %v", err)
	}
}

func TestReviewResumeSubmitFlow(t *testing.T) {
	clock := newFakeClock()
	expired := 0
	s := NewSession(testPaper(0), WithClock(clock), OnExpire(func() { expired++ }))

	_ = s.Start()
	if err := s.SetAnswer(3, "answer"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetAnswer(9, "x"); !errors.Is(err, ErrUnknownQuestion) {
		t.Errorf("SetAnswer(9) error = %v, want ErrUnknownQuestion", err)
	}
	if err := s.Review(); err != nil {
		t.Fatal(err)
	}
	if err := s.Resume(); err != nil {
		t.Fatalf("Resume with time left error = %v", err)
	}
	sub, err := s.BeginSubmit()
	if err != nil {
		t.Fatal(err)
	}
	if s.Phase() != PhaseSubmitting {
		t.Errorf("phase = %s", s.Phase())
	}
	if sub.Answers[3] != "answer" {
		t.Errorf("submission answers = %v", sub.Answers)
	}
	if err := s.SetAnswer(1, "after submit"); !errors.Is(err, ErrAnswersLocked) {
		t.Errorf("SetAnswer while submitting error = %v", err)
	}
	if err := s.SubmitFailed(); err != nil {
		t.Fatal(err)
	}
	if _, err := s.BeginSubmit(); err != nil {
		t.Fatalf("retry BeginSubmit error = %v", err)
	}
	if err := s.Complete(); err != nil {
		t.Fatal(err)
	}
	if s.Phase() != PhaseResults {
		t.Errorf("phase = %s, want results", s.Phase())
	}

	// timers were stopped by BeginSubmit
	clock.Advance(3 * time.Hour)
	if expired != 0 {
		t.Errorf("expiry callback after submit: %d", expired)
	}
}

func TestZeroAnswerSubmissionIncludesEveryQuestion(t *testing.T) {
	s := NewSession(testPaper(0), WithClock(newFakeClock()))
	defer s.Close()
	_ = s.Start()

	sub := s.Submission()
	if len(sub.Answers) != 3 {
		t.Fatalf("answers = %v, want 3 entries", sub.Answers)
	}
	for _, n := range []int{1, 2, 3} {
		a, ok := sub.Answers[n]
		if !ok || a != "" {
			t.Errorf("answer %d = %q (present %v), want empty string", n, a, ok)
		}
	}
	if sub.EstimatedMarks != 0 {
		t.Errorf("EstimatedMarks = %d, want 0", sub.EstimatedMarks)
	}
}

func TestEstimateMarks(t *testing.T) {
	p := testPaper(0)
	answers := map[int]string{
		1: strings.Repeat("word ", 25),  // 1 of 2 marks
		2: strings.Repeat("word ", 500), // capped at 3
		3: "",
	}
	if got := EstimateMarks(p, answers); got != 4 {
		t.Errorf("EstimateMarks = %d, want 4", got)
	}
}
