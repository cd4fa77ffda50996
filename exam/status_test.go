package exam

import (
	"errors"
	"testing"
	"time"
)

func TestServerSessionPhases(t *testing.T) {
	start := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	paper := testPaper(5)
	paper.DurationMinutes = 90
	s := NewServerSession("s1", "u1", paper, start)

	if !s.EndsAt.Equal(start.Add(95 * time.Minute)) {
		t.Fatalf("EndsAt = %v", s.EndsAt)
	}
	tests := []struct {
		at      time.Duration
		phase   Phase
		accepts bool
	}{
		{0, PhaseReading, false},
		{5 * time.Minute, PhaseActive, true},
		{95*time.Minute - time.Second, PhaseActive, true},
		{95 * time.Minute, PhaseReview, true},
		{95*time.Minute + AnswerGrace, PhaseReview, false},
	}
	for _, tt := range tests {
		now := start.Add(tt.at)
		if got := PhaseAt(s, now); got != tt.phase {
			t.Errorf("PhaseAt(+%v) = %s, want %s", tt.at, got, tt.phase)
		}
		if got := AcceptsAnswers(s, now); got != tt.accepts {
			t.Errorf("AcceptsAnswers(+%v) = %v, want %v", tt.at, got, tt.accepts)
		}
	}

	done := start.Add(time.Hour)
	s.SubmittedAt = &done
	if PhaseAt(s, done) != PhaseResults || AcceptsAnswers(s, done) {
		t.Error("submitted session still open")
	}
}

func TestStatusAt(t *testing.T) {
	start := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	paper := testPaper(0)
	paper.DurationMinutes = 60
	s := NewServerSession("s1", "u1", paper, start)
	s.Answers = map[int]string{1: "osmosis", 2: "  "}

	st := StatusAt(s, paper, start.Add(30*time.Minute))
	if st.Phase != "active" || st.AnsweredCount != 1 || st.RemainingCount != len(paper.Questions)-1 {
		t.Errorf("status = %+v", st)
	}
	if st.RemainingSeconds != 1800 || st.TimeRemaining != "00:30:00" {
		t.Errorf("remaining = %d %q", st.RemainingSeconds, st.TimeRemaining)
	}
	if got := StatusAt(s, paper, start.Add(2*time.Hour)); got.RemainingSeconds != 0 || got.Phase != "review" {
		t.Errorf("expired status = %+v", got)
	}
}

func TestStartWritingKeepsClocksTogether(t *testing.T) {
	clock := newFakeClock()
	paper := testPaper(5)
	paper.DurationMinutes = 90
	server := NewServerSession("s1", "u1", paper, clock.Now())
	client := NewSession(paper, WithClock(clock))
	defer client.Close()
	if err := client.Start(); err != nil {
		t.Fatal(err)
	}

	clock.Advance(time.Minute)
	now := clock.Now()
	server, err := StartWritingAt(server, paper, now)
	if err != nil {
		t.Fatal(err)
	}
	if err := client.SkipReading(); err != nil {
		t.Fatal(err)
	}

	if got := PhaseAt(server, now); got != PhaseActive || !AcceptsAnswers(server, now) {
		t.Errorf("server phase = %s, accepts = %v", got, AcceptsAnswers(server, now))
	}
	if err := client.SetAnswer(1, "osmosis"); err != nil {
		t.Errorf("client SetAnswer: %v", err)
	}
	if got, want := client.Remaining(), server.EndsAt.Sub(now); got != want || want != 90*time.Minute {
		t.Errorf("client remaining = %v, server remaining = %v", got, want)
	}
	if _, err := StartWritingAt(server, paper, now); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("second start = %v, want ErrInvalidTransition", err)
	}

	clock.Advance(90 * time.Minute)
	if !client.Expired() || PhaseAt(server, clock.Now()) != PhaseReview {
		t.Errorf("client expired = %v, server phase = %s", client.Expired(), PhaseAt(server, clock.Now()))
	}
}

func TestReadingTimerMatchesServerDeadline(t *testing.T) {
	clock := newFakeClock()
	paper := testPaper(5)
	server := NewServerSession("s1", "u1", paper, clock.Now())
	client := NewSession(paper, WithClock(clock))
	defer client.Close()
	client.Start()

	clock.Advance(5 * time.Minute)
	now := clock.Now()
	if client.Phase() != PhaseActive || PhaseAt(server, now) != PhaseActive {
		t.Fatalf("client = %s, server = %s", client.Phase(), PhaseAt(server, now))
	}
	if got, want := client.Remaining(), server.EndsAt.Sub(now); got != want {
		t.Errorf("client remaining = %v, server remaining = %v", got, want)
	}
}
