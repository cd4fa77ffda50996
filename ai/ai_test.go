package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"ibstudy-server/models"
)

func reply(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": content}}},
	})
}

func TestGradeAnswer(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		json.NewDecoder(r.Body).Decode(&got)
		reply(w, "```json\n{\"mark_earned\": 3, \"strengths\": [\"clear definition\"], \"commentary\": \"Good.\"}\n```")
	}))
	defer srv.Close()

	s := NewService(srv.URL+"/", "sk-test", "test-model", 5)
	res, err := s.GradeAnswer(context.Background(), GradeInput{
		Subject: "bio", Level: "SL", Marks: 4, Question: "Define osmosis.", Answer: "Movement of water.",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.MarkEarned != 3 || res.MarkTotal != 4 {
		t.Errorf("marks = %d/%d", res.MarkEarned, res.MarkTotal)
	}
	if len(res.Strengths) != 1 || res.Improvements == nil {
		t.Errorf("strengths = %v, improvements = %v", res.Strengths, res.Improvements)
	}
	if got.Model != "test-model" || got.Stream {
		t.Errorf("request model = %q stream = %v", got.Model, got.Stream)
	}
	if got.ResponseFormat == nil || got.ResponseFormat.Type != "json_object" {
		t.Error("json response format not requested")
	}
}

func TestStatusErrors(t *testing.T) {
	tests := []struct {
		status int
		check  func(error) bool
	}{
		{http.StatusTooManyRequests, func(err error) bool { return errors.Is(err, ErrRateLimited) }},
		{http.StatusBadGateway, func(err error) bool {
			var ue *UpstreamError
			return errors.As(err, &ue) && ue.Status == http.StatusBadGateway && ue.Body == "bad gateway"
		}},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "bad gateway", tt.status)
			}))
			defer srv.Close()
			_, err := NewService(srv.URL, "", "m", 5).TutorReply(context.Background(), "", nil, "hi")
			if !tt.check(err) {
				t.Errorf("unexpected error %v", err)
			}
		})
	}
}

func TestEmptyCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices": []}`))
	}))
	defer srv.Close()
	_, err := NewService(srv.URL, "", "m", 5).GenerateFlashcards(context.Background(), "bio", "Cells", 3)
	if !errors.Is(err, ErrEmptyCompletion) {
		t.Errorf("error = %v, want ErrEmptyCompletion", err)
	}
}

func TestGenerateFlashcardsDropsBlankAndCaps(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reply(w, `{"cards": [{"front": "a", "back": "1"}, {"front": "", "back": "x"}, {"front": "b", "back": "2"}, {"front": "c", "back": "3"}]}`)
	}))
	defer srv.Close()
	cards, err := NewService(srv.URL, "", "m", 5).GenerateFlashcards(context.Background(), "bio", "Cells", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(cards) != 2 || cards[0].Front != "a" || cards[1].Front != "b" {
		t.Errorf("cards = %+v", cards)
	}
}

func TestTutorReplySendsHistory(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		reply(w, "  What do you already know about moles?  ")
	}))
	defer srv.Close()

	history := []models.TutorMessage{
		{Role: "user", Content: "help with stoichiometry"},
		{Role: "assistant", Content: "Sure."},
	}
	out, err := NewService(srv.URL, "", "m", 5).TutorReply(context.Background(), "chem", history, "where do I start?")
	if err != nil {
		t.Fatal(err)
	}
	if out != "What do you already know about moles?" {
		t.Errorf("reply = %q", out)
	}
	if len(got.Messages) != 4 || got.Messages[0].Role != "system" || got.Messages[3].Content != "where do I start?" {
		t.Errorf("messages = %+v", got.Messages)
	}
	if !strings.Contains(got.Messages[0].Content, "chem") {
		t.Errorf("system prompt missing subject: %q", got.Messages[0].Content)
	}
}

func TestStreamQuestion(t *testing.T) {
	parts := []string{`{"question": "Explain `, `how enzymes`, ` work.", "model_answer": "active site; substrate", "marks": 0, "command_term": "Explain"}`}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		json.NewDecoder(r.Body).Decode(&req)
		if !req.Stream {
			t.Error("stream not requested")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fl := w.(http.Flusher)
		for _, p := range parts {
			b, _ := json.Marshal(map[string]any{"choices": []map[string]any{{"delta": map[string]string{"content": p}}}})
			fmt.Fprintf(w, "data: %s\n\n", b)
			fl.Flush()
		}
		fmt.Fprint(w, ": keepalive\n\ndata: [DONE]\n\n")
	}))
	defer srv.Close()

	var tokens []string
	q, err := NewService(srv.URL, "", "m", 5).StreamQuestion(context.Background(),
		models.GenerateRequest{Subject: "bio", Level: "HL", Topic: "Enzymes", Marks: 6},
		func(tok string) { tokens = append(tokens, tok) })
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(tokens, "") != strings.Join(parts, "") {
		t.Errorf("tokens = %q", tokens)
	}
	if q.Question != "Explain how enzymes work." || q.Marks != 6 || q.CommandTerm != "explain" {
		t.Errorf("question = %+v", q)
	}
	if q.ModelAnswer == nil || *q.ModelAnswer != "active site; substrate" {
		t.Errorf("model answer = %v", q.ModelAnswer)
	}
	if q.Source != "ai" || q.Subject != "bio" || q.Topic != "Enzymes" {
		t.Errorf("metadata = %+v", q)
	}
}

func TestStreamQuestionWithoutJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"sorry, no\"}}]}\n\ndata: [DONE]\n\n")
	}))
	defer srv.Close()
	_, err := NewService(srv.URL, "", "m", 5).StreamQuestion(context.Background(),
		models.GenerateRequest{Subject: "bio", Level: "HL", Topic: "Enzymes"}, nil)
	if !errors.Is(err, ErrEmptyCompletion) {
		t.Errorf("error = %v, want ErrEmptyCompletion", err)
	}
}
