// Package ai talks to an OpenAI-compatible chat completions endpoint to write,
// grade and discuss IB questions.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"regexp"
	"strings"
	"time"

	"ibstudy-server/models"
	"ibstudy-server/sse"
)

var (
	// ErrEmptyCompletion is returned when the model sends no usable content.
	ErrEmptyCompletion = errors.New("ai returned an empty completion")
	// ErrRateLimited is returned on HTTP 429 from the provider.
	ErrRateLimited = errors.New("ai provider rate limited the request")
)

// UpstreamError is a non-2xx response from the provider.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("ai provider returned %d: %s", e.Status, e.Body)
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Stream         bool            `json:"stream,omitempty"`
	Temperature    float64         `json:"temperature,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Service is the chat completions client.
type Service struct {
	BaseURL    string
	APIKey     string
	Model      string
	HttpClient *http.Client
}

func NewService(baseURL, apiKey, model string, timeoutSec int) *Service {
	return &Service{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		Model:   model,
		HttpClient: &http.Client{
			Timeout: time.Duration(timeoutSec) * time.Second,
		},
	}
}

func (s *Service) post(ctx context.Context, payload chatRequest) (*http.Response, error) {
	payload.Model = s.Model
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode ai request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.APIKey)
	}
	if payload.Stream {
		req.Header.Set("Accept", sse.ContentType)
	}

	resp, err := s.HttpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ai request failed: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		resp.Body.Close()
		return nil, ErrRateLimited
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, &UpstreamError{Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	return resp, nil
}

// complete runs a non-streaming completion and returns the first choice.
func (s *Service) complete(ctx context.Context, payload chatRequest) (string, error) {
	resp, err := s.post(ctx, payload)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode ai response: %w", err)
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return "", ErrEmptyCompletion
	}
	return out.Choices[0].Message.Content, nil
}

// stream runs a streaming completion, calling onToken for each content delta,
// and returns the whole text.
func (s *Service) stream(ctx context.Context, payload chatRequest, onToken func(string)) (string, error) {
	payload.Stream = true
	resp, err := s.post(ctx, payload)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var full strings.Builder
	_, err = sse.Read(resp.Body, func(ev sse.Event) bool {
		if ev.Done {
			return false
		}
		var chunk streamChunk
		if err := json.Unmarshal([]byte(ev.Data), &chunk); err != nil {
			return true
		}
		for _, c := range chunk.Choices {
			if c.Delta.Content == "" {
				continue
			}
			full.WriteString(c.Delta.Content)
			if onToken != nil {
				onToken(c.Delta.Content)
			}
		}
		return true
	})
	if err != nil {
		return full.String(), fmt.Errorf("ai stream interrupted: %w", err)
	}
	if strings.TrimSpace(full.String()) == "" {
		return "", ErrEmptyCompletion
	}
	return full.String(), nil
}

var jsonObject = regexp.MustCompile(`(?s)\{.*\}`)

// decodeJSON pulls the outermost JSON object out of a completion that may be
// wrapped in prose or a code fence.
func decodeJSON(content string, v any) error {
	m := jsonObject.FindString(content)
	if m == "" {
		log.Printf("AI response without JSON object: %q", truncate(content, 200))
		return fmt.Errorf("%w: no JSON object in response", ErrEmptyCompletion)
	}
	if err := json.Unmarshal([]byte(m), v); err != nil {
		return fmt.Errorf("failed to parse ai JSON: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

const examinerPrompt = "You are an experienced International Baccalaureate examiner. " +
	"You follow IB command terms precisely and write in clear British English."

type generatedQuestion struct {
	Question    string `json:"question"`
	ModelAnswer string `json:"model_answer"`
	Marks       int    `json:"marks"`
	CommandTerm string `json:"command_term"`
}

// StreamQuestion writes a practice question, forwarding raw tokens as they arrive.
// The returned question has no ID; the caller stores it in the bank.
func (s *Service) StreamQuestion(ctx context.Context, req models.GenerateRequest, onToken func(string)) (models.StudyQuestion, error) {
	marks := req.Marks
	if marks == 0 {
		marks = 4
	}
	term := req.CommandTerm
	if term == "" {
		term = "explain"
	}
	prompt := fmt.Sprintf(`Write one IB %s %s exam question on the topic "%s".
Use the command term "%s" and make it worth %d marks.
Reply with only a JSON object with the keys "question", "model_answer" (a markscheme, one point per mark), "marks" and "command_term".`,
		req.Subject, req.Level, req.Topic, term, marks)

	content, err := s.stream(ctx, chatRequest{
		Messages: []Message{
			{Role: "system", Content: examinerPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: 0.8,
	}, onToken)
	if err != nil {
		return models.StudyQuestion{}, err
	}

	var g generatedQuestion
	if err := decodeJSON(content, &g); err != nil {
		return models.StudyQuestion{}, err
	}
	if strings.TrimSpace(g.Question) == "" {
		return models.StudyQuestion{}, ErrEmptyCompletion
	}
	if g.Marks <= 0 {
		g.Marks = marks
	}
	if g.CommandTerm == "" {
		g.CommandTerm = term
	}
	q := models.StudyQuestion{
		Subject:     req.Subject,
		Level:       req.Level,
		Topic:       req.Topic,
		CommandTerm: strings.ToLower(g.CommandTerm),
		Marks:       g.Marks,
		Question:    strings.TrimSpace(g.Question),
		Source:      "ai",
	}
	if ma := strings.TrimSpace(g.ModelAnswer); ma != "" {
		q.ModelAnswer = &ma
	}
	return q, nil
}

// GradeInput is everything the examiner sees for one answer.
type GradeInput struct {
	Subject     string
	Level       string
	Topic       string
	CommandTerm string
	Marks       int
	Question    string
	Markscheme  string
	Answer      string
}

type gradeReply struct {
	MarkEarned   int      `json:"mark_earned"`
	Strengths    []string `json:"strengths"`
	Improvements []string `json:"improvements"`
	Commentary   string   `json:"commentary"`
}

// GradeAnswer marks an answer out of in.Marks. MarkTotal, Percentage and Grade
// are left for the caller to derive.
func (s *Service) GradeAnswer(ctx context.Context, in GradeInput) (models.GradeResult, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Mark this IB %s %s answer out of %d.\n", in.Subject, in.Level, in.Marks)
	fmt.Fprintf(&b, "Topic: %s\nCommand term: %s\n\nQuestion:\n%s\n\n", in.Topic, in.CommandTerm, in.Question)
	if in.Markscheme != "" {
		fmt.Fprintf(&b, "Markscheme:\n%s\n\n", in.Markscheme)
	}
	fmt.Fprintf(&b, "Candidate answer:\n%s\n\n", in.Answer)
	b.WriteString(`Reply with only a JSON object: {"mark_earned": int, "strengths": [string], "improvements": [string], "commentary": string}.`)

	content, err := s.complete(ctx, chatRequest{
		Messages: []Message{
			{Role: "system", Content: examinerPrompt},
			{Role: "user", Content: b.String()},
		},
		ResponseFormat: &responseFormat{Type: "json_object"},
	})
	if err != nil {
		return models.GradeResult{}, err
	}
	var r gradeReply
	if err := decodeJSON(content, &r); err != nil {
		return models.GradeResult{}, err
	}
	return models.GradeResult{
		MarkEarned:   r.MarkEarned,
		MarkTotal:    in.Marks,
		Strengths:    nonNil(r.Strengths),
		Improvements: nonNil(r.Improvements),
		Commentary:   strings.TrimSpace(r.Commentary),
	}, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Card is a generated flashcard.
type Card struct {
	Front string `json:"front"`
	Back  string `json:"back"`
}

// GenerateFlashcards writes count question/answer cards for a topic.
func (s *Service) GenerateFlashcards(ctx context.Context, subject, topic string, count int) ([]Card, error) {
	prompt := fmt.Sprintf(`Write %d flashcards for IB %s on "%s". Keep each side under 40 words.
Reply with only a JSON object: {"cards": [{"front": string, "back": string}]}.`, count, subject, topic)
	content, err := s.complete(ctx, chatRequest{
		Messages: []Message{
			{Role: "system", Content: examinerPrompt},
			{Role: "user", Content: prompt},
		},
		ResponseFormat: &responseFormat{Type: "json_object"},
	})
	if err != nil {
		return nil, err
	}
	var out struct {
		Cards []Card `json:"cards"`
	}
	if err := decodeJSON(content, &out); err != nil {
		return nil, err
	}
	var cards []Card
	for _, c := range out.Cards {
		if strings.TrimSpace(c.Front) != "" && strings.TrimSpace(c.Back) != "" {
			cards = append(cards, c)
		}
	}
	if len(cards) == 0 {
		return nil, ErrEmptyCompletion
	}
	if len(cards) > count {
		cards = cards[:count]
	}
	return cards, nil
}

// TutorReply continues a tutoring conversation.
func (s *Service) TutorReply(ctx context.Context, subject string, history []models.TutorMessage, message string) (string, error) {
	system := "You are a patient IB tutor. Guide the student towards the answer with questions and hints " +
		"before giving it away, and point out the relevant command terms and assessment criteria."
	if subject != "" {
		system += " The student is studying " + subject + "."
	}
	msgs := []Message{{Role: "system", Content: system}}
	for _, h := range history {
		msgs = append(msgs, Message{Role: h.Role, Content: h.Content})
	}
	msgs = append(msgs, Message{Role: "user", Content: message})

	reply, err := s.complete(ctx, chatRequest{Messages: msgs, Temperature: 0.5})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(reply), nil
}
