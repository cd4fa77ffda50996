// Package notify sends the daily study digest by email and as in-app notifications.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sourcegraph/conc/pool"

	"ibstudy-server/config"
	"ibstudy-server/db"
	"ibstudy-server/models"
)

// Email is one outgoing message.
type Email struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// Sender delivers email.
type Sender interface {
	Send(ctx context.Context, e Email) error
}

// SESSender sends through Amazon SES.
type SESSender struct {
	client *sesv2.Client
	from   string
}

// NewSender returns an SES sender, or a LogSender when email is disabled.
func NewSender(ctx context.Context, cfg config.EmailConfig) (Sender, error) {
	if !cfg.Enabled || cfg.From == "" {
		log.Println("Email disabled, digests will only be logged")
		return LogSender{}, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	log.Printf("Email enabled: from=%s, region=%s", cfg.From, cfg.Region)
	return &SESSender{client: sesv2.NewFromConfig(awsCfg), from: cfg.From}, nil
}

func (s *SESSender) Send(ctx context.Context, e Email) error {
	utf8 := aws.String("UTF-8")
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.from),
		Destination:      &types.Destination{ToAddresses: []string{e.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(e.Subject), Charset: utf8},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(e.HTML), Charset: utf8},
					Text: &types.Content{Data: aws.String(e.Text), Charset: utf8},
				},
			},
		},
	}
	if _, err := s.client.SendEmail(ctx, input); err != nil {
		return fmt.Errorf("failed to send email to %s: %w", e.To, err)
	}
	return nil
}

// LogSender only logs. Used in development and when SES is not configured.
type LogSender struct{}

func (LogSender) Send(_ context.Context, e Email) error {
	log.Printf("Email (not sent): to=%s, subject=%q", e.To, e.Subject)
	return nil
}

var digestHTML = template.Must(template.New("digest").Parse(`<!DOCTYPE html>
<html><body style="font-family: Arial, sans-serif; color: #333;">
<p>Hi {{.DisplayName}},</p>
<p>Here is what is waiting for you today:</p>
<ul>
{{- if .DueCards}}<li>{{.DueCards}} flashcard{{if ne .DueCards 1}}s{{end}} due for review</li>{{end}}
{{- if .TasksToday}}<li>{{.TasksToday}} planner task{{if ne .TasksToday 1}}s{{end}} due</li>{{end}}
</ul>
<p>Keep your streak going!</p>
</body></html>`))

// RenderDigest builds the digest email for one user.
func RenderDigest(c db.DigestCandidate) (Email, error) {
	var html bytes.Buffer
	if err := digestHTML.Execute(&html, c); err != nil {
		return Email{}, fmt.Errorf("failed to render digest: %w", err)
	}
	return Email{
		To:      c.Email,
		Subject: digestSubject(c),
		HTML:    html.String(),
		Text: fmt.Sprintf("Hi %s,\n\nDue today: %d flashcards, %d planner tasks.\n\nKeep your streak going!\n",
			c.DisplayName, c.DueCards, c.TasksToday),
	}, nil
}

func digestSubject(c db.DigestCandidate) string {
	switch {
	case c.DueCards > 0 && c.TasksToday > 0:
		return fmt.Sprintf("%d cards and %d tasks due today", c.DueCards, c.TasksToday)
	case c.DueCards > 0:
		return fmt.Sprintf("%d cards due for review", c.DueCards)
	default:
		return fmt.Sprintf("%d study tasks due today", c.TasksToday)
	}
}

// SendDigests emails every candidate with at most workers sends in flight.
// A failed send is logged and skipped; the count of successful sends is returned.
func SendDigests(ctx context.Context, sender Sender, candidates []db.DigestCandidate, workers int) int {
	var sent atomic.Int32
	p := pool.New().WithContext(ctx).WithMaxGoroutines(max(workers, 1))
	for _, c := range candidates {
		p.Go(func(ctx context.Context) error {
			e, err := RenderDigest(c)
			if err != nil {
				log.Printf("Digest for %s: %v", c.UserID, err)
				return nil
			}
			if err := sender.Send(ctx, e); err != nil {
				log.Printf("Digest for %s: %v", c.UserID, err)
				return nil
			}
			sent.Add(1)
			return nil
		})
	}
	_ = p.Wait()
	return int(sent.Load())
}

// RunDigest finds everyone with cards or tasks due before the end of now's day,
// writes an in-app notification for each, and emails them.
func RunDigest(ctx context.Context, dbPool *pgxpool.Pool, sender Sender, now time.Time) error {
	endOfDay := time.Date(now.Year(), now.Month(), now.Day(), 23, 59, 59, 0, now.Location())
	candidates, err := db.DigestCandidates(ctx, dbPool, endOfDay)
	if err != nil {
		db.LogError(dbPool, "digest", "", "failed to list digest candidates", err.Error())
		return err
	}
	for _, c := range candidates {
		n := models.Notification{
			Kind:  "digest",
			Title: digestSubject(c),
			Body:  "Open your dashboard to start today's review.",
			Link:  "/study",
		}
		if err := db.InsertNotification(ctx, dbPool, c.UserID, n); err != nil {
			log.Printf("Digest notification for %s: %v", c.UserID, err)
		}
	}
	workers := db.GetSettingInt(dbPool, "grade_workers", 4)
	sent := SendDigests(ctx, sender, candidates, workers)
	log.Printf("Digest run: %d candidates, %d emails sent", len(candidates), sent)
	return nil
}
