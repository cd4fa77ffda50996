package ingestion

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"gopkg.in/yaml.v3"

	"ibstudy-server/db"
	"ibstudy-server/models"
	"ibstudy-server/utils"
)

const sourceName = "ingestion"

// ValidationError points at the catalogue entry that failed.
type ValidationError struct {
	Section string // "subjects", "questions" or "decks"
	Index   int
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s[%d].%s: %s", e.Section, e.Index, e.Field, e.Message)
}

// ParseCatalogue decodes and validates a YAML catalogue. Command terms are
// normalised in place; questions without one keep an empty term.
func ParseCatalogue(data []byte) (models.Catalogue, error) {
	var cat models.Catalogue
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return cat, fmt.Errorf("failed to unmarshal catalogue: %w", err)
	}

	subjects := make(map[string]models.Subject, len(cat.Subjects))
	for i, s := range cat.Subjects {
		if strings.TrimSpace(s.Code) == "" {
			return cat, &ValidationError{"subjects", i, "code", "is required"}
		}
		if _, dup := subjects[s.Code]; dup {
			return cat, &ValidationError{"subjects", i, "code", fmt.Sprintf("duplicate subject %q", s.Code)}
		}
		if len(s.Levels) == 0 {
			cat.Subjects[i].Levels = []string{"SL", "HL"}
		}
		for _, l := range cat.Subjects[i].Levels {
			if l != "SL" && l != "HL" {
				return cat, &ValidationError{"subjects", i, "levels", fmt.Sprintf("unknown level %q", l)}
			}
		}
		subjects[s.Code] = cat.Subjects[i]
	}

	for i, q := range cat.Questions {
		s, ok := subjects[q.Subject]
		if !ok {
			return cat, &ValidationError{"questions", i, "subject", fmt.Sprintf("unknown subject %q", q.Subject)}
		}
		if !utils.ContainsString(s.Levels, q.Level) {
			return cat, &ValidationError{"questions", i, "level", fmt.Sprintf("%s is not offered at %q", q.Subject, q.Level)}
		}
		if len(s.Topics) > 0 && !utils.ContainsString(s.Topics, q.Topic) {
			return cat, &ValidationError{"questions", i, "topic", fmt.Sprintf("topic %q is not in %s", q.Topic, q.Subject)}
		}
		if q.Marks <= 0 {
			return cat, &ValidationError{"questions", i, "marks", "must be positive"}
		}
		if strings.TrimSpace(q.Question) == "" {
			return cat, &ValidationError{"questions", i, "question", "is required"}
		}
		if q.CommandTerm != "" {
			term, ok := utils.NormalizeCommandTerm(q.CommandTerm)
			if !ok {
				return cat, &ValidationError{"questions", i, "command_term", fmt.Sprintf("%q is not an IB command term", q.CommandTerm)}
			}
			cat.Questions[i].CommandTerm = term
		}
	}

	for i, d := range cat.Decks {
		if _, ok := subjects[d.Subject]; !ok {
			return cat, &ValidationError{"decks", i, "subject", fmt.Sprintf("unknown subject %q", d.Subject)}
		}
		if strings.TrimSpace(d.Title) == "" {
			return cat, &ValidationError{"decks", i, "title", "is required"}
		}
		for j, c := range d.Cards {
			if strings.TrimSpace(c.Front) == "" || strings.TrimSpace(c.Back) == "" {
				return cat, &ValidationError{"decks", i, fmt.Sprintf("cards[%d]", j), "front and back are required"}
			}
		}
	}
	return cat, nil
}

// ProcessCatalogue reads a catalogue file, validates it and writes it to the database.
// Subjects are upserted, questions are deduplicated on their text, and decks are
// created as public decks only when no public deck with the same title exists.
func ProcessCatalogue(ctx context.Context, pool *pgxpool.Pool, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		db.LogError(pool, sourceName, "", "Failed to read catalogue", fmt.Sprintf("%s: %v", path, err))
		return fmt.Errorf("failed to read catalogue %s: %w", path, err)
	}
	cat, err := ParseCatalogue(data)
	if err != nil {
		db.LogError(pool, sourceName, "", "Invalid catalogue", fmt.Sprintf("%s: %v", path, err))
		return err
	}

	for _, s := range cat.Subjects {
		if err := db.UpsertSubject(ctx, pool, s); err != nil {
			db.LogError(pool, sourceName, s.Code, "Failed to upsert subject", err.Error())
			return err
		}
	}
	log.Printf("Ingested %d subjects from %s", len(cat.Subjects), path)

	for _, q := range cat.Questions {
		sq := models.StudyQuestion{
			Subject:     q.Subject,
			Level:       q.Level,
			Topic:       q.Topic,
			CommandTerm: q.CommandTerm,
			Marks:       q.Marks,
			Question:    strings.TrimSpace(q.Question),
			ModelAnswer: utils.StringPtr(strings.TrimSpace(q.ModelAnswer)),
			Source:      "seed",
		}
		if _, err := db.InsertQuestion(ctx, pool, sq, ""); err != nil {
			db.LogError(pool, sourceName, q.Subject, "Failed to insert seed question", err.Error())
			return err
		}
	}
	log.Printf("Ingested %d seed questions from %s", len(cat.Questions), path)

	existing, err := db.ListDecks(ctx, pool, "", time.Now())
	if err != nil {
		return err
	}
	have := make(map[string]bool, len(existing))
	for _, d := range existing {
		if d.OwnerID == "" {
			have[d.Subject+"/"+d.Title] = true
		}
	}
	created := 0
	for _, d := range cat.Decks {
		if have[d.Subject+"/"+d.Title] {
			continue
		}
		deck, err := db.CreateDeck(ctx, pool, "", d.Subject, d.Title)
		if err != nil {
			db.LogError(pool, sourceName, d.Subject, "Failed to create starter deck", err.Error())
			return err
		}
		for _, c := range d.Cards {
			if _, err := db.InsertCard(ctx, pool, deck.ID, c.Front, c.Back, 0); err != nil {
				return err
			}
		}
		created++
	}
	log.Printf("Created %d starter decks from %s", created, path)
	return nil
}
