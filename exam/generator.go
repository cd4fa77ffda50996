package exam

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/google/uuid"

	"ibstudy-server/models"
	"ibstudy-server/utils"
)

// ErrUnsatisfiable is returned when the question bank cannot fill the requested paper.
var ErrUnsatisfiable = errors.New("question bank cannot satisfy paper")

// PlanPaper decides how many questions each topic contributes. Weights default
// to an even split over the topics present in the bank. Counts are apportioned
// by largest remainder so they always add up to count.
func PlanPaper(bank []models.StudyQuestion, count int, weights map[string]float64) (models.ExamPlan, error) {
	topicCounts := make(map[string]int)
	for _, q := range bank {
		topicCounts[q.Topic]++
	}
	if len(weights) == 0 {
		weights = make(map[string]float64, len(topicCounts))
		for topic := range topicCounts {
			weights[topic] = 1 / float64(len(topicCounts))
		}
	} else if err := utils.ValidateWeights(weights); err != nil {
		return models.ExamPlan{}, err
	}
	if len(weights) == 0 {
		return models.ExamPlan{}, fmt.Errorf("%w: the bank is empty", ErrUnsatisfiable)
	}

	topics := make([]string, 0, len(weights))
	for t := range weights {
		topics = append(topics, t)
	}
	sort.Strings(topics)

	perTopic := make(map[string]int, len(topics))
	type frac struct {
		topic string
		rem   float64
	}
	var fracs []frac
	assigned := 0
	for _, t := range topics {
		exact := float64(count) * weights[t]
		n := int(math.Floor(exact))
		perTopic[t] = n
		assigned += n
		fracs = append(fracs, frac{t, exact - float64(n)})
	}
	sort.SliceStable(fracs, func(i, j int) bool { return fracs[i].rem > fracs[j].rem })
	for i := 0; assigned < count && i < len(fracs); i++ {
		perTopic[fracs[i].topic]++
		assigned++
	}

	for _, t := range topics {
		if perTopic[t] == 0 {
			delete(perTopic, t)
			continue
		}
		if topicCounts[t] < perTopic[t] {
			return models.ExamPlan{}, fmt.Errorf("%w: topic %q has %d questions, %d required",
				ErrUnsatisfiable, t, topicCounts[t], perTopic[t])
		}
	}
	return models.ExamPlan{QuestionsPerExam: count, PerTopic: perTopic}, nil
}

// selectQuestionsForPaper picks perTopic questions without reuse. Topics are
// visited in sorted order so the same seed always yields the same paper.
func selectQuestionsForPaper(bank []models.StudyQuestion, perTopic map[string]int, seed int64) ([]models.StudyQuestion, error) {
	byTopic := make(map[string][]models.StudyQuestion)
	for _, q := range bank {
		byTopic[q.Topic] = append(byTopic[q.Topic], q)
	}
	topics := make([]string, 0, len(perTopic))
	for t := range perTopic {
		topics = append(topics, t)
	}
	sort.Strings(topics)

	r := rand.New(rand.NewSource(seed))
	used := make(map[string]bool)
	var selected []models.StudyQuestion
	for _, topic := range topics {
		count := perTopic[topic]
		available := make([]models.StudyQuestion, 0, len(byTopic[topic]))
		for _, q := range byTopic[topic] {
			if !used[q.ID] {
				available = append(available, q)
			}
		}
		// stable input order before shuffling, the bank may come back in any order
		sort.Slice(available, func(i, j int) bool { return available[i].ID < available[j].ID })
		r.Shuffle(len(available), func(i, j int) {
			available[i], available[j] = available[j], available[i]
		})
		if len(available) < count {
			return nil, fmt.Errorf("%w: not enough unique questions in topic %q (available: %d, required: %d)",
				ErrUnsatisfiable, topic, len(available), count)
		}
		for _, q := range available[:count] {
			used[q.ID] = true
			selected = append(selected, q)
		}
	}
	// order within the paper comes from the same seed
	r.Shuffle(len(selected), func(i, j int) {
		selected[i], selected[j] = selected[j], selected[i]
	})
	return selected, nil
}

// AssemblePaper builds a numbered paper from the bank for req using seed.
func AssemblePaper(bank []models.StudyQuestion, req models.PaperRequest, seed int64) (models.ExamPaper, error) {
	var pool []models.StudyQuestion
	for _, q := range bank {
		if q.Subject == req.Subject && q.Level == req.Level {
			pool = append(pool, q)
		}
	}
	plan, err := PlanPaper(pool, req.QuestionCount, req.TopicWeights)
	if err != nil {
		return models.ExamPaper{}, err
	}
	selected, err := selectQuestionsForPaper(pool, plan.PerTopic, seed)
	if err != nil {
		return models.ExamPaper{}, err
	}

	p := models.ExamPaper{
		ID:              uuid.NewString(),
		Subject:         req.Subject,
		Level:           req.Level,
		PaperNumber:     req.PaperNumber,
		Title:           fmt.Sprintf("%s %s Paper %d", req.Subject, req.Level, req.PaperNumber),
		DurationMinutes: req.DurationMinutes,
		ReadingMinutes:  req.ReadingMinutes,
		Seed:            seed,
	}
	for i, q := range selected {
		p.Questions = append(p.Questions, models.ExamQuestion{
			Number:      i + 1,
			QuestionID:  q.ID,
			Topic:       q.Topic,
			CommandTerm: q.CommandTerm,
			Marks:       q.Marks,
			Text:        q.Question,
			Markscheme:  q.ModelAnswer,
		})
		p.TotalMarks += q.Marks
	}
	return p, nil
}

// WithoutMarkschemes returns a copy of p safe to show a candidate.
func WithoutMarkschemes(p models.ExamPaper) models.ExamPaper {
	qs := make([]models.ExamQuestion, len(p.Questions))
	for i, q := range p.Questions {
		q.Markscheme = nil
		qs[i] = q
	}
	p.Questions = qs
	return p
}
