package exam

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/sourcegraph/conc/pool"

	"ibstudy-server/models"
)

// gradeBoundaries are the lower percentage bounds for IB grades 7 down to 2.
var gradeBoundaries = []struct {
	grade int
	min   float64
}{
	{7, 80}, {6, 70}, {5, 60}, {4, 50}, {3, 40}, {2, 25},
}

// IBGrade converts a percentage into a 1..7 grade.
func IBGrade(pct float64) int {
	for _, b := range gradeBoundaries {
		if pct >= b.min {
			return b.grade
		}
	}
	return 1
}

// Percentage of earned over total, rounded to one decimal. Zero total is 0%.
func Percentage(earned, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(1000*float64(earned)/float64(total)) / 10
}

// Finalize clamps a grader's marks to the question and fills the derived fields.
func Finalize(r models.GradeResult, marks int) models.GradeResult {
	r.MarkTotal = marks
	r.MarkEarned = min(max(r.MarkEarned, 0), marks)
	r.Percentage = Percentage(r.MarkEarned, r.MarkTotal)
	r.Grade = IBGrade(r.Percentage)
	return r
}

// GradeFunc grades one answered question.
type GradeFunc func(ctx context.Context, q models.ExamQuestion, answer string) (models.GradeResult, error)

// GradeSubmission grades every question of paper concurrently with at most
// workers calls in flight. Blank answers score zero without calling grade.
// The first grading error cancels the remaining calls.
func GradeSubmission(ctx context.Context, paper models.ExamPaper, answers map[int]string, grade GradeFunc, workers int) (models.ExamResult, error) {
	type graded struct {
		number int
		topic  string
		result models.GradeResult
	}
	if workers < 1 {
		workers = 1
	}

	p := pool.NewWithResults[graded]().WithContext(ctx).WithFirstError().WithCancelOnError().WithMaxGoroutines(workers)
	for _, q := range paper.Questions {
		answer := answers[q.Number]
		if strings.TrimSpace(answer) == "" {
			p.Go(func(context.Context) (graded, error) {
				r := Finalize(models.GradeResult{Commentary: "No answer submitted."}, q.Marks)
				return graded{q.Number, q.Topic, r}, nil
			})
			continue
		}
		p.Go(func(ctx context.Context) (graded, error) {
			r, err := grade(ctx, q, answer)
			if err != nil {
				return graded{}, fmt.Errorf("question %d: %w", q.Number, err)
			}
			return graded{q.Number, q.Topic, Finalize(r, q.Marks)}, nil
		})
	}
	results, err := p.Wait()
	if err != nil {
		return models.ExamResult{}, err
	}

	out := models.ExamResult{
		TotalMarks:     paper.TotalMarks,
		TopicBreakdown: make(map[string]int),
		Feedback:       make(map[int]models.GradeResult, len(results)),
	}
	for _, g := range results {
		out.AwardedMarks += g.result.MarkEarned
		out.TopicBreakdown[g.topic] += g.result.MarkEarned
		out.Feedback[g.number] = g.result
	}
	if out.TotalMarks == 0 {
		for _, q := range paper.Questions {
			out.TotalMarks += q.Marks
		}
	}
	out.Percentage = Percentage(out.AwardedMarks, out.TotalMarks)
	out.Grade = IBGrade(out.Percentage)
	return out, nil
}
