package exam

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"ibstudy-server/models"
)

func bank() []models.StudyQuestion {
	var qs []models.StudyQuestion
	add := func(topic string, n int) {
		for i := 0; i < n; i++ {
			qs = append(qs, models.StudyQuestion{
				ID:       fmt.Sprintf("%s-%02d", topic, i),
				Subject:  "bio",
				Level:    "HL",
				Topic:    topic,
				Marks:    i%4 + 1,
				Question: fmt.Sprintf("%s question %d", topic, i),
			})
		}
	}
	add("Cells", 10)
	add("Genetics", 6)
	add("Ecology", 4)
	qs = append(qs, models.StudyQuestion{ID: "other", Subject: "chem", Level: "HL", Topic: "Cells", Marks: 1})
	return qs
}

func TestPlanPaperApportionsExactly(t *testing.T) {
	plan, err := PlanPaper(bank(), 7, map[string]float64{"Cells": 0.5, "Genetics": 0.3, "Ecology": 0.2})
	if err != nil {
		t.Fatal(err)
	}
	sum := 0
	for _, n := range plan.PerTopic {
		sum += n
	}
	if sum != 7 {
		t.Errorf("per topic %v sums to %d, want 7", plan.PerTopic, sum)
	}
	// 3.5, 2.1, 1.4 -> floors 3,2,1 then the largest remainder goes to Cells
	if plan.PerTopic["Cells"] != 4 || plan.PerTopic["Genetics"] != 2 || plan.PerTopic["Ecology"] != 1 {
		t.Errorf("PerTopic = %v", plan.PerTopic)
	}
}

func TestPlanPaperUnsatisfiable(t *testing.T) {
	_, err := PlanPaper(bank(), 10, map[string]float64{"Ecology": 1})
	if !errors.Is(err, ErrUnsatisfiable) {
		t.Errorf("error = %v, want ErrUnsatisfiable", err)
	}
	_, err = PlanPaper(nil, 3, nil)
	if !errors.Is(err, ErrUnsatisfiable) {
		t.Errorf("empty bank error = %v, want ErrUnsatisfiable", err)
	}
	_, err = PlanPaper(bank(), 3, map[string]float64{"Cells": 0.2})
	if err == nil {
		t.Error("weights not summing to 1 accepted")
	}
}

func TestAssemblePaperDeterministic(t *testing.T) {
	req := models.PaperRequest{Subject: "bio", Level: "HL", PaperNumber: 2, QuestionCount: 8, DurationMinutes: 60}
	a, err := AssemblePaper(bank(), req, 42)
	if err != nil {
		t.Fatal(err)
	}

	shuffled := bank()
	for i, j := 0, len(shuffled)-1; i < j; i, j = i+1, j-1 {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	}
	b, err := AssemblePaper(shuffled, req, 42)
	if err != nil {
		t.Fatal(err)
	}

	if len(a.Questions) != 8 {
		t.Fatalf("questions = %d, want 8", len(a.Questions))
	}
	seen := map[string]bool{}
	total := 0
	for i := range a.Questions {
		if a.Questions[i].QuestionID != b.Questions[i].QuestionID {
			t.Errorf("question %d differs: %s vs %s", i+1, a.Questions[i].QuestionID, b.Questions[i].QuestionID)
		}
		if a.Questions[i].Number != i+1 {
			t.Errorf("question %d numbered %d", i+1, a.Questions[i].Number)
		}
		if seen[a.Questions[i].QuestionID] {
			t.Errorf("question %s reused", a.Questions[i].QuestionID)
		}
		if a.Questions[i].QuestionID == "other" {
			t.Error("question from another subject selected")
		}
		seen[a.Questions[i].QuestionID] = true
		total += a.Questions[i].Marks
	}
	if a.TotalMarks != total {
		t.Errorf("TotalMarks = %d, want %d", a.TotalMarks, total)
	}
	if a.Title != "bio HL Paper 2" {
		t.Errorf("Title = %q", a.Title)
	}
}

func TestWithoutMarkschemes(t *testing.T) {
	ms := "model"
	p := models.ExamPaper{Questions: []models.ExamQuestion{{Number: 1, Markscheme: &ms}}}
	clean := WithoutMarkschemes(p)
	if clean.Questions[0].Markscheme != nil {
		t.Error("markscheme still present")
	}
	if p.Questions[0].Markscheme == nil {
		t.Error("original paper modified")
	}
}

func TestIBGrade(t *testing.T) {
	tests := map[float64]int{100: 7, 80: 7, 79.9: 6, 70: 6, 60: 5, 55: 4, 45: 3, 30: 2, 24.9: 1, 0: 1}
	for pct, want := range tests {
		if got := IBGrade(pct); got != want {
			t.Errorf("IBGrade(%v) = %d, want %d", pct, got, want)
		}
	}
}

func TestGradeSubmissionSkipsBlankAnswers(t *testing.T) {
	p := testPaper(0)
	var calls atomic.Int32
	grade := func(_ context.Context, q models.ExamQuestion, answer string) (models.GradeResult, error) {
		calls.Add(1)
		return models.GradeResult{MarkEarned: q.Marks + 10, Commentary: "ok"}, nil
	}
	res, err := GradeSubmission(context.Background(), p, map[int]string{1: "", 2: "   ", 3: "full answer"}, grade, 2)
	if err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 1 {
		t.Errorf("grader calls = %d, want 1", calls.Load())
	}
	if res.AwardedMarks != 5 {
		t.Errorf("AwardedMarks = %d, want 5 (clamped to question marks)", res.AwardedMarks)
	}
	if res.Percentage != 50 || res.Grade != 4 {
		t.Errorf("Percentage = %v, Grade = %d", res.Percentage, res.Grade)
	}
	if res.Feedback[1].MarkEarned != 0 || res.Feedback[1].MarkTotal != 2 {
		t.Errorf("blank feedback = %+v", res.Feedback[1])
	}
	if res.TopicBreakdown["Genetics"] != 5 || res.TopicBreakdown["Cells"] != 0 {
		t.Errorf("TopicBreakdown = %v", res.TopicBreakdown)
	}
}

func TestGradeSubmissionError(t *testing.T) {
	boom := errors.New("upstream down")
	grade := func(context.Context, models.ExamQuestion, string) (models.GradeResult, error) {
		return models.GradeResult{}, boom
	}
	_, err := GradeSubmission(context.Background(), testPaper(0), map[int]string{1: "a", 2: "b", 3: "c"}, grade, 3)
	if !errors.Is(err, boom) {
		t.Errorf("error = %v, want wrapped upstream error", err)
	}
}
