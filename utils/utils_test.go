package utils

import "testing"

func TestParseTopicWeights(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    map[string]float64
		wantErr bool
	}{
		{name: "empty", input: "", want: map[string]float64{}},
		{name: "two topics", input: "Algebra:0.4|Calculus:0.6", want: map[string]float64{"Algebra": 0.4, "Calculus": 0.6}},
		{name: "spaces trimmed", input: " Algebra : 1.0 ", want: map[string]float64{"Algebra": 1.0}},
		{name: "missing colon", input: "Algebra", wantErr: true},
		{name: "bad number", input: "Algebra:x", wantErr: true},
		{name: "does not sum", input: "Algebra:0.2|Calculus:0.2", wantErr: true},
		{name: "out of range", input: "Algebra:1.5|Calculus:-0.5", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTopicWeights(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseTopicWeights(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("weight[%s] = %v, want %v", k, got[k], v)
				}
			}
		})
	}
}

func TestLevenshteinDistance(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"evaluate", "evaluate", 0},
		{"evalute", "evaluate", 1},
		{"discus", "discuss", 1},
		{"", "abc", 3},
	}
	for _, tt := range tests {
		if got := LevenshteinDistance(tt.a, tt.b); got != tt.want {
			t.Errorf("LevenshteinDistance(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestSeedFromDeterministic(t *testing.T) {
	a := SeedFrom("math-aa", "HL", "1")
	b := SeedFrom("math-aa", "HL", "1")
	c := SeedFrom("math-aa", "HL", "2")
	if a != b {
		t.Errorf("same parts gave different seeds: %d vs %d", a, b)
	}
	if a == c {
		t.Errorf("different parts gave the same seed %d", a)
	}
}

func TestFormatClock(t *testing.T) {
	tests := map[int]string{
		0:    "00:00:00",
		-5:   "00:00:00",
		59:   "00:00:59",
		3600: "01:00:00",
		5400: "01:30:00",
	}
	for in, want := range tests {
		if got := FormatClock(in); got != want {
			t.Errorf("FormatClock(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeCommandTerm(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{"Evaluate", "evaluate", true},
		{"evalute", "evaluate", true},
		{" Discus ", "discuss", true},
		{"to what extnt", "to what extent", true},
		{"photosynthesis", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := NormalizeCommandTerm(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("NormalizeCommandTerm(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestPredictPoints(t *testing.T) {
	tests := []struct {
		name   string
		grades map[string]int
		core   int
		want   int
	}{
		{"six subjects", map[string]int{"a": 7, "b": 6, "c": 6, "d": 5, "e": 5, "f": 4}, 2, 35},
		{"best six of seven", map[string]int{"a": 7, "b": 7, "c": 7, "d": 7, "e": 7, "f": 7, "g": 1}, 3, 45},
		{"core capped", map[string]int{"a": 4}, 9, 7},
		{"grades clamped", map[string]int{"a": 9, "b": 0}, 0, 8},
		{"nothing yet", nil, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PredictPoints(tt.grades, tt.core); got != tt.want {
				t.Errorf("PredictPoints = %d, want %d", got, tt.want)
			}
		})
	}
}
