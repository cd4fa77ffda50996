package utils

import (
	"crypto/sha256"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// StringPtr returns a pointer to a string, or nil if empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the pointed-to string or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// ContainsString checks if a string slice contains a specific string.
func ContainsString(slice []string, item string) bool {
	for _, a := range slice {
		if a == item {
			return true
		}
	}
	return false
}

// ParseTopicWeights parses a pipe-separated string of "Topic:Weight" into a map.
// Also validates that weights sum to 1.0 (within 0.01 tolerance).
func ParseTopicWeights(s string) (map[string]float64, error) {
	weights := make(map[string]float64)
	if strings.TrimSpace(s) == "" {
		return weights, nil
	}
	for _, pair := range strings.Split(s, "|") {
		parts := strings.Split(pair, ":")
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid topic weight %q, expected 'Topic:Weight'", pair)
		}
		topic := strings.TrimSpace(parts[0])
		weight, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid weight for topic %q: %s", topic, parts[1])
		}
		weights[topic] = weight
	}
	if err := ValidateWeights(weights); err != nil {
		return nil, err
	}
	return weights, nil
}

// ValidateWeights checks every weight is in [0,1] and that they sum to 1.0.
func ValidateWeights(weights map[string]float64) error {
	total := 0.0
	for topic, w := range weights {
		if w < 0 || w > 1 {
			return fmt.Errorf("weight for %q must be between 0.0 and 1.0", topic)
		}
		total += w
	}
	if len(weights) > 0 && math.Abs(total-1.0) > 0.01 { // Allow for slight floating point inaccuracies
		return fmt.Errorf("topic weights do not sum to 1.0 (sum is %.2f)", total)
	}
	return nil
}

// LevenshteinDistance calculates the Levenshtein distance between two strings.
// Used to match free-typed command terms against the IB list.
func LevenshteinDistance(s1, s2 string) int {
	len1 := len(s1)
	len2 := len(s2)
	if len1 == 0 {
		return len2
	}
	if len2 == 0 {
		return len1
	}
	dp := make([][]int, len1+1)
	for i := range dp {
		dp[i] = make([]int, len2+1)
	}
	for i := 0; i <= len1; i++ {
		dp[i][0] = i
	}
	for j := 0; j <= len2; j++ {
		dp[0][j] = j
	}
	for i := 1; i <= len1; i++ {
		for j := 1; j <= len2; j++ {
			cost := 0
			if s1[i-1] != s2[j-1] {
				cost = 1
			}
			dp[i][j] = min(dp[i-1][j]+1, dp[i][j-1]+1, dp[i-1][j-1]+cost)
		}
	}
	return dp[len1][len2]
}

// BytesToInt converts a byte slice (e.g., from SHA256 sum) to an int64.
// Used for generating a deterministic seed from a hash.
func BytesToInt(b []byte) int64 {
	var i int64
	for idx, val := range b {
		if idx >= 8 {
			break
		}
		i = (i << 8) | int64(val)
	}
	return i
}

// SeedFrom derives a deterministic seed from the given parts.
func SeedFrom(parts ...string) int64 {
	sum := sha256.Sum256([]byte(strings.Join(parts, ":")))
	return BytesToInt(sum[:])
}

// FormatClock renders seconds as HH:MM:SS.
func FormatClock(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", seconds/3600, (seconds/60)%60, seconds%60)
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// CommandTerms are the IB command terms questions are phrased with.
var CommandTerms = []string{
	"analyse", "annotate", "apply", "calculate", "comment", "compare", "compare and contrast",
	"construct", "contrast", "deduce", "define", "demonstrate", "derive", "describe", "design",
	"determine", "differentiate", "discuss", "distinguish", "draw", "estimate", "evaluate", "examine", "explain",
	"find", "formulate", "hence", "integrate", "identify", "interpret", "investigate", "justify", "label", "list", "measure",
	"outline", "plot", "predict", "prove", "show", "sketch", "solve", "state", "suggest", "summarize",
	"to what extent", "verify", "write down",
}

// NormalizeCommandTerm maps a free-typed term onto the closest IB command term.
// Anything further than two edits from every term is rejected.
func NormalizeCommandTerm(term string) (string, bool) {
	t := strings.ToLower(strings.TrimSpace(term))
	if t == "" {
		return "", false
	}
	best, bestDist := "", math.MaxInt
	for _, c := range CommandTerms {
		d := LevenshteinDistance(t, c)
		if d < bestDist {
			best, bestDist = c, d
		}
	}
	if bestDist > 2 {
		return "", false
	}
	return best, true
}

// MaxDiplomaPoints is six subjects at grade 7 plus three core points.
const MaxDiplomaPoints = 45

// PredictPoints totals the best six subject grades and the core bonus (0..3).
func PredictPoints(grades map[string]int, coreBonus int) int {
	gs := make([]int, 0, len(grades))
	for _, g := range grades {
		gs = append(gs, Clamp(g, 1, 7))
	}
	sort.Sort(sort.Reverse(sort.IntSlice(gs)))
	total := 0
	for i := 0; i < len(gs) && i < 6; i++ {
		total += gs[i]
	}
	return min(total+Clamp(coreBonus, 0, 3), MaxDiplomaPoints)
}
