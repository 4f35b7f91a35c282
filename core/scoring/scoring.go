// Package scoring computes answer, submission and report-card scores.
package scoring

import (
	"math"
	"strings"
)

// PassMark is the lowest passing percentage.
const PassMark = 60

// letterGrades is ordered from the highest threshold down.
var letterGrades = []struct {
	min    int
	letter string
}{
	{90, "A"},
	{80, "B"},
	{70, "C"},
	{60, "D"},
}

const failLetter = "F"

type Result struct {
	Total      float64 `json:"total_score"`
	Max        float64 `json:"max_score"`
	Percentage int     `json:"percentage"`
	Letter     string  `json:"grade"`
	Passed     bool    `json:"passed"`
}

// Entry is one graded, published submission as seen by the report card.
type Entry struct {
	Subject string
	Total   float64
	Max     float64
}

type Summary struct {
	Result
	Subjects int `json:"subjects"`
	Exams    int `json:"exams"`
}

// Clamp bounds marks to [0, max].
func Clamp(marks, max float64) float64 {
	if max < 0 {
		max = 0
	}
	return math.Min(math.Max(marks, 0), max)
}

// InRange reports whether marks lies within [0, max].
func InRange(marks, max float64) bool {
	return marks >= 0 && marks <= max && !math.IsNaN(marks)
}

// Percentage returns round(total / max * 100), or 0 when max is not positive.
func Percentage(total, max float64) int {
	if max <= 0 {
		return 0
	}
	return int(math.Round(total / max * 100))
}

func Letter(pct int) string {
	for _, g := range letterGrades {
		if pct >= g.min {
			return g.letter
		}
	}
	return failLetter
}

func Passed(pct int) bool {
	return pct >= PassMark
}

func Grade(total, max float64) Result {
	pct := Percentage(total, max)
	return Result{
		Total:      total,
		Max:        max,
		Percentage: pct,
		Letter:     Letter(pct),
		Passed:     Passed(pct),
	}
}

// Aggregate weights every entry by its max score: Σ total / Σ max.
func Aggregate(entries []Entry) Summary {
	var total, max float64
	subjects := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		total += e.Total
		max += e.Max
		subjects[e.Subject] = struct{}{}
	}
	return Summary{
		Result:   Grade(total, max),
		Subjects: len(subjects),
		Exams:    len(entries),
	}
}

// AutoMark suggests a mark for a multiple-choice answer.
// ok is false for question kinds that need a human grader.
func AutoMark(multipleChoice bool, correct, given string, marks float64) (isCorrect bool, awarded float64, ok bool) {
	if !multipleChoice || strings.TrimSpace(correct) == "" {
		return false, 0, false
	}
	if normalize(correct) == normalize(given) {
		return true, marks, true
	}
	return false, 0, true
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
