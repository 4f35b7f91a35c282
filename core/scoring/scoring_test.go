package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLetter(t *testing.T) {
	tests := []struct {
		pct    int
		want   string
		passed bool
	}{
		{pct: 100, want: "A", passed: true},
		{pct: 90, want: "A", passed: true},
		{pct: 89, want: "B", passed: true},
		{pct: 80, want: "B", passed: true},
		{pct: 79, want: "C", passed: true},
		{pct: 70, want: "C", passed: true},
		{pct: 69, want: "D", passed: true},
		{pct: 60, want: "D", passed: true},
		{pct: 59, want: "F", passed: false},
		{pct: 0, want: "F", passed: false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Letter(tt.pct), "pct=%d", tt.pct)
		assert.Equal(t, tt.passed, Passed(tt.pct), "pct=%d", tt.pct)
	}
}

func TestPercentage(t *testing.T) {
	assert.Equal(t, 0, Percentage(5, 0), "zero max must not divide")
	assert.Equal(t, 0, Percentage(0, 0))
	assert.Equal(t, 75, Percentage(15, 20))
	assert.Equal(t, 67, Percentage(2, 3))
	assert.Equal(t, 33, Percentage(1, 3))
	assert.Equal(t, 100, Percentage(10, 10))
	assert.Equal(t, 13, Percentage(1, 8), "half rounds up")
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 0.0, Clamp(-2, 5))
	assert.Equal(t, 5.0, Clamp(7, 5))
	assert.Equal(t, 3.5, Clamp(3.5, 5))
	assert.Equal(t, 0.0, Clamp(3, -1))
}

func TestInRange(t *testing.T) {
	assert.True(t, InRange(0, 5))
	assert.True(t, InRange(5, 5))
	assert.False(t, InRange(-0.5, 5))
	assert.False(t, InRange(5.5, 5))
}

func TestAggregate(t *testing.T) {
	sum := Aggregate([]Entry{
		{Subject: "Maths", Total: 10, Max: 10},
		{Subject: "Physics", Total: 5, Max: 10},
	})
	assert.Equal(t, 75, sum.Percentage, "weighted sum, not an average of 100% and 50%")
	assert.Equal(t, "C", sum.Letter)
	assert.True(t, sum.Passed)
	assert.Equal(t, 2, sum.Subjects)
	assert.Equal(t, 2, sum.Exams)
	assert.Equal(t, 15.0, sum.Total)
	assert.Equal(t, 20.0, sum.Max)

	weighted := Aggregate([]Entry{
		{Subject: "Maths", Total: 1, Max: 1},
		{Subject: "Maths", Total: 0, Max: 9},
	})
	assert.Equal(t, 10, weighted.Percentage)
	assert.Equal(t, 1, weighted.Subjects)

	empty := Aggregate(nil)
	assert.Equal(t, 0, empty.Percentage)
	assert.Equal(t, "F", empty.Letter)
	assert.Equal(t, 0, empty.Subjects)
}

func TestAutoMark(t *testing.T) {
	isCorrect, marks, ok := AutoMark(true, "Paris", "  paris ", 2)
	assert.True(t, ok)
	assert.True(t, isCorrect)
	assert.Equal(t, 2.0, marks)

	isCorrect, marks, ok = AutoMark(true, "Paris", "Lyon", 2)
	assert.True(t, ok)
	assert.False(t, isCorrect)
	assert.Equal(t, 0.0, marks)

	_, _, ok = AutoMark(false, "anything", "anything", 2)
	assert.False(t, ok)
}
