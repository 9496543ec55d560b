// Package scoring computes correctness and points for a single answer.
package scoring

import (
	"math"
	"sort"
	"time"

	"live-quiz-service/internal/domain"
)

// Rule selects how a correct answer is converted into points.
type Rule int

const (
	// SpeedBonus scales points from 100% (instant) down to 50% (at the limit).
	SpeedBonus Rule = iota
	// FullPoints always awards the question maximum.
	FullPoints
)

// RuleFor returns the rule a session scores with.
func RuleFor(s domain.Session) Rule {
	if s.Mode == domain.ModeLive && s.Live.Grading != domain.GradingAccuracyOnly {
		return SpeedBonus
	}
	return FullPoints
}

// Outcome is the scored result of one answer.
type Outcome struct {
	Selected []int
	Correct  bool
	Points   int
}

// Normalize turns raw selections into an ascending set.
func Normalize(selected []int) []int {
	out := append([]int(nil), selected...)
	sort.Ints(out)
	uniq := make([]int, 0, len(out))
	for _, v := range out {
		if len(uniq) == 0 || uniq[len(uniq)-1] != v {
			uniq = append(uniq, v)
		}
	}
	return uniq
}

// IsCorrect compares the normalized selection with the correct option set.
func IsCorrect(q domain.Question, selected []int) bool {
	want := q.CorrectIndices()
	got := Normalize(selected)
	if len(want) != len(got) {
		return false
	}
	for i := range want {
		if want[i] != got[i] {
			return false
		}
	}
	return true
}

// SpeedFactor returns 1 - (t/limit)/2 with t clamped to [0, limit].
func SpeedFactor(timeSpent float64, limit time.Duration) float64 {
	l := limit.Seconds()
	if l <= 0 {
		return 1
	}
	t := math.Max(0, math.Min(timeSpent, l))
	return 1 - (t/l)/2
}

// Score evaluates one answer. timeSpent is in seconds and limit is the
// countdown the question ran with.
func Score(q domain.Question, selected []int, rule Rule, timeSpent float64, limit time.Duration) Outcome {
	out := Outcome{Selected: Normalize(selected)}
	out.Correct = IsCorrect(q, out.Selected)
	if !out.Correct {
		return out
	}
	switch rule {
	case SpeedBonus:
		out.Points = int(math.Round(float64(q.Points()) * SpeedFactor(timeSpent, limit)))
	default:
		out.Points = q.Points()
	}
	return out
}
