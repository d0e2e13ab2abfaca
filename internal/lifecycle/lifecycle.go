// Package lifecycle derives an auction's phase from the loosely formatted
// start and end texts catalog sites print.
package lifecycle

import (
	"time"

	"lotwatch/internal/models"
)

// ActiveWindow bounds how long an auction with no known end is considered running.
const ActiveWindow = 24 * time.Hour

// Classify applies the phase rules to already parsed bounds. A nil bound is
// one that could not be parsed.
func Classify(now time.Time, start, end *time.Time) models.Phase {
	switch {
	case start != nil && end != nil:
		if now.Before(*start) {
			return models.PhaseScheduled
		}
		if !now.After(*end) {
			return models.PhaseActive
		}
		return models.PhaseFinished
	case start != nil:
		if now.Before(*start) {
			return models.PhaseScheduled
		}
		if now.Sub(*start) < ActiveWindow {
			return models.PhaseActive
		}
		return models.PhaseFinished
	case end != nil && now.After(*end):
		return models.PhaseFinished
	}
	return models.PhaseUnknown
}

// Bounds parses the stored start and end texts. Countdowns resolve against ref.
func Bounds(startText, endText string, ref time.Time, loc *time.Location) (start, end *time.Time) {
	if t, ok := Parse(startText, ref, loc); ok {
		start = &t
	}
	if t, ok := Parse(endText, ref, loc); ok {
		end = &t
	}
	return start, end
}

// ClassifyText parses both texts and classifies them against now.
func ClassifyText(now time.Time, startText, endText string, loc *time.Location) models.Phase {
	start, end := Bounds(startText, endText, now, loc)
	return Classify(now, start, end)
}

// Eligible reports whether an item in the given phase should get a monitor
// task: the auction is not over and either starts within lead or has no
// parseable start.
func Eligible(now time.Time, phase models.Phase, start *time.Time, lead time.Duration) bool {
	switch phase {
	case models.PhaseScheduled, models.PhaseActive, models.PhaseUnknown:
	default:
		return false
	}
	if start == nil {
		return true
	}
	return start.Sub(now) <= lead
}
