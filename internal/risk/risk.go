// Package risk holds the scoring math for mailbox health. Everything here
// is pure: callers feed in window counters and get scores back. The
// metrics engine owns persistence of inputs and outputs.
//
// Rates are expressed in percent (0-100), not fractions. A mailbox that
// bounced 5 of 100 sends has a rate of 5.0.
package risk

import "math"

// Score bands.
const (
	LevelCritical = "critical"
	LevelHigh     = "high"
	LevelMedium   = "medium"
	LevelLow      = "low"

	// HardRiskCritical is the only threshold that may block execution.
	// Soft signals log but never block.
	HardRiskCritical = 60.0
)

// WindowRates is one rolling window reduced to percentages.
type WindowRates struct {
	BounceRate  float64 // percent
	FailureRate float64 // percent
}

// Rates converts raw window counters to percentages. Zero sends means
// zero rates rather than a division error.
func Rates(sent, bounces, failures int) WindowRates {
	if sent <= 0 {
		return WindowRates{}
	}
	return WindowRates{
		BounceRate:  float64(bounces) / float64(sent) * 100,
		FailureRate: float64(failures) / float64(sent) * 100,
	}
}

// Velocity measures how fast rates are moving between recompute cycles.
// Positive means deteriorating. Clamped to [-100, 100].
func Velocity(bounceDelta, failureDelta float64) float64 {
	return clamp(bounceDelta*50+failureDelta*30, -100, 100)
}

// Inputs carries everything the composite score needs.
type Inputs struct {
	Window1h          WindowRates
	Window24h         WindowRates
	Velocity          float64
	ConsecutivePauses int
}

// Score computes the 0-100 composite risk score. The 1h window is
// weighted double so fresh damage dominates.
//
//	bounce component   <= 40
//	failure component  <= 30
//	velocity component <= 20
//	escalation         <= 10
func Score(in Inputs) float64 {
	bounce := math.Min(40, (in.Window1h.BounceRate*2+in.Window24h.BounceRate)*10)
	failure := math.Min(30, (in.Window1h.FailureRate*2+in.Window24h.FailureRate)*8)
	velocity := clamp(in.Velocity*0.2, 0, 20)
	escalation := math.Min(10, float64(3*in.ConsecutivePauses))
	return clamp(bounce+failure+velocity+escalation, 0, 100)
}

// Level maps a composite score to its band.
func Level(score float64) string {
	switch {
	case score >= 75:
		return LevelCritical
	case score >= 50:
		return LevelHigh
	case score >= 25:
		return LevelMedium
	default:
		return LevelLow
	}
}

// HardScore is the bounce/failure-driven axis. Only this axis may block
// the execution gate (at HardRiskCritical).
func HardScore(w24 WindowRates) float64 {
	return math.Min(100, (0.7*w24.BounceRate+0.3*w24.FailureRate)*10)
}

// SoftScore is the velocity/history-driven axis: informational only.
func SoftScore(velocity float64, warningCount int) float64 {
	return velocity*20 + float64(warningCount)*10
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
