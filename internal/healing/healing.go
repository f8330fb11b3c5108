package healing

import (
	"time"

	"github.com/ignite/deliverability-engine/internal/domain"
)

// Resilience adjustments. Applied with clamping to [0,100].
const (
	ResiliencePausePenalty    = 15
	ResilienceGraduationBonus = 10
	ResilienceRelapsePenalty  = 25
	ResilienceStableWeekBonus = 5

	// Starting scores by origin.
	ResilienceStartRecovery = 50
	ResilienceStartRehab    = 40
)

// Graduation requirements.
const (
	// Clean sends needed to leave restricted_send. Repeat offenders and
	// rehab-origin entities need more.
	CleanSendsFirstOffense = 15
	CleanSendsRepeat       = 25
	RehabMultiplier        = 2

	// warm_recovery -> healthy gate.
	WarmRecoveryMinSends   = 50
	WarmRecoveryMinDays    = 3
	WarmRecoveryBounceRate = 0.02

	// quarantine must be held this long (scaled by the speed
	// multiplier) before restricted_send opens up.
	QuarantineMinDuration = 24 * time.Hour

	StableWeek = 7 * 24 * time.Hour
)

// phaseVolumeBase is the per-mailbox-day send allowance by phase,
// before resilience scaling. Healthy is unlimited (-1).
var phaseVolumeBase = map[domain.RecoveryPhase]int{
	domain.PhasePaused:         0,
	domain.PhaseQuarantine:     5,
	domain.PhaseRestrictedSend: 15,
	domain.PhaseWarmRecovery:   30,
	domain.PhaseHealthy:        -1,
}

// warningVolumeLimit applies to warning-state entities outside the
// phase ladder.
const warningVolumeLimit = 50

// SpeedMultiplier maps resilience to the healing speed factor applied
// to required days per phase. Low scores heal at half speed.
func SpeedMultiplier(resilience int) float64 {
	switch {
	case resilience <= 30:
		return 2.0
	case resilience >= 71:
		return 0.75
	default:
		return 1.0
	}
}

// PhaseVolumeLimit returns the daily send allowance for a phase,
// scaled by the resilience multiplier. -1 means unlimited; unknown
// phases (legacy rows carry none) are treated as healthy.
func PhaseVolumeLimit(phase domain.RecoveryPhase, resilience int) int {
	base, ok := phaseVolumeBase[phase]
	if !ok {
		return -1
	}
	if base <= 0 {
		return base
	}
	return int(float64(base) / SpeedMultiplier(resilience))
}

// WarningVolumeLimit returns the allowance for warning-state entities.
func WarningVolumeLimit(resilience int) int {
	return int(float64(warningVolumeLimit) / SpeedMultiplier(resilience))
}

// RequiredCleanSends computes the restricted_send graduation bar.
func RequiredCleanSends(consecutivePauses int, rehabOrigin bool) int {
	n := CleanSendsFirstOffense
	if consecutivePauses > 1 {
		n = CleanSendsRepeat
	}
	if rehabOrigin {
		n *= RehabMultiplier
	}
	return n
}

// clampScore keeps resilience in [0,100].
func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
