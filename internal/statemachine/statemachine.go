// Package statemachine is the single authority on which state changes are
// legal and what a pause costs. The tables here are the whole contract:
// anything not listed is forbidden, and callers get ErrInvalidTransition
// with no state change.
//
// The package is pure. Persisting a transition (entity update plus
// StateTransition audit row in one transaction) is the repository's job.
package statemachine

import (
	"errors"
	"fmt"
	"time"

	"github.com/ignite/deliverability-engine/internal/domain"
)

// ErrInvalidTransition is returned for any (from, to) pair not in the table.
var ErrInvalidTransition = errors.New("invalid state transition")

// Cooldown policy: 1h base, doubling per consecutive pause, capped at 16h.
const (
	CooldownMin        = 1 * time.Hour
	CooldownMax        = 16 * time.Hour
	CooldownMultiplier = 2
	cooldownExpCap     = 5

	// PauseResiliencePenalty is subtracted from resilience_score on pause.
	PauseResiliencePenalty = 15
)

// healthTransitions applies to both mailboxes and sending domains.
var healthTransitions = map[domain.HealthState][]domain.HealthState{
	domain.StateHealthy:        {domain.StateWarning, domain.StatePaused},
	domain.StateWarning:        {domain.StateHealthy, domain.StatePaused},
	domain.StatePaused:         {domain.StateQuarantine, domain.StateRecovering},
	domain.StateQuarantine:     {domain.StateRestrictedSend, domain.StatePaused},
	domain.StateRestrictedSend: {domain.StateWarmRecovery, domain.StatePaused, domain.StateQuarantine},
	domain.StateWarmRecovery:   {domain.StateHealthy, domain.StatePaused, domain.StateQuarantine},
	domain.StateRecovering:     {domain.StateHealthy, domain.StateWarning, domain.StateQuarantine},
}

var leadTransitions = map[domain.LeadState][]domain.LeadState{
	domain.LeadHeld:      {domain.LeadActive, domain.LeadPaused},
	domain.LeadActive:    {domain.LeadPaused, domain.LeadCompleted},
	domain.LeadPaused:    {domain.LeadActive, domain.LeadCompleted},
	domain.LeadCompleted: {}, // terminal
}

// CanTransition reports whether a mailbox/domain may move from -> to.
func CanTransition(from, to domain.HealthState) bool {
	for _, allowed := range healthTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Validate returns ErrInvalidTransition (wrapped with the pair) when the
// move is not permitted.
func Validate(from, to domain.HealthState) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// CanTransitionLead reports whether a lead may move from -> to.
func CanTransitionLead(from, to domain.LeadState) bool {
	for _, allowed := range leadTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ValidateLead returns ErrInvalidTransition when the lead move is illegal.
func ValidateLead(from, to domain.LeadState) error {
	if !CanTransitionLead(from, to) {
		return fmt.Errorf("%w: lead %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// Cooldown computes the pause cooldown for an entity that has already been
// paused consecutivePauses times. The exponent is capped so repeated
// offenders level out at CooldownMax.
func Cooldown(consecutivePauses int) time.Duration {
	if consecutivePauses < 0 {
		consecutivePauses = 0
	}
	exp := consecutivePauses
	if exp > cooldownExpCap {
		exp = cooldownExpCap
	}
	d := CooldownMin
	for i := 0; i < exp; i++ {
		d *= CooldownMultiplier
		if d >= CooldownMax {
			return CooldownMax
		}
	}
	return d
}

// PauseEffects is everything a pause writes besides the status itself.
type PauseEffects struct {
	CooldownUntil     time.Time
	ConsecutivePauses int
	LastPauseAt       time.Time
	ResilienceScore   int
	PhaseEnteredAt    time.Time
	RecoveryPhase     domain.RecoveryPhase
}

// Pause computes the side effects of entering the paused state.
// clean_sends_since_phase resets to zero implicitly (the struct carries
// no field for it; repositories zero the column).
func Pause(now time.Time, consecutivePauses, resilienceScore int) PauseEffects {
	score := resilienceScore - PauseResiliencePenalty
	if score < 0 {
		score = 0
	}
	return PauseEffects{
		CooldownUntil:     now.Add(Cooldown(consecutivePauses)),
		ConsecutivePauses: consecutivePauses + 1,
		LastPauseAt:       now,
		ResilienceScore:   score,
		PhaseEnteredAt:    now,
		RecoveryPhase:     domain.PhasePaused,
	}
}
