package statemachine

import (
	"errors"
	"testing"
	"time"

	"github.com/ignite/deliverability-engine/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestHealthTransitionTable(t *testing.T) {
	allowed := []struct{ from, to domain.HealthState }{
		{domain.StateHealthy, domain.StateWarning},
		{domain.StateHealthy, domain.StatePaused},
		{domain.StateWarning, domain.StateHealthy},
		{domain.StateWarning, domain.StatePaused},
		{domain.StatePaused, domain.StateQuarantine},
		{domain.StatePaused, domain.StateRecovering},
		{domain.StateQuarantine, domain.StateRestrictedSend},
		{domain.StateQuarantine, domain.StatePaused},
		{domain.StateRestrictedSend, domain.StateWarmRecovery},
		{domain.StateRestrictedSend, domain.StateQuarantine},
		{domain.StateWarmRecovery, domain.StateHealthy},
		{domain.StateWarmRecovery, domain.StatePaused},
		{domain.StateRecovering, domain.StateHealthy},
		{domain.StateRecovering, domain.StateWarning},
		{domain.StateRecovering, domain.StateQuarantine},
	}
	for _, tr := range allowed {
		assert.True(t, CanTransition(tr.from, tr.to), "%s -> %s should be allowed", tr.from, tr.to)
		assert.NoError(t, Validate(tr.from, tr.to))
	}

	forbidden := []struct{ from, to domain.HealthState }{
		{domain.StateHealthy, domain.StateQuarantine},
		{domain.StateHealthy, domain.StateHealthy},
		{domain.StatePaused, domain.StateHealthy},
		{domain.StatePaused, domain.StateWarmRecovery},
		{domain.StateQuarantine, domain.StateHealthy},
		{domain.StateWarmRecovery, domain.StateRestrictedSend},
		{domain.StateRecovering, domain.StatePaused},
	}
	for _, tr := range forbidden {
		assert.False(t, CanTransition(tr.from, tr.to), "%s -> %s should be forbidden", tr.from, tr.to)
		err := Validate(tr.from, tr.to)
		assert.True(t, errors.Is(err, ErrInvalidTransition))
	}
}

func TestLeadTransitionTable(t *testing.T) {
	assert.True(t, CanTransitionLead(domain.LeadHeld, domain.LeadActive))
	assert.True(t, CanTransitionLead(domain.LeadHeld, domain.LeadPaused))
	assert.True(t, CanTransitionLead(domain.LeadActive, domain.LeadPaused))
	assert.True(t, CanTransitionLead(domain.LeadActive, domain.LeadCompleted))
	assert.True(t, CanTransitionLead(domain.LeadPaused, domain.LeadActive))
	assert.True(t, CanTransitionLead(domain.LeadPaused, domain.LeadCompleted))

	// completed is terminal
	assert.False(t, CanTransitionLead(domain.LeadCompleted, domain.LeadActive))
	assert.False(t, CanTransitionLead(domain.LeadCompleted, domain.LeadPaused))
	assert.False(t, CanTransitionLead(domain.LeadHeld, domain.LeadCompleted))
}

func TestCooldownSchedule(t *testing.T) {
	assert.Equal(t, 1*time.Hour, Cooldown(0))
	assert.Equal(t, 2*time.Hour, Cooldown(1))
	assert.Equal(t, 4*time.Hour, Cooldown(2))
	assert.Equal(t, 8*time.Hour, Cooldown(3))
	assert.Equal(t, 16*time.Hour, Cooldown(4))
	// capped
	assert.Equal(t, 16*time.Hour, Cooldown(5))
	assert.Equal(t, 16*time.Hour, Cooldown(50))
	// defensive input
	assert.Equal(t, 1*time.Hour, Cooldown(-3))
}

// Consecutive pauses must never shorten the cooldown.
func TestCooldownMonotonic(t *testing.T) {
	prev := time.Duration(0)
	for n := 0; n < 10; n++ {
		d := Cooldown(n)
		assert.GreaterOrEqual(t, d, prev)
		assert.LessOrEqual(t, d, CooldownMax)
		prev = d
	}
}

func TestPauseEffects(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	e := Pause(now, 0, 50)
	assert.Equal(t, now.Add(1*time.Hour), e.CooldownUntil)
	assert.Equal(t, 1, e.ConsecutivePauses)
	assert.Equal(t, 35, e.ResilienceScore)
	assert.Equal(t, domain.PhasePaused, e.RecoveryPhase)
	assert.Equal(t, now, e.LastPauseAt)
	assert.Equal(t, now, e.PhaseEnteredAt)

	// second offense: doubled cooldown, stacked penalty
	e2 := Pause(now, e.ConsecutivePauses, e.ResilienceScore)
	assert.Equal(t, now.Add(2*time.Hour), e2.CooldownUntil)
	assert.Equal(t, 2, e2.ConsecutivePauses)
	assert.Equal(t, 20, e2.ResilienceScore)
}

func TestPauseResilienceFloor(t *testing.T) {
	e := Pause(time.Now(), 0, 10)
	assert.Equal(t, 0, e.ResilienceScore)
}
