package domain

// SystemMode controls how much the control plane is allowed to do on its
// own. In observe mode every intended action is logged only; in suggest
// mode it becomes a notification; in enforce mode state actually changes.
type SystemMode string

const (
	ModeObserve SystemMode = "observe"
	ModeSuggest SystemMode = "suggest"
	ModeEnforce SystemMode = "enforce"
)

// HealthState is the operational state of a mailbox or sending domain.
type HealthState string

const (
	StateHealthy        HealthState = "healthy"
	StateWarning        HealthState = "warning"
	StatePaused         HealthState = "paused"
	StateQuarantine     HealthState = "quarantine"
	StateRestrictedSend HealthState = "restricted_send"
	StateWarmRecovery   HealthState = "warm_recovery"

	// StateRecovering is the legacy post-pause state. New pauses graduate
	// through the phase model (quarantine onward); recovering is still
	// accepted for rows that carry it.
	StateRecovering HealthState = "recovering"
)

// InRecoveryPhase reports whether the state is one of the graduated
// recovery phases where clean-send counting and relapse handling apply.
func (s HealthState) InRecoveryPhase() bool {
	switch s {
	case StateQuarantine, StateRestrictedSend, StateWarmRecovery:
		return true
	}
	return false
}

// Unhealthy reports whether the state counts against domain health ratios.
func (s HealthState) Unhealthy() bool {
	return s != StateHealthy
}

// RecoveryPhase is the ordered graduation ladder after a pause.
type RecoveryPhase string

const (
	PhasePaused         RecoveryPhase = "paused"
	PhaseQuarantine     RecoveryPhase = "quarantine"
	PhaseRestrictedSend RecoveryPhase = "restricted_send"
	PhaseWarmRecovery   RecoveryPhase = "warm_recovery"
	PhaseHealthy        RecoveryPhase = "healthy"
)

// phaseOrder gives each phase its position on the ladder.
var phaseOrder = map[RecoveryPhase]int{
	PhasePaused:         0,
	PhaseQuarantine:     1,
	PhaseRestrictedSend: 2,
	PhaseWarmRecovery:   3,
	PhaseHealthy:        4,
}

// Next returns the phase one step up the ladder. Healthy returns itself.
func (p RecoveryPhase) Next() RecoveryPhase {
	switch p {
	case PhasePaused:
		return PhaseQuarantine
	case PhaseQuarantine:
		return PhaseRestrictedSend
	case PhaseRestrictedSend:
		return PhaseWarmRecovery
	default:
		return PhaseHealthy
	}
}

// Prev returns the phase one step down the ladder. Paused returns itself.
func (p RecoveryPhase) Prev() RecoveryPhase {
	switch p {
	case PhaseHealthy:
		return PhaseWarmRecovery
	case PhaseWarmRecovery:
		return PhaseRestrictedSend
	case PhaseRestrictedSend:
		return PhaseQuarantine
	default:
		return PhasePaused
	}
}

// Before reports whether p comes earlier on the ladder than other.
func (p RecoveryPhase) Before(other RecoveryPhase) bool {
	return phaseOrder[p] < phaseOrder[other]
}

// HealthState returns the operational state that corresponds to a phase.
func (p RecoveryPhase) HealthState() HealthState {
	switch p {
	case PhasePaused:
		return StatePaused
	case PhaseQuarantine:
		return StateQuarantine
	case PhaseRestrictedSend:
		return StateRestrictedSend
	case PhaseWarmRecovery:
		return StateWarmRecovery
	default:
		return StateHealthy
	}
}

// LeadState is the lifecycle state of a lead.
type LeadState string

const (
	LeadHeld      LeadState = "held"
	LeadActive    LeadState = "active"
	LeadPaused    LeadState = "paused"
	LeadCompleted LeadState = "completed"
)

// EmailProvider is the receiving-side provider fingerprint used for
// provider-scoped restrictions.
type EmailProvider string

const (
	ProviderGmail     EmailProvider = "GMAIL"
	ProviderMicrosoft EmailProvider = "MICROSOFT"
	ProviderYahoo     EmailProvider = "YAHOO"
	ProviderOther     EmailProvider = "OTHER"
)

// EntityType tags events, transitions and audit rows with the kind of
// entity they refer to.
type EntityType string

const (
	EntityMailbox  EntityType = "mailbox"
	EntityDomain   EntityType = "domain"
	EntityCampaign EntityType = "campaign"
	EntityLead     EntityType = "lead"
	EntityOrg      EntityType = "organization"
)
