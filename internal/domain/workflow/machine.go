package workflow

import (
	"fmt"
	"sort"
)

// Machine validates invoice lifecycle transitions against a fixed
// transition table. It is stateless and safe for concurrent use; the
// per-invoice current state lives on the workflow record.
type Machine interface {
	// CanFire returns true if the action is permitted in the given state
	CanFire(from State, action Action) bool

	// Next returns the destination state for (from, action), or an
	// invalid-transition error when the pair is not in the table
	Next(from State, action Action) (State, error)

	// PermittedActions returns all actions that can be fired from the
	// given state, sorted for stable output
	PermittedActions(from State) []Action
}

// MachineBuilder configures a transition table
type MachineBuilder interface {
	// Configure returns a state configuration for the given state
	Configure(state State) StateConfiguration

	// Build creates an immutable machine from the accumulated table
	Build() Machine
}

// StateConfiguration configures transitions out of a specific state
type StateConfiguration interface {
	// Permit allows an action to transition to the target state
	Permit(action Action, toState State) StateConfiguration
}

type stateConfig struct {
	transitions map[Action]State
}

type machineBuilder struct {
	configurations map[State]*stateConfig
}

type machine struct {
	configurations map[State]*stateConfig
}

// NewBuilder creates a new machine builder
func NewBuilder() MachineBuilder {
	return &machineBuilder{
		configurations: make(map[State]*stateConfig),
	}
}

func (b *machineBuilder) Configure(state State) StateConfiguration {
	if !state.IsValid() {
		panic(fmt.Sprintf("invalid state: %s", state))
	}

	config, exists := b.configurations[state]
	if !exists {
		config = &stateConfig{transitions: make(map[Action]State)}
		b.configurations[state] = config
	}

	return config
}

func (b *machineBuilder) Build() Machine {
	// Deep copy so further builder mutation cannot reach the machine
	configsCopy := make(map[State]*stateConfig, len(b.configurations))
	for state, config := range b.configurations {
		transitionsCopy := make(map[Action]State, len(config.transitions))
		for action, to := range config.transitions {
			transitionsCopy[action] = to
		}
		configsCopy[state] = &stateConfig{transitions: transitionsCopy}
	}

	return &machine{configurations: configsCopy}
}

func (c *stateConfig) Permit(action Action, toState State) StateConfiguration {
	if !toState.IsValid() {
		panic(fmt.Sprintf("invalid target state: %s", toState))
	}

	c.transitions[action] = toState
	return c
}

func (m *machine) CanFire(from State, action Action) bool {
	config, exists := m.configurations[from]
	if !exists {
		return false
	}

	_, ok := config.transitions[action]
	return ok
}

func (m *machine) Next(from State, action Action) (State, error) {
	if !from.IsValid() {
		return "", NewInvalidStateError(from)
	}

	config, exists := m.configurations[from]
	if !exists {
		return "", NewInvalidTransitionError(from, action)
	}

	to, ok := config.transitions[action]
	if !ok {
		return "", NewInvalidTransitionError(from, action)
	}

	return to, nil
}

func (m *machine) PermittedActions(from State) []Action {
	config, exists := m.configurations[from]
	if !exists {
		return []Action{}
	}

	actions := make([]Action, 0, len(config.transitions))
	for action := range config.transitions {
		actions = append(actions, action)
	}
	sort.Slice(actions, func(i, j int) bool { return actions[i] < actions[j] })

	return actions
}

// NewInvoiceMachine builds the invoice lifecycle transition table
func NewInvoiceMachine() Machine {
	b := NewBuilder()

	b.Configure(StateUploaded).
		Permit(ActionStartProcessing, StateProcessing).
		Permit(ActionReportError, StateError)

	b.Configure(StateProcessing).
		Permit(ActionCompleteOCR, StateOCRComplete).
		Permit(ActionReportError, StateError)

	b.Configure(StateOCRComplete).
		Permit(ActionCompleteExtraction, StateExtracted).
		Permit(ActionReportError, StateError)

	b.Configure(StateExtracted).
		Permit(ActionValidate, StateValidated).
		Permit(ActionReportError, StateError)

	b.Configure(StateValidated).
		Permit(ActionRequestReview, StateReviewPending).
		Permit(ActionApprove, StateApproved)

	b.Configure(StateReviewPending).
		Permit(ActionApprove, StateApproved).
		Permit(ActionReject, StateRejected)

	b.Configure(StateApproved).
		Permit(ActionRequestPayment, StatePaymentPending)

	b.Configure(StatePaymentPending).
		Permit(ActionConfirmPayment, StatePaid).
		Permit(ActionReportError, StateError)

	b.Configure(StatePaid).
		Permit(ActionArchive, StateArchived)

	b.Configure(StateRejected).
		Permit(ActionArchive, StateArchived).
		Permit(ActionRetry, StateUploaded)

	b.Configure(StateError).
		Permit(ActionRetry, StateUploaded).
		Permit(ActionArchive, StateArchived)

	return b.Build()
}
