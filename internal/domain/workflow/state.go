package workflow

// State represents an invoice lifecycle state
type State string

const (
	StateUploaded       State = "uploaded"
	StateProcessing     State = "processing"
	StateOCRComplete    State = "ocr_complete"
	StateExtracted      State = "extracted"
	StateValidated      State = "validated"
	StateReviewPending  State = "review_pending"
	StateApproved       State = "approved"
	StateRejected       State = "rejected"
	StatePaymentPending State = "payment_pending"
	StatePaid           State = "paid"
	StateArchived       State = "archived"
	StateError          State = "error"
)

var validStates = map[State]bool{
	StateUploaded:       true,
	StateProcessing:     true,
	StateOCRComplete:    true,
	StateExtracted:      true,
	StateValidated:      true,
	StateReviewPending:  true,
	StateApproved:       true,
	StateRejected:       true,
	StatePaymentPending: true,
	StatePaid:           true,
	StateArchived:       true,
	StateError:          true,
}

var terminalStates = map[State]bool{
	StateArchived: true,
}

// IsTerminal returns true if no further transitions are allowed from the state
func (s State) IsTerminal() bool {
	return terminalStates[s]
}

// IsValid returns true if the state is a defined lifecycle state
func (s State) IsValid() bool {
	return validStates[s]
}

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}
