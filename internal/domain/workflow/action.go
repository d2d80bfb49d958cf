package workflow

// Action represents a lifecycle action that drives a state transition
type Action string

const (
	ActionStartProcessing    Action = "start_processing"
	ActionCompleteOCR        Action = "complete_ocr"
	ActionCompleteExtraction Action = "complete_extraction"
	ActionValidate           Action = "validate"
	ActionRequestReview      Action = "request_review"
	ActionApprove            Action = "approve"
	ActionReject             Action = "reject"
	ActionRequestPayment     Action = "request_payment"
	ActionConfirmPayment     Action = "confirm_payment"
	ActionArchive            Action = "archive"
	ActionRetry              Action = "retry"
	ActionReportError        Action = "report_error"
)

// String returns the string representation of the action
func (a Action) String() string {
	return string(a)
}
