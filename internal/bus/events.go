package bus

// Event types published on the bus. These identifiers are stable: they
// appear in stream keys and in the audit trail.
const (
	EventInvoiceUploaded  = "invoice.uploaded"
	EventInvoiceProcessed = "invoice.processed"
	EventInvoiceApproved  = "invoice.approved"
	EventInvoiceRejected  = "invoice.rejected"
	EventInvoicePaid      = "invoice.paid"

	EventApprovalRequested = "approval.requested"
	EventApprovalAssigned  = "approval.assigned"
	EventApprovalCompleted = "approval.completed"

	EventPaymentInitiated = "payment.initiated"
	EventPaymentCompleted = "payment.completed"
	EventPaymentFailed    = "payment.failed"
	EventPaymentRefunded  = "payment.refunded"

	EventERPSyncStarted   = "erp.sync_started"
	EventERPSyncCompleted = "erp.sync_completed"
	EventERPSyncFailed    = "erp.sync_failed"

	EventSystemError   = "system.error"
	EventSystemWarning = "system.warning"
)
