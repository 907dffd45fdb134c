package workflow

// Trigger represents a named transition that moves a document between states
type Trigger string

const (
	TriggerSubmit         Trigger = "SUBMIT"
	TriggerPublish        Trigger = "PUBLISH"
	TriggerClose          Trigger = "CLOSE"
	TriggerAward          Trigger = "AWARD"
	TriggerCancel         Trigger = "CANCEL"
	TriggerStartReview    Trigger = "START_REVIEW"
	TriggerEvaluate       Trigger = "EVALUATE"
	TriggerAccept         Trigger = "ACCEPT"
	TriggerReject         Trigger = "REJECT"
	TriggerWithdraw       Trigger = "WITHDRAW"
	TriggerApprove        Trigger = "APPROVE"
	TriggerConvertToPO    Trigger = "CONVERT_TO_PO"
	TriggerSendToVendor   Trigger = "SEND_TO_VENDOR"
	TriggerReceive        Trigger = "RECEIVE"
	TriggerInspect        Trigger = "INSPECT"
	TriggerMarkPartial    Trigger = "MARK_PARTIAL"
	TriggerMarkPaid       Trigger = "MARK_PAID"
	TriggerMarkOverdue    Trigger = "MARK_OVERDUE"
	TriggerDispute        Trigger = "DISPUTE"
	TriggerResolveDispute Trigger = "RESOLVE_DISPUTE"
	TriggerProcess        Trigger = "PROCESS"
	TriggerFail           Trigger = "FAIL"
	TriggerActivate       Trigger = "ACTIVATE"
	TriggerSuspend        Trigger = "SUSPEND"
	TriggerResume         Trigger = "RESUME"
	TriggerComplete       Trigger = "COMPLETE"
	TriggerTerminate      Trigger = "TERMINATE"

	// TriggerRaiseInvoice records invoice derivation on a goods receipt without changing its status
	TriggerRaiseInvoice Trigger = "RAISE_INVOICE"
	// TriggerDerive is the creation record of a document produced by another transition
	TriggerDerive Trigger = "DERIVE"
)

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}
