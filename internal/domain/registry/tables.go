package registry

import (
	wf "github.com/garyjia/procurement-lifecycle/internal/domain/workflow"
)

func newDefinition(initial wf.State, states, terminal wf.StateSet) (*definition, wf.StateMachineBuilder) {
	b := wf.NewBuilder(states)
	return &definition{initial: initial, terminal: terminal, builder: b}, b
}

func tenderDefinition() *definition {
	def, b := newDefinition(wf.StateDraft,
		wf.NewStateSet(wf.StateDraft, wf.StatePublished, wf.StateClosed, wf.StateAwarded, wf.StateCancelled),
		wf.NewStateSet(wf.StateAwarded, wf.StateCancelled))

	b.Configure(wf.StateDraft).
		Permit(wf.TriggerPublish, wf.StatePublished).
		Permit(wf.TriggerCancel, wf.StateCancelled)
	b.Configure(wf.StatePublished).
		Permit(wf.TriggerClose, wf.StateClosed).
		Permit(wf.TriggerCancel, wf.StateCancelled)
	b.Configure(wf.StateClosed).
		Permit(wf.TriggerAward, wf.StateAwarded).
		Permit(wf.TriggerCancel, wf.StateCancelled)

	return def
}

func bidDefinition() *definition {
	def, b := newDefinition(wf.StateDraft,
		wf.NewStateSet(wf.StateDraft, wf.StateSubmitted, wf.StateUnderReview, wf.StateEvaluated,
			wf.StateAccepted, wf.StateRejected, wf.StateWithdrawn),
		wf.NewStateSet(wf.StateAccepted, wf.StateRejected, wf.StateWithdrawn))

	b.Configure(wf.StateDraft).
		Permit(wf.TriggerSubmit, wf.StateSubmitted).
		Permit(wf.TriggerWithdraw, wf.StateWithdrawn)
	b.Configure(wf.StateSubmitted).
		Permit(wf.TriggerStartReview, wf.StateUnderReview).
		Permit(wf.TriggerAccept, wf.StateAccepted).
		Permit(wf.TriggerReject, wf.StateRejected).
		Permit(wf.TriggerWithdraw, wf.StateWithdrawn)
	b.Configure(wf.StateUnderReview).
		Permit(wf.TriggerEvaluate, wf.StateEvaluated).
		Permit(wf.TriggerAccept, wf.StateAccepted).
		Permit(wf.TriggerReject, wf.StateRejected).
		Permit(wf.TriggerWithdraw, wf.StateWithdrawn)
	b.Configure(wf.StateEvaluated).
		Permit(wf.TriggerAccept, wf.StateAccepted).
		Permit(wf.TriggerReject, wf.StateRejected)

	return def
}

func requisitionDefinition() *definition {
	def, b := newDefinition(wf.StateDraft,
		wf.NewStateSet(wf.StateDraft, wf.StatePendingApproval, wf.StateApproved, wf.StateRejected,
			wf.StateConvertedToPO, wf.StateCancelled),
		wf.NewStateSet(wf.StateRejected, wf.StateConvertedToPO, wf.StateCancelled))

	b.Configure(wf.StateDraft).
		Permit(wf.TriggerSubmit, wf.StatePendingApproval).
		Permit(wf.TriggerCancel, wf.StateCancelled)
	b.Configure(wf.StatePendingApproval).
		Permit(wf.TriggerApprove, wf.StateApproved).
		Permit(wf.TriggerReject, wf.StateRejected).
		Permit(wf.TriggerCancel, wf.StateCancelled)
	b.Configure(wf.StateApproved).
		Permit(wf.TriggerConvertToPO, wf.StateConvertedToPO).
		Permit(wf.TriggerCancel, wf.StateCancelled)

	return def
}

func purchaseOrderDefinition() *definition {
	def, b := newDefinition(wf.StateDraft,
		wf.NewStateSet(wf.StateDraft, wf.StatePendingApproval, wf.StateApproved, wf.StateRejected,
			wf.StateSentToVendor, wf.StateReceived, wf.StateCancelled),
		wf.NewStateSet(wf.StateRejected, wf.StateReceived, wf.StateCancelled))

	b.Configure(wf.StateDraft).
		Permit(wf.TriggerSubmit, wf.StatePendingApproval).
		Permit(wf.TriggerCancel, wf.StateCancelled)
	b.Configure(wf.StatePendingApproval).
		Permit(wf.TriggerApprove, wf.StateApproved).
		Permit(wf.TriggerReject, wf.StateRejected)
	b.Configure(wf.StateApproved).
		Permit(wf.TriggerSendToVendor, wf.StateSentToVendor).
		Permit(wf.TriggerCancel, wf.StateCancelled)
	b.Configure(wf.StateSentToVendor).
		Permit(wf.TriggerReceive, wf.StateReceived).
		Permit(wf.TriggerCancel, wf.StateCancelled)

	return def
}

func goodsReceiptDefinition() *definition {
	def, b := newDefinition(wf.StatePending,
		wf.NewStateSet(wf.StatePending, wf.StateInspected, wf.StateAccepted, wf.StateRejected, wf.StatePartial),
		wf.NewStateSet(wf.StateAccepted, wf.StateRejected))

	b.Configure(wf.StatePending).
		Permit(wf.TriggerInspect, wf.StateInspected).
		Permit(wf.TriggerReject, wf.StateRejected)
	b.Configure(wf.StateInspected).
		Permit(wf.TriggerAccept, wf.StateAccepted).
		Permit(wf.TriggerMarkPartial, wf.StatePartial).
		Permit(wf.TriggerReject, wf.StateRejected)
	b.Configure(wf.StatePartial).
		Permit(wf.TriggerInspect, wf.StateInspected).
		Permit(wf.TriggerAccept, wf.StateAccepted).
		Permit(wf.TriggerReject, wf.StateRejected)

	return def
}

func invoiceDefinition(overdue wf.GuardFunc) *definition {
	def, b := newDefinition(wf.StateDraft,
		wf.NewStateSet(wf.StateDraft, wf.StatePendingApproval, wf.StateApproved, wf.StatePaid,
			wf.StateRejected, wf.StateCancelled, wf.StateOverdue, wf.StateDisputed),
		wf.NewStateSet(wf.StatePaid, wf.StateRejected, wf.StateCancelled))

	b.Configure(wf.StateDraft).
		Permit(wf.TriggerSubmit, wf.StatePendingApproval).
		Permit(wf.TriggerCancel, wf.StateCancelled)
	b.Configure(wf.StatePendingApproval).
		Permit(wf.TriggerApprove, wf.StateApproved).
		Permit(wf.TriggerReject, wf.StateRejected).
		Permit(wf.TriggerDispute, wf.StateDisputed)
	b.Configure(wf.StateApproved).
		Permit(wf.TriggerMarkPaid, wf.StatePaid).
		PermitIf(wf.TriggerMarkOverdue, wf.StateOverdue, overdue).
		Permit(wf.TriggerDispute, wf.StateDisputed)
	b.Configure(wf.StateOverdue).
		Permit(wf.TriggerMarkPaid, wf.StatePaid).
		Permit(wf.TriggerDispute, wf.StateDisputed)
	b.Configure(wf.StateDisputed).
		Permit(wf.TriggerResolveDispute, wf.StatePendingApproval).
		Permit(wf.TriggerReject, wf.StateRejected).
		Permit(wf.TriggerCancel, wf.StateCancelled)

	return def
}

func paymentDefinition() *definition {
	def, b := newDefinition(wf.StateRequested,
		wf.NewStateSet(wf.StateRequested, wf.StateApproved, wf.StateProcessed, wf.StateFailed, wf.StateCancelled),
		wf.NewStateSet(wf.StateProcessed, wf.StateFailed, wf.StateCancelled))

	b.Configure(wf.StateRequested).
		Permit(wf.TriggerApprove, wf.StateApproved).
		Permit(wf.TriggerCancel, wf.StateCancelled)
	b.Configure(wf.StateApproved).
		Permit(wf.TriggerProcess, wf.StateProcessed).
		Permit(wf.TriggerFail, wf.StateFailed).
		Permit(wf.TriggerCancel, wf.StateCancelled)

	return def
}

func contractDefinition() *definition {
	def, b := newDefinition(wf.StateDraft,
		wf.NewStateSet(wf.StateDraft, wf.StateActive, wf.StateCompleted, wf.StateTerminated, wf.StateSuspended),
		wf.NewStateSet(wf.StateCompleted, wf.StateTerminated))

	b.Configure(wf.StateDraft).
		Permit(wf.TriggerActivate, wf.StateActive)
	b.Configure(wf.StateActive).
		Permit(wf.TriggerSuspend, wf.StateSuspended).
		Permit(wf.TriggerComplete, wf.StateCompleted).
		Permit(wf.TriggerTerminate, wf.StateTerminated)
	b.Configure(wf.StateSuspended).
		Permit(wf.TriggerResume, wf.StateActive).
		Permit(wf.TriggerTerminate, wf.StateTerminated)

	return def
}
