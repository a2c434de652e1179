// Package automation turns ERP entity events and daily payment sweeps into
// templated sends through the dispatch engine.
package automation

import (
	"strings"

	"github.com/fixzone/notifier/internal/db"
	"github.com/fixzone/notifier/internal/settings"
)

type Trigger string

const (
	TriggerStatusChange Trigger = "status_change"
	TriggerCreated      Trigger = "created"
)

// Event is one domain occurrence handed over by the ERP. It is never stored.
type Event struct {
	Trigger       Trigger
	EntityType    string
	EntityID      int64
	PreviousState string
	NewState      string
	TriggeredBy   *int64
}

// Selection is the outcome of Decide.
type Selection struct {
	ShouldNotify bool
	Template     string
	Kind         string
	AttachPDF    bool
}

type repairRule struct {
	template string
	kind     string
	toggle   func(settings.RepairToggles) bool
}

var repairRules = map[string]repairRule{
	"RECEIVED": {"repairReceivedMessage", "repair_received",
		func(t settings.RepairToggles) bool { return t.NotifyOnReceived }},
	"INSPECTION": {"diagnosisCompleteMessage", "repair_diagnosed",
		func(t settings.RepairToggles) bool { return t.NotifyOnDiagnosed }},
	"AWAITING_APPROVAL": {"awaitingApprovalMessage", "repair_awaiting_approval",
		func(t settings.RepairToggles) bool { return t.NotifyOnAwaitingApproval }},
	"UNDER_REPAIR": {"underRepairMessage", "repair_under_repair",
		func(t settings.RepairToggles) bool { return t.NotifyOnUnderRepair }},
	"WAITING_PARTS": {"waitingPartsMessage", "repair_waiting_parts",
		func(t settings.RepairToggles) bool { return t.NotifyOnWaitingParts }},
	"READY_FOR_PICKUP": {"readyPickupMessage", "repair_ready_pickup",
		func(t settings.RepairToggles) bool { return t.NotifyOnReadyPickup }},
	"READY_FOR_DELIVERY": {"repairCompletedMessage", "repair_completed",
		func(t settings.RepairToggles) bool { return t.NotifyOnCompleted }},
	"DELIVERED": {"deliveredMessage", "repair_delivered",
		func(t settings.RepairToggles) bool { return t.NotifyOnCompleted }},
	"COMPLETED": {"completedMessage", "repair_completed",
		func(t settings.RepairToggles) bool { return t.NotifyOnCompleted }},
	"REJECTED": {"rejectedMessage", "repair_rejected",
		func(t settings.RepairToggles) bool { return t.NotifyOnRejected }},
	"ON_HOLD": {"onHoldMessage", "repair_on_hold",
		func(t settings.RepairToggles) bool { return t.NotifyOnOnHold }},
}

// Frontend status names that differ from the stored ones.
var repairAliases = map[string]string{
	"DIAGNOSED":    "INSPECTION",
	"QUOTE_READY":  "AWAITING_APPROVAL",
	"IN_PROGRESS":  "UNDER_REPAIR",
	"READY_PICKUP": "READY_FOR_PICKUP",
	"CANCELLED":    "REJECTED",
}

// CanonicalRepairState upper-cases s and maps frontend aliases onto stored states.
func CanonicalRepairState(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if alias, ok := repairAliases[s]; ok {
		return alias
	}
	return s
}

// Decide reports whether ev should produce a message and with which template.
// It is pure: everything it needs is in m and ev.
func Decide(m settings.Messaging, ev Event) Selection {
	a := m.Automation
	if !a.Enabled {
		return Selection{}
	}

	switch ev.Trigger {
	case TriggerStatusChange:
		return decideStatusChange(a, ev)
	case TriggerCreated:
		return decideCreated(a, ev)
	}
	return Selection{}
}

func decideStatusChange(a settings.Automation, ev Event) Selection {
	if strings.TrimSpace(ev.NewState) == "" {
		return Selection{}
	}

	switch ev.EntityType {
	case db.EntityRepair:
		prev, next := CanonicalRepairState(ev.PreviousState), CanonicalRepairState(ev.NewState)
		if prev == next {
			return Selection{}
		}
		rule, ok := repairRules[next]
		if !ok || !rule.toggle(a.Repair) {
			return Selection{}
		}
		return Selection{ShouldNotify: true, Template: rule.template, Kind: rule.kind}

	case db.EntityQuotation:
		prev, next := strings.ToUpper(ev.PreviousState), strings.ToUpper(ev.NewState)
		if prev == next || next != "APPROVED" || !a.Quotation.NotifyOnApproved {
			return Selection{}
		}
		return Selection{ShouldNotify: true, Template: "quotationApprovedMessage", Kind: "quotation_approved"}
	}

	return Selection{}
}

func decideCreated(a settings.Automation, ev Event) Selection {
	switch ev.EntityType {
	case db.EntityInvoice:
		if a.Invoice.NotifyOnCreated {
			return Selection{ShouldNotify: true, Template: "defaultMessage", Kind: "invoice_created", AttachPDF: a.Invoice.AttachPDF}
		}
	case db.EntityQuotation:
		if a.Quotation.NotifyOnCreated {
			return Selection{ShouldNotify: true, Template: "quotationDefaultMessage", Kind: "quotation_created"}
		}
	case db.EntityPayment:
		if a.Payment.NotifyOnReceived {
			return Selection{ShouldNotify: true, Template: "paymentReceivedMessage", Kind: "payment_received"}
		}
	}
	return Selection{}
}
