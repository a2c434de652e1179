package automation

import (
	"testing"

	"github.com/fixzone/notifier/internal/db"
	"github.com/fixzone/notifier/internal/settings"
)

func enabled() settings.Messaging {
	m := settings.Defaults()
	m.Automation.Enabled = true
	return m
}

func statusChange(entity, from, to string) Event {
	return Event{Trigger: TriggerStatusChange, EntityType: entity, EntityID: 1, PreviousState: from, NewState: to}
}

func TestDecide_RepairTable(t *testing.T) {
	tests := []struct {
		name     string
		from, to string
		template string
		kind     string
	}{
		{"received", "", "RECEIVED", "repairReceivedMessage", "repair_received"},
		{"inspection", "RECEIVED", "INSPECTION", "diagnosisCompleteMessage", "repair_diagnosed"},
		{"awaiting approval", "INSPECTION", "AWAITING_APPROVAL", "awaitingApprovalMessage", "repair_awaiting_approval"},
		{"under repair", "RECEIVED", "UNDER_REPAIR", "underRepairMessage", "repair_under_repair"},
		{"waiting parts", "UNDER_REPAIR", "WAITING_PARTS", "waitingPartsMessage", "repair_waiting_parts"},
		{"ready for pickup", "UNDER_REPAIR", "READY_FOR_PICKUP", "readyPickupMessage", "repair_ready_pickup"},
		{"ready for delivery", "UNDER_REPAIR", "READY_FOR_DELIVERY", "repairCompletedMessage", "repair_completed"},
		{"delivered", "READY_FOR_PICKUP", "DELIVERED", "deliveredMessage", "repair_delivered"},
		{"completed", "DELIVERED", "COMPLETED", "completedMessage", "repair_completed"},
		{"lowercase", "received", "under_repair", "underRepairMessage", "repair_under_repair"},
		{"frontend alias", "received", "in_progress", "underRepairMessage", "repair_under_repair"},
		{"diagnosed alias", "received", "diagnosed", "diagnosisCompleteMessage", "repair_diagnosed"},
		{"quote ready alias", "diagnosed", "quote_ready", "awaitingApprovalMessage", "repair_awaiting_approval"},
		{"ready pickup alias", "in_progress", "ready_pickup", "readyPickupMessage", "repair_ready_pickup"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decide(enabled(), statusChange(db.EntityRepair, tt.from, tt.to))
			if !got.ShouldNotify || got.Template != tt.template || got.Kind != tt.kind {
				t.Errorf("Decide(%s -> %s) = %+v, want (%s, %s)", tt.from, tt.to, got, tt.template, tt.kind)
			}
		})
	}
}

func TestDecide_DefaultOffToggles(t *testing.T) {
	m := enabled()
	for _, to := range []string{"REJECTED", "cancelled", "ON_HOLD"} {
		if got := Decide(m, statusChange(db.EntityRepair, "RECEIVED", to)); got.ShouldNotify {
			t.Errorf("%s should be off by default, got %+v", to, got)
		}
	}

	m.Automation.Repair.NotifyOnRejected = true
	m.Automation.Repair.NotifyOnOnHold = true
	if got := Decide(m, statusChange(db.EntityRepair, "RECEIVED", "cancelled")); got.Template != "rejectedMessage" {
		t.Errorf("cancelled alias = %+v", got)
	}
	if got := Decide(m, statusChange(db.EntityRepair, "RECEIVED", "on_hold")); got.Kind != "repair_on_hold" {
		t.Errorf("on hold = %+v", got)
	}
}

func TestDecide_Gates(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(m *settings.Messaging)
		ev     Event
	}{
		{
			name:   "kill switch",
			mutate: func(m *settings.Messaging) { m.Automation.Enabled = false },
			ev:     statusChange(db.EntityRepair, "RECEIVED", "UNDER_REPAIR"),
		},
		{
			name: "missing settings document",
			mutate: func(m *settings.Messaging) {
				*m = settings.Defaults()
			},
			ev: statusChange(db.EntityRepair, "RECEIVED", "UNDER_REPAIR"),
		},
		{
			name:   "toggle off",
			mutate: func(m *settings.Messaging) { m.Automation.Repair.NotifyOnUnderRepair = false },
			ev:     statusChange(db.EntityRepair, "RECEIVED", "UNDER_REPAIR"),
		},
		{
			name:   "no-op transition",
			mutate: func(*settings.Messaging) {},
			ev:     statusChange(db.EntityRepair, "UNDER_REPAIR", "under_repair"),
		},
		{
			name:   "no-op through alias",
			mutate: func(*settings.Messaging) {},
			ev:     statusChange(db.EntityRepair, "in_progress", "UNDER_REPAIR"),
		},
		{
			name:   "unmapped state",
			mutate: func(*settings.Messaging) {},
			ev:     statusChange(db.EntityRepair, "RECEIVED", "ARCHIVED"),
		},
		{
			name:   "empty new state",
			mutate: func(*settings.Messaging) {},
			ev:     statusChange(db.EntityRepair, "RECEIVED", ""),
		},
		{
			name:   "quotation no-op",
			mutate: func(*settings.Messaging) {},
			ev:     statusChange(db.EntityQuotation, "APPROVED", "approved"),
		},
		{
			name:   "quotation other state",
			mutate: func(*settings.Messaging) {},
			ev:     statusChange(db.EntityQuotation, "SENT", "REJECTED"),
		},
		{
			name:   "invoice status change",
			mutate: func(*settings.Messaging) {},
			ev:     statusChange(db.EntityInvoice, "unpaid", "paid"),
		},
		{
			name:   "payment created off by default",
			mutate: func(*settings.Messaging) {},
			ev:     Event{Trigger: TriggerCreated, EntityType: db.EntityPayment, EntityID: 1},
		},
		{
			name:   "repair created",
			mutate: func(*settings.Messaging) {},
			ev:     Event{Trigger: TriggerCreated, EntityType: db.EntityRepair, EntityID: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := enabled()
			tt.mutate(&m)
			if got := Decide(m, tt.ev); got.ShouldNotify {
				t.Errorf("expected no notification, got %+v", got)
			}
		})
	}
}

func TestDecide_Created(t *testing.T) {
	m := enabled()
	m.Automation.Payment.NotifyOnReceived = true

	tests := []struct {
		entity   string
		template string
		kind     string
		pdf      bool
	}{
		{db.EntityInvoice, "defaultMessage", "invoice_created", true},
		{db.EntityQuotation, "quotationDefaultMessage", "quotation_created", false},
		{db.EntityPayment, "paymentReceivedMessage", "payment_received", false},
	}
	for _, tt := range tests {
		t.Run(tt.entity, func(t *testing.T) {
			got := Decide(m, Event{Trigger: TriggerCreated, EntityType: tt.entity, EntityID: 9})
			want := Selection{ShouldNotify: true, Template: tt.template, Kind: tt.kind, AttachPDF: tt.pdf}
			if got != want {
				t.Errorf("Decide() = %+v, want %+v", got, want)
			}
		})
	}

	m.Automation.Invoice.NotifyOnCreated = false
	if got := Decide(m, Event{Trigger: TriggerCreated, EntityType: db.EntityInvoice, EntityID: 9}); got.ShouldNotify {
		t.Error("invoice toggle off should suppress")
	}
}

func TestDecide_QuotationApproved(t *testing.T) {
	m := enabled()
	got := Decide(m, statusChange(db.EntityQuotation, "SENT", "approved"))
	if !got.ShouldNotify || got.Template != "quotationApprovedMessage" || got.Kind != "quotation_approved" {
		t.Errorf("Decide() = %+v", got)
	}

	m.Automation.Quotation.NotifyOnApproved = false
	if Decide(m, statusChange(db.EntityQuotation, "SENT", "APPROVED")).ShouldNotify {
		t.Error("toggle off should suppress")
	}
}

func TestCanonicalRepairState(t *testing.T) {
	tests := map[string]string{
		" received ":   "RECEIVED",
		"in_progress":  "UNDER_REPAIR",
		"READY_PICKUP": "READY_FOR_PICKUP",
		"cancelled":    "REJECTED",
		"delivered":    "DELIVERED",
		"weird":        "WEIRD",
	}
	for in, want := range tests {
		if got := CanonicalRepairState(in); got != want {
			t.Errorf("CanonicalRepairState(%q) = %q, want %q", in, got, want)
		}
	}
}
