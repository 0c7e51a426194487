package tools

import (
	"context"
	"testing"
)

func TestRegisterDefaultsSchedulesKnownPatient(t *testing.T) {
	reg := NewMemoryRegistry()
	if err := RegisterDefaults(reg, DefaultPatients()); err != nil {
		t.Fatalf("RegisterDefaults: %v", err)
	}

	tool, ok := reg.Get("schedule_appointment")
	if !ok {
		t.Fatal("expected schedule_appointment to be registered")
	}

	result, err := tool.Handler(context.Background(), map[string]any{
		"patient_name":     "Alice Brown",
		"dob":              "1987-04-12",
		"appointment_type": "consultation",
	})
	if err != nil {
		t.Fatalf("Handler: %v", err)
	}
	if result["status"] != "success" {
		t.Fatalf("expected success for a known patient, got %+v", result)
	}
}

func TestRegisterDefaultsRejectsUnknownPatient(t *testing.T) {
	reg := NewMemoryRegistry()
	if err := RegisterDefaults(reg, DefaultPatients()); err != nil {
		t.Fatalf("RegisterDefaults: %v", err)
	}

	tool, _ := reg.Get("schedule_appointment")
	result, err := tool.Handler(context.Background(), map[string]any{
		"patient_name": "Nobody Here",
		"dob":          "2000-01-01",
	})
	if err != nil {
		t.Fatalf("Handler: %v", err)
	}
	if result["status"] != "not_found" {
		t.Fatalf("expected not_found for an unknown patient, got %+v", result)
	}
}

func TestRegisterDefaultsEscalateAlwaysTakesReasonObject(t *testing.T) {
	reg := NewMemoryRegistry()
	if err := RegisterDefaults(reg, DefaultPatients()); err != nil {
		t.Fatalf("RegisterDefaults: %v", err)
	}

	tool, ok := reg.Get("escalate_emergency")
	if !ok {
		t.Fatal("expected escalate_emergency to be registered")
	}

	result, err := tool.Handler(context.Background(), map[string]any{"reason": "chest pain"})
	if err != nil {
		t.Fatalf("Handler: %v", err)
	}
	if result["status"] != "escalated" {
		t.Fatalf("expected escalated status, got %+v", result)
	}
}
