package tools

import (
	"context"
	"fmt"
)

// mockPatient is a read-only stand-in for the domain's real patient
// store, grounded on original_source's functions.py patients_db. Spec
// §9 treats "mock domain databases" as an injected, read-only
// collaborator rather than an in-process global, so RegisterDefaults
// takes the store as a parameter instead of a package-level map.
type mockPatient struct {
	DOB string
}

// DefaultPatients is the seed data original_source ships for its demo
// scheduling flow.
func DefaultPatients() map[string]mockPatient {
	return map[string]mockPatient{
		"Alice Brown": {DOB: "1987-04-12"},
		"John Smith":  {DOB: "1975-11-02"},
	}
}

// RegisterDefaults wires the two mocked domain tools spec.md's E3 and
// Open Questions name: schedule_appointment and escalate_emergency.
// Per the Open Question decision recorded in DESIGN.md,
// escalate_emergency always takes a dict argument `{reason: string}`
// — never a bare string, resolving the inconsistency original_source
// left between its browser and telephony variants.
func RegisterDefaults(reg Registry, patients map[string]mockPatient) error {
	schedule := Tool{
		Version: "1.0.0",
		Spec: Spec{
			Name:        "schedule_appointment",
			Description: "Schedule or modify a healthcare appointment for a known patient.",
			Args: []ArgSpec{
				{Name: "patient_name", Type: JSONString, Description: "Full name of the patient.", Required: true},
				{Name: "dob", Type: JSONString, Description: "Date of birth, YYYY-MM-DD.", Required: true},
				{Name: "appointment_type", Type: JSONString, Description: "Type of appointment, e.g. consultation, follow-up.", Required: true},
				{Name: "date", Type: JSONString, Description: "Preferred appointment date, YYYY-MM-DD."},
				{Name: "time", Type: JSONString, Description: "Preferred appointment time, e.g. 10:00 AM."},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			name, _ := args["patient_name"].(string)
			dob, _ := args["dob"].(string)
			apptType, _ := args["appointment_type"].(string)
			date, _ := args["date"].(string)
			if date == "" {
				date = "next available date"
			}
			t, _ := args["time"].(string)
			if t == "" {
				t = "next available time"
			}

			record, ok := patients[name]
			if !ok || record.DOB != dob {
				return map[string]any{
					"status":  "not_found",
					"message": fmt.Sprintf("unable to find patient %s with the provided date of birth", name),
				}, nil
			}

			return map[string]any{
				"status":           "success",
				"patient_name":     name,
				"appointment_type": apptType,
				"date":             date,
				"time":             t,
			}, nil
		},
	}

	escalate := Tool{
		Version: "1.0.0",
		Spec: Spec{
			Name:        "escalate_emergency",
			Description: "Escalate an emergency healthcare concern to a live human agent.",
			Args: []ArgSpec{
				{Name: "reason", Type: JSONString, Description: "Reason for the escalation, e.g. chest pain.", Required: true},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			reason, _ := args["reason"].(string)
			if reason == "" {
				reason = "unspecified"
			}
			return map[string]any{
				"status":  "escalated",
				"message": fmt.Sprintf("emergency escalation triggered: %s. connecting a human agent.", reason),
			}, nil
		},
	}

	if err := reg.Register(schedule); err != nil {
		return err
	}
	return reg.Register(escalate)
}
