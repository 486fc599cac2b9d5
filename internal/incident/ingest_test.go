package incident

import (
	"errors"
	"testing"
	"time"
)

func TestNormalize(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)
	ref := WorkloadRef{Kind: "Deployment", Namespace: "payments", Name: "checkout"}

	tests := []struct {
		name     string
		event    RawEvent
		wantType Type
		wantErr  error
	}{
		{
			name: "oom event normalizes",
			event: RawEvent{
				Source:      "detector",
				WorkloadRef: ref,
				TypeHint:    "OOMKilled",
				Timestamp:   now,
				Parameters:  map[string]string{"currentMemoryLimitMi": "96"},
			},
			wantType: TypeOOMKilled,
		},
		{
			name: "type hints are case insensitive",
			event: RawEvent{
				Source:      "detector",
				WorkloadRef: ref,
				TypeHint:    "  cpuThrottled ",
				Timestamp:   now,
			},
			wantType: TypeCPUThrottled,
		},
		{
			name: "unrecognized hint maps to unknown",
			event: RawEvent{
				Source:      "detector",
				WorkloadRef: ref,
				TypeHint:    "DiskPressure",
				Timestamp:   now,
			},
			wantType: TypeUnknown,
		},
		{
			name: "missing workload reference is malformed",
			event: RawEvent{
				Source:    "detector",
				TypeHint:  "OOMKilled",
				Timestamp: now,
			},
			wantErr: ErrMalformedIncident,
		},
		{
			name: "missing timestamp is malformed",
			event: RawEvent{
				Source:      "detector",
				WorkloadRef: ref,
				TypeHint:    "OOMKilled",
			},
			wantErr: ErrMalformedIncident,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inc, err := Normalize(tt.event)

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Normalize() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Normalize() unexpected error: %v", err)
			}
			if inc.Type != tt.wantType {
				t.Errorf("Type = %q, want %q", inc.Type, tt.wantType)
			}
			if inc.ID == "" {
				t.Error("expected a generated incident id")
			}
			if inc.WorkloadRef != tt.event.WorkloadRef {
				t.Errorf("WorkloadRef = %+v, want %+v", inc.WorkloadRef, tt.event.WorkloadRef)
			}
			if !inc.DetectedAt.Equal(tt.event.Timestamp) {
				t.Errorf("DetectedAt = %v, want %v", inc.DetectedAt, tt.event.Timestamp)
			}
		})
	}
}

func TestNormalizeGeneratesUniqueIDs(t *testing.T) {
	ev := RawEvent{
		Source:      "detector",
		WorkloadRef: WorkloadRef{Kind: "Deployment", Namespace: "default", Name: "api"},
		TypeHint:    "OOMKilled",
		Timestamp:   time.Now(),
	}

	seen := make(map[string]bool)
	for i := 0; i < 10; i++ {
		inc, err := Normalize(ev)
		if err != nil {
			t.Fatalf("Normalize() error: %v", err)
		}
		if seen[inc.ID] {
			t.Fatalf("duplicate incident id %q", inc.ID)
		}
		seen[inc.ID] = true
	}
}

func TestNormalizeCopiesParameters(t *testing.T) {
	params := map[string]string{"currentMemoryLimitMi": "96"}
	ev := RawEvent{
		Source:      "detector",
		WorkloadRef: WorkloadRef{Kind: "Deployment", Namespace: "default", Name: "api"},
		TypeHint:    "OOMKilled",
		Timestamp:   time.Now(),
		Parameters:  params,
	}

	inc, err := Normalize(ev)
	if err != nil {
		t.Fatalf("Normalize() error: %v", err)
	}

	params["currentMemoryLimitMi"] = "mutated"
	if got := inc.Parameters["currentMemoryLimitMi"]; got != "96" {
		t.Errorf("incident parameters aliased caller map: got %q, want %q", got, "96")
	}
}
