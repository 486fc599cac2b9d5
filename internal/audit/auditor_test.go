package audit

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/kubeheal/remediator/internal/incident"
)

func testManifest() Manifest {
	return Manifest{
		IncidentID:   "inc-1",
		IncidentType: "OOMKilled",
		WorkloadRef:  incident.WorkloadRef{Kind: "Deployment", Namespace: "default", Name: "api"},
		ActionKind:   "PatchResourceSpec",
		FieldPath:    "spec.template.spec.containers.0.resources.limits.memory",
		OldValue:     "96Mi",
		NewValue:     "240Mi",
		AppliedAt:    time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
		ReasonCode:   "applied",
	}
}

func TestNewAuditorRequiresKey(t *testing.T) {
	if a := NewAuditor(Config{ClusterID: "prod"}, nil); a != nil {
		t.Error("expected nil auditor without a secret key")
	}
	if a := NewAuditor(Config{SecretKey: "k", ClusterID: "prod"}, nil); a == nil {
		t.Error("expected an auditor with a secret key")
	}
}

func TestGenerateAndVerifyManifest(t *testing.T) {
	a := NewAuditor(Config{SecretKey: "test-key", ClusterID: "prod-west"}, nil)

	signed := a.GenerateManifest(testManifest())
	if signed.ClusterID != "prod-west" {
		t.Errorf("ClusterID = %q, want prod-west", signed.ClusterID)
	}
	if signed.Signature == "" {
		t.Fatal("expected a signature")
	}
	if !a.VerifyManifest(signed) {
		t.Error("freshly generated manifest failed verification")
	}
}

func TestVerifyManifestDetectsTampering(t *testing.T) {
	a := NewAuditor(Config{SecretKey: "test-key", ClusterID: "prod-west"}, nil)
	signed := a.GenerateManifest(testManifest())

	tampered := *signed
	tampered.NewValue = "2048Mi"
	if a.VerifyManifest(&tampered) {
		t.Error("tampered manifest passed verification")
	}

	otherKey := NewAuditor(Config{SecretKey: "other-key", ClusterID: "prod-west"}, nil)
	if otherKey.VerifyManifest(signed) {
		t.Error("manifest verified under the wrong key")
	}
}

func TestManifestToJSON(t *testing.T) {
	a := NewAuditor(Config{SecretKey: "test-key", ClusterID: "prod-west"}, nil)
	signed := a.GenerateManifest(testManifest())

	data, err := signed.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON() error: %v", err)
	}

	var decoded Manifest
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("round trip error: %v", err)
	}
	if decoded.Signature != signed.Signature {
		t.Error("signature lost in serialization")
	}
	if !a.VerifyManifest(&decoded) {
		t.Error("decoded manifest failed verification")
	}
}
