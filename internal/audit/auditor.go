// Package audit generates HMAC-signed manifests for applied remediation
// actions, giving operators a tamper-evident trail alongside the history
// store.
package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/kubeheal/remediator/internal/incident"
)

// Manifest is the signed proof that one corrective action was applied.
type Manifest struct {
	ClusterID    string               `json:"cluster_id"`
	IncidentID   string               `json:"incident_id"`
	IncidentType string               `json:"incident_type"`
	WorkloadRef  incident.WorkloadRef `json:"workload_ref"`
	ActionKind   string               `json:"action_kind"`
	FieldPath    string               `json:"field_path,omitempty"`
	OldValue     string               `json:"old_value,omitempty"`
	NewValue     string               `json:"new_value,omitempty"`
	AppliedAt    time.Time            `json:"applied_at"`
	ReasonCode   string               `json:"reason_code"`
	Signature    string               `json:"signature"`
}

// Config for the Auditor.
type Config struct {
	SecretKey string // HMAC key for signing manifests
	ClusterID string // Unique cluster identifier
}

// Auditor signs and verifies remediation manifests.
type Auditor struct {
	config Config
	logger *slog.Logger
}

// NewAuditor creates an auditor. Returns nil when no secret key is
// configured, which disables manifest generation.
func NewAuditor(config Config, logger *slog.Logger) *Auditor {
	if config.SecretKey == "" {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{config: config, logger: logger}
}

// GenerateManifest creates a signed manifest for an applied action.
func (a *Auditor) GenerateManifest(m Manifest) *Manifest {
	m.ClusterID = a.config.ClusterID
	m.Signature = a.sign(&m)

	a.logger.Info("generated remediation manifest",
		"incident_id", m.IncidentID,
		"workload", m.WorkloadRef.Key(),
		"action", m.ActionKind,
	)
	return &m
}

// sign creates an HMAC-SHA256 signature over a deterministic payload.
func (a *Auditor) sign(m *Manifest) string {
	payload := fmt.Sprintf("%s|%s|%s|%s|%s|%s|%s",
		m.ClusterID,
		m.IncidentID,
		m.WorkloadRef.Key(),
		m.ActionKind,
		m.OldValue,
		m.NewValue,
		m.AppliedAt.UTC().Format(time.RFC3339Nano),
	)

	h := hmac.New(sha256.New, []byte(a.config.SecretKey))
	h.Write([]byte(payload))
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyManifest checks a manifest signature.
func (a *Auditor) VerifyManifest(m *Manifest) bool {
	expected := a.sign(&Manifest{
		ClusterID:   m.ClusterID,
		IncidentID:  m.IncidentID,
		WorkloadRef: m.WorkloadRef,
		ActionKind:  m.ActionKind,
		OldValue:    m.OldValue,
		NewValue:    m.NewValue,
		AppliedAt:   m.AppliedAt,
	})
	return hmac.Equal([]byte(expected), []byte(m.Signature))
}

// ToJSON serializes a manifest.
func (m *Manifest) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}
