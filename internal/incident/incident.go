// Package incident defines the canonical incident model and the ingest
// stage that normalizes heterogeneous alert inputs into it.
package incident

import (
	"fmt"
	"time"
)

// Type classifies what went wrong with a workload.
type Type string

const (
	TypeOOMKilled    Type = "OOMKilled"
	TypeCPUThrottled Type = "CPUThrottled"
	TypeCrashLoop    Type = "CrashLoop"
	TypeUnknown      Type = "Unknown"
)

// WorkloadRef names the owning declarative resource (a Deployment,
// StatefulSet, ...), never a transient pod. Spec-mutating actions always
// address the workload; instance-scoped actions address InstanceRefs.
type WorkloadRef struct {
	Kind      string `json:"kind" yaml:"kind"`
	Namespace string `json:"namespace" yaml:"namespace"`
	Name      string `json:"name" yaml:"name"`
}

// Key returns a stable identity string used for per-workload serialization
// and history keys.
func (r WorkloadRef) Key() string {
	return r.Kind + "/" + r.Namespace + "/" + r.Name
}

// IsZero reports whether the reference is missing.
func (r WorkloadRef) IsZero() bool {
	return r.Kind == "" || r.Namespace == "" || r.Name == ""
}

func (r WorkloadRef) String() string {
	return fmt.Sprintf("%s %s/%s", r.Kind, r.Namespace, r.Name)
}

// InstanceRef identifies one running instance (a pod) backing a workload.
type InstanceRef struct {
	Namespace string `json:"namespace" yaml:"namespace"`
	Name      string `json:"name" yaml:"name"`
}

func (r InstanceRef) String() string {
	return r.Namespace + "/" + r.Name
}

// RawEvent is the structured input accepted by the ingest stage: an alert
// webhook, a structured event from the detection models, or an
// operator-triggered request.
type RawEvent struct {
	Source       string            `json:"source"`
	WorkloadRef  WorkloadRef       `json:"workloadRef"`
	TypeHint     string            `json:"typeHint,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
	InstanceRefs []InstanceRef     `json:"instanceRefs,omitempty"`
	Parameters   map[string]string `json:"rawParameters,omitempty"`
}

// Incident is the canonical, immutable record of a detected problem.
// Constructed once at ingest and consumed exactly once by the pipeline.
type Incident struct {
	ID           string
	Type         Type
	DetectedAt   time.Time
	WorkloadRef  WorkloadRef
	InstanceRefs []InstanceRef
	Parameters   map[string]string
}
