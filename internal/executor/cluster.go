// Package executor applies approved remediation actions against live
// cluster state using conflict-safe read-modify-write semantics.
package executor

import (
	"context"
	"errors"

	"github.com/kubeheal/remediator/internal/incident"
)

// Sentinel errors for cluster operations.
var (
	// ErrVersionConflict is returned when a write's version token is stale.
	ErrVersionConflict = errors.New("executor: resource version conflict")

	// ErrWorkloadGone is returned when the workload no longer exists.
	ErrWorkloadGone = errors.New("executor: workload not found")

	// ErrInstanceNotFound is returned when a terminate target is already gone.
	ErrInstanceNotFound = errors.New("executor: instance not found")

	// ErrFieldNotFound is returned when a field path does not resolve.
	ErrFieldNotFound = errors.New("executor: field path not found in workload spec")
)

// VersionToken is the opaque optimistic-concurrency token returned by reads
// and required by writes.
type VersionToken string

// ClusterClient is the engine's view of the cluster resource interface. It
// assumes nothing about resource schemas beyond a field-path-addressable
// value and a version token.
type ClusterClient interface {
	// ReadField reads the value at fieldPath on the workload resource and
	// returns it with the resource's current version token.
	ReadField(ctx context.Context, ref incident.WorkloadRef, fieldPath string) (string, VersionToken, error)

	// WriteFieldIfVersion writes value at fieldPath only if the resource
	// still carries the given version token. Returns ErrVersionConflict on
	// a stale token and ErrWorkloadGone if the workload was deleted.
	WriteFieldIfVersion(ctx context.Context, ref incident.WorkloadRef, fieldPath, value string, version VersionToken) error

	// Terminate issues a direct termination request for one instance.
	Terminate(ctx context.Context, ref incident.InstanceRef) error
}
