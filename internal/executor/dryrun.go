package executor

import (
	"context"
	"log/slog"

	"github.com/kubeheal/remediator/internal/incident"
)

// DryRunClient wraps a real cluster client with write suppression. Reads
// pass through so decisions are made against real state; writes and
// terminations are logged and simulated as success.
type DryRunClient struct {
	inner  ClusterClient
	logger *slog.Logger
}

// NewDryRunClient creates the safety wrapper.
func NewDryRunClient(inner ClusterClient, logger *slog.Logger) *DryRunClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &DryRunClient{inner: inner, logger: logger}
}

// ReadField implements ClusterClient.
func (c *DryRunClient) ReadField(ctx context.Context, ref incident.WorkloadRef, fieldPath string) (string, VersionToken, error) {
	return c.inner.ReadField(ctx, ref, fieldPath)
}

// WriteFieldIfVersion implements ClusterClient.
func (c *DryRunClient) WriteFieldIfVersion(_ context.Context, ref incident.WorkloadRef, fieldPath, value string, _ VersionToken) error {
	c.logger.Info("dry-run: simulating spec patch",
		"workload", ref.Key(),
		"field", fieldPath,
		"value", value,
		"action", "would_patch_workload",
	)
	return nil
}

// Terminate implements ClusterClient.
func (c *DryRunClient) Terminate(_ context.Context, ref incident.InstanceRef) error {
	c.logger.Info("dry-run: simulating instance termination",
		"instance", ref.String(),
		"action", "would_terminate_instance",
	)
	return nil
}

var _ ClusterClient = (*DryRunClient)(nil)
