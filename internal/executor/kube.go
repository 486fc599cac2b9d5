package executor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"

	"github.com/kubeheal/remediator/internal/incident"
)

// workloadGVRs maps workload kinds to their group/version/resource. New
// kinds are table entries, not code changes.
var workloadGVRs = map[string]schema.GroupVersionResource{
	"Deployment":  {Group: "apps", Version: "v1", Resource: "deployments"},
	"StatefulSet": {Group: "apps", Version: "v1", Resource: "statefulsets"},
	"DaemonSet":   {Group: "apps", Version: "v1", Resource: "daemonsets"},
}

// KubeClient implements ClusterClient against a real cluster. Workload
// specs are read and written through the dynamic client so the engine
// stays schema-agnostic; pod termination uses the typed clientset.
type KubeClient struct {
	dynamic   dynamic.Interface
	clientset kubernetes.Interface
	logger    *slog.Logger
}

// NewKubeClient creates a cluster client.
func NewKubeClient(dyn dynamic.Interface, clientset kubernetes.Interface, logger *slog.Logger) *KubeClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &KubeClient{dynamic: dyn, clientset: clientset, logger: logger}
}

// ReadField implements ClusterClient.
func (c *KubeClient) ReadField(ctx context.Context, ref incident.WorkloadRef, fieldPath string) (string, VersionToken, error) {
	gvr, err := gvrFor(ref.Kind)
	if err != nil {
		return "", "", err
	}

	obj, err := c.dynamic.Resource(gvr).Namespace(ref.Namespace).Get(ctx, ref.Name, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return "", "", fmt.Errorf("%w: %s", ErrWorkloadGone, ref)
		}
		return "", "", fmt.Errorf("executor: failed to read %s: %w", ref, err)
	}

	value, err := readFieldPath(obj.Object, fieldPath)
	if err != nil {
		return "", "", fmt.Errorf("%s %s: %w", ref, fieldPath, err)
	}
	return value, VersionToken(obj.GetResourceVersion()), nil
}

// WriteFieldIfVersion implements ClusterClient. The object is re-fetched
// and the write is refused if its version moved since the read; the API
// server's own resourceVersion check backstops the race between our get
// and update.
func (c *KubeClient) WriteFieldIfVersion(ctx context.Context, ref incident.WorkloadRef, fieldPath, value string, version VersionToken) error {
	gvr, err := gvrFor(ref.Kind)
	if err != nil {
		return err
	}

	obj, err := c.dynamic.Resource(gvr).Namespace(ref.Namespace).Get(ctx, ref.Name, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return fmt.Errorf("%w: %s", ErrWorkloadGone, ref)
		}
		return fmt.Errorf("executor: failed to read %s before write: %w", ref, err)
	}
	if obj.GetResourceVersion() != string(version) {
		return fmt.Errorf("%w: %s moved from %s to %s", ErrVersionConflict, ref, version, obj.GetResourceVersion())
	}

	if err := writeFieldPath(obj.Object, fieldPath, value); err != nil {
		return fmt.Errorf("%s %s: %w", ref, fieldPath, err)
	}

	_, err = c.dynamic.Resource(gvr).Namespace(ref.Namespace).Update(ctx, obj, metav1.UpdateOptions{})
	if err != nil {
		switch {
		case apierrors.IsConflict(err):
			return fmt.Errorf("%w: %s", ErrVersionConflict, ref)
		case apierrors.IsNotFound(err):
			return fmt.Errorf("%w: %s", ErrWorkloadGone, ref)
		default:
			return fmt.Errorf("executor: failed to write %s: %w", ref, err)
		}
	}

	c.logger.Info("workload spec patched",
		"workload", ref.Key(),
		"field", fieldPath,
		"value", value,
	)
	return nil
}

// Terminate implements ClusterClient by deleting the backing pod.
func (c *KubeClient) Terminate(ctx context.Context, ref incident.InstanceRef) error {
	err := c.clientset.CoreV1().Pods(ref.Namespace).Delete(ctx, ref.Name, metav1.DeleteOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return fmt.Errorf("%w: %s", ErrInstanceNotFound, ref)
		}
		return fmt.Errorf("executor: failed to terminate %s: %w", ref, err)
	}

	c.logger.Info("instance terminated", "instance", ref.String())
	return nil
}

func gvrFor(kind string) (schema.GroupVersionResource, error) {
	gvr, ok := workloadGVRs[kind]
	if !ok {
		known := make([]string, 0, len(workloadGVRs))
		for k := range workloadGVRs {
			known = append(known, k)
		}
		return schema.GroupVersionResource{}, fmt.Errorf("executor: unsupported workload kind %q (supported: %s)", kind, strings.Join(known, ", "))
	}
	return gvr, nil
}

var _ ClusterClient = (*KubeClient)(nil)
