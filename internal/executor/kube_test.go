package executor

import (
	"context"
	"errors"
	"testing"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	dynamicfake "k8s.io/client-go/dynamic/fake"
	k8sfake "k8s.io/client-go/kubernetes/fake"

	"github.com/kubeheal/remediator/internal/incident"
)

const memoryLimitPath = "spec.template.spec.containers.0.resources.limits.memory"

func fakeDeployment(namespace, name string) *unstructured.Unstructured {
	return &unstructured.Unstructured{
		Object: map[string]interface{}{
			"apiVersion": "apps/v1",
			"kind":       "Deployment",
			"metadata": map[string]interface{}{
				"name":      name,
				"namespace": namespace,
			},
			"spec": map[string]interface{}{
				"template": map[string]interface{}{
					"spec": map[string]interface{}{
						"containers": []interface{}{
							map[string]interface{}{
								"name": "app",
								"resources": map[string]interface{}{
									"limits": map[string]interface{}{
										"memory": "96Mi",
									},
								},
							},
						},
					},
				},
			},
		},
	}
}

func TestKubeClientReadField(t *testing.T) {
	scheme := runtime.NewScheme()
	dyn := dynamicfake.NewSimpleDynamicClient(scheme, fakeDeployment("default", "api"))
	client := NewKubeClient(dyn, k8sfake.NewSimpleClientset(), nil)

	ref := incident.WorkloadRef{Kind: "Deployment", Namespace: "default", Name: "api"}
	value, version, err := client.ReadField(context.Background(), ref, memoryLimitPath)
	if err != nil {
		t.Fatalf("ReadField() error: %v", err)
	}
	if value != "96Mi" {
		t.Errorf("value = %q, want 96Mi", value)
	}
	_ = version

	t.Run("missing workload", func(t *testing.T) {
		gone := incident.WorkloadRef{Kind: "Deployment", Namespace: "default", Name: "absent"}
		_, _, err := client.ReadField(context.Background(), gone, memoryLimitPath)
		if !errors.Is(err, ErrWorkloadGone) {
			t.Errorf("error = %v, want ErrWorkloadGone", err)
		}
	})

	t.Run("unsupported kind", func(t *testing.T) {
		bad := incident.WorkloadRef{Kind: "CronJob", Namespace: "default", Name: "api"}
		_, _, err := client.ReadField(context.Background(), bad, memoryLimitPath)
		if err == nil {
			t.Error("expected an error for an unsupported workload kind")
		}
	})
}

func TestKubeClientWriteFieldIfVersion(t *testing.T) {
	scheme := runtime.NewScheme()
	dyn := dynamicfake.NewSimpleDynamicClient(scheme, fakeDeployment("default", "api"))
	client := NewKubeClient(dyn, k8sfake.NewSimpleClientset(), nil)
	ref := incident.WorkloadRef{Kind: "Deployment", Namespace: "default", Name: "api"}

	_, version, err := client.ReadField(context.Background(), ref, memoryLimitPath)
	if err != nil {
		t.Fatalf("ReadField() error: %v", err)
	}

	if err := client.WriteFieldIfVersion(context.Background(), ref, memoryLimitPath, "240Mi", version); err != nil {
		t.Fatalf("WriteFieldIfVersion() error: %v", err)
	}

	value, _, err := client.ReadField(context.Background(), ref, memoryLimitPath)
	if err != nil {
		t.Fatalf("ReadField() after write error: %v", err)
	}
	if value != "240Mi" {
		t.Errorf("value after write = %q, want 240Mi", value)
	}

	t.Run("stale version token", func(t *testing.T) {
		err := client.WriteFieldIfVersion(context.Background(), ref, memoryLimitPath, "480Mi", VersionToken("stale"))
		if !errors.Is(err, ErrVersionConflict) {
			t.Errorf("error = %v, want ErrVersionConflict", err)
		}
	})

	t.Run("workload deleted", func(t *testing.T) {
		gone := incident.WorkloadRef{Kind: "Deployment", Namespace: "default", Name: "absent"}
		err := client.WriteFieldIfVersion(context.Background(), gone, memoryLimitPath, "240Mi", version)
		if !errors.Is(err, ErrWorkloadGone) {
			t.Errorf("error = %v, want ErrWorkloadGone", err)
		}
	})
}

func TestKubeClientTerminate(t *testing.T) {
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: "api-0", Namespace: "default"},
	}
	clientset := k8sfake.NewSimpleClientset(pod)
	client := NewKubeClient(dynamicfake.NewSimpleDynamicClient(runtime.NewScheme()), clientset, nil)

	if err := client.Terminate(context.Background(), incident.InstanceRef{Namespace: "default", Name: "api-0"}); err != nil {
		t.Fatalf("Terminate() error: %v", err)
	}

	if _, err := clientset.CoreV1().Pods("default").Get(context.Background(), "api-0", metav1.GetOptions{}); err == nil {
		t.Error("pod still present after Terminate()")
	}

	t.Run("missing pod", func(t *testing.T) {
		err := client.Terminate(context.Background(), incident.InstanceRef{Namespace: "default", Name: "absent"})
		if !errors.Is(err, ErrInstanceNotFound) {
			t.Errorf("error = %v, want ErrInstanceNotFound", err)
		}
	})
}
