package incident

import (
	"time"
)

// AlertmanagerPayload is the subset of the Alertmanager webhook format the
// ingest layer understands.
type AlertmanagerPayload struct {
	Status string              `json:"status"`
	Alerts []AlertmanagerAlert `json:"alerts"`
}

// AlertmanagerAlert is a single firing alert from an Alertmanager webhook.
type AlertmanagerAlert struct {
	Status      string            `json:"status"`
	Labels      map[string]string `json:"labels"`
	Annotations map[string]string `json:"annotations"`
	StartsAt    time.Time         `json:"startsAt"`
}

// alertTypeHints maps well-known Prometheus alert names to type hints.
var alertTypeHints = map[string]string{
	"OOMKilled":           "OOMKilled",
	"PodOOMKilled":        "OOMKilled",
	"KubeContainerOOM":    "OOMKilled",
	"CPUThrottled":        "CPUThrottled",
	"CPUThrottlingHigh":   "CPUThrottled",
	"CrashLoop":           "CrashLoop",
	"KubePodCrashLooping": "CrashLoop",
}

// FromAlertmanager converts firing alerts into raw events. Resolved alerts
// are dropped; alerts with no workload labels come through with a zero
// WorkloadRef and fail ingest validation, so nothing is silently guessed.
func FromAlertmanager(payload AlertmanagerPayload) []RawEvent {
	events := make([]RawEvent, 0, len(payload.Alerts))
	for _, alert := range payload.Alerts {
		if alert.Status == "resolved" {
			continue
		}

		ref := WorkloadRef{
			Kind:      alert.Labels["workload_kind"],
			Namespace: alert.Labels["namespace"],
			Name:      alert.Labels["workload"],
		}
		if ref.Kind == "" {
			ref.Kind = "Deployment"
		}
		if ref.Name == "" {
			ref.Name = alert.Labels["deployment"]
		}

		ev := RawEvent{
			Source:      "alertmanager",
			WorkloadRef: ref,
			TypeHint:    alertTypeHints[alert.Labels["alertname"]],
			Timestamp:   alert.StartsAt,
			Parameters:  map[string]string{},
		}

		if pod := alert.Labels["pod"]; pod != "" {
			ev.InstanceRefs = append(ev.InstanceRefs, InstanceRef{
				Namespace: ref.Namespace,
				Name:      pod,
			})
		}

		// Numeric context from annotations (set by the detection layer's
		// alert rules, e.g. currentMemoryLimitMi).
		for k, v := range alert.Annotations {
			ev.Parameters[k] = v
		}
		ev.Parameters["alertname"] = alert.Labels["alertname"]
		if sev := alert.Labels["severity"]; sev != "" {
			ev.Parameters["severity"] = sev
		}

		events = append(events, ev)
	}
	return events
}
