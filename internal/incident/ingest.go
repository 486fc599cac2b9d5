package incident

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ErrMalformedIncident is returned when a raw event is missing the workload
// reference or the detection timestamp. Malformed events are not retried;
// the caller must resubmit corrected data.
var ErrMalformedIncident = errors.New("incident: malformed event")

// knownTypes maps type hints to canonical incident types. Hints outside the
// table normalize to TypeUnknown, which the classifier resolves to NoOp
// downstream rather than guessing.
var knownTypes = map[string]Type{
	"oomkilled":    TypeOOMKilled,
	"cputhrottled": TypeCPUThrottled,
	"crashloop":    TypeCrashLoop,
}

// Normalize validates a raw event and produces a canonical Incident with a
// generated unique id. It is side-effect free so duplicate webhook delivery
// can be safely re-ingested; dedup is the policy layer's concern.
func Normalize(ev RawEvent) (*Incident, error) {
	if ev.WorkloadRef.IsZero() {
		return nil, fmt.Errorf("%w: missing workload reference (source=%s)", ErrMalformedIncident, ev.Source)
	}
	if ev.Timestamp.IsZero() {
		return nil, fmt.Errorf("%w: missing timestamp (source=%s workload=%s)", ErrMalformedIncident, ev.Source, ev.WorkloadRef)
	}

	params := make(map[string]string, len(ev.Parameters))
	for k, v := range ev.Parameters {
		params[k] = v
	}

	refs := make([]InstanceRef, len(ev.InstanceRefs))
	copy(refs, ev.InstanceRefs)

	return &Incident{
		ID:           uuid.NewString(),
		Type:         normalizeType(ev.TypeHint),
		DetectedAt:   ev.Timestamp.UTC(),
		WorkloadRef:  ev.WorkloadRef,
		InstanceRefs: refs,
		Parameters:   params,
	}, nil
}

func normalizeType(hint string) Type {
	if t, ok := knownTypes[strings.ToLower(strings.TrimSpace(hint))]; ok {
		return t
	}
	return TypeUnknown
}
