// Package classify maps canonical incidents to an incident type plus the
// numeric parameters a policy needs. Extraction is rule-table driven so new
// incident types are additive table entries, not new branching.
package classify

import (
	"fmt"
	"strconv"
	"strings"

	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/kubeheal/remediator/internal/incident"
)

// Value units used across the pipeline. Memory values are mebibytes,
// CPU values are millicores.
const (
	UnitMebibytes  = "Mi"
	UnitMillicores = "m"
)

// Classification is the classifier's output: either a typed incident with
// its extracted parameters, or Unclassified with a reason. Unclassified
// always resolves to NoOp downstream, never a guess.
type Classification struct {
	Type         incident.Type
	CurrentValue int64
	Unit         string
	FieldPath    string
	Unclassified bool
	Reason       string
}

// extractRule describes how to derive policy parameters for one incident
// type. canonicalParam holds a plain number in the rule's unit;
// quantityParam holds a Kubernetes quantity string ("96Mi", "100m") and is
// used when the canonical form is absent.
type extractRule struct {
	canonicalParam string
	quantityParam  string
	unit           string
	fieldLeaf      string // limits leaf: "memory" or "cpu"
	needsInstances bool
	quantityToUnit func(resource.Quantity) int64
}

var extractRules = map[incident.Type]extractRule{
	incident.TypeOOMKilled: {
		canonicalParam: "currentMemoryLimitMi",
		quantityParam:  "currentMemoryLimit",
		unit:           UnitMebibytes,
		fieldLeaf:      "memory",
		quantityToUnit: func(q resource.Quantity) int64 { return q.Value() / (1 << 20) },
	},
	incident.TypeCPUThrottled: {
		canonicalParam: "currentCPULimitMilli",
		quantityParam:  "currentCPULimit",
		unit:           UnitMillicores,
		fieldLeaf:      "cpu",
		quantityToUnit: func(q resource.Quantity) int64 { return q.MilliValue() },
	},
	incident.TypeCrashLoop: {
		needsInstances: true,
	},
}

// Classify derives (type, parameters) from an incident. Pure function: no
// cluster access, no side effects.
func Classify(inc *incident.Incident) Classification {
	rule, ok := extractRules[inc.Type]
	if !ok {
		return unclassified(fmt.Sprintf("no extraction rule for incident type %q", inc.Type))
	}

	if rule.needsInstances {
		if len(inc.InstanceRefs) == 0 {
			return unclassified("incident names no instances to act on")
		}
		return Classification{Type: inc.Type}
	}

	value, err := extractValue(inc, rule)
	if err != nil {
		return unclassified(err.Error())
	}
	if value <= 0 {
		return unclassified(fmt.Sprintf("resource has no %s limit set", rule.fieldLeaf))
	}

	return Classification{
		Type:         inc.Type,
		CurrentValue: value,
		Unit:         rule.unit,
		FieldPath:    limitFieldPath(inc, rule.fieldLeaf),
	}
}

func extractValue(inc *incident.Incident, rule extractRule) (int64, error) {
	if raw, ok := inc.Parameters[rule.canonicalParam]; ok {
		v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parameter %s=%q is not an integer", rule.canonicalParam, raw)
		}
		return v, nil
	}
	if raw, ok := inc.Parameters[rule.quantityParam]; ok {
		q, err := resource.ParseQuantity(strings.TrimSpace(raw))
		if err != nil {
			return 0, fmt.Errorf("parameter %s=%q is not a quantity", rule.quantityParam, raw)
		}
		return rule.quantityToUnit(q), nil
	}
	return 0, fmt.Errorf("required parameter %s missing", rule.canonicalParam)
}

// limitFieldPath builds the dotted path to the container resource limit
// inside the workload spec. The container index defaults to 0 and can be
// overridden by the containerIndex parameter.
func limitFieldPath(inc *incident.Incident, leaf string) string {
	idx := "0"
	if raw, ok := inc.Parameters["containerIndex"]; ok {
		if _, err := strconv.Atoi(raw); err == nil {
			idx = raw
		}
	}
	return "spec.template.spec.containers." + idx + ".resources.limits." + leaf
}

func unclassified(reason string) Classification {
	return Classification{Unclassified: true, Reason: reason}
}
