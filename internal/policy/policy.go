// Package policy computes candidate remediation actions from declarative
// multiplier/cap/cooldown rules. Policies are loaded once per process and
// never mutated by the engine.
package policy

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/Knetic/govaluate"

	"github.com/kubeheal/remediator/internal/incident"
)

// ActionKind is the kind of corrective action a policy produces.
type ActionKind string

const (
	KindPatchResourceSpec ActionKind = "PatchResourceSpec"
	KindTerminateInstance ActionKind = "TerminateInstance"
	KindScaleReplicas     ActionKind = "ScaleReplicas"
	KindNoOp              ActionKind = "NoOp"
)

// Reason codes for actions that degrade to NoOp before reaching the guard.
const (
	ReasonAtCeiling       = "at-ceiling"
	ReasonNoPolicy        = "no-policy"
	ReasonUnclassified    = "unclassified"
	ReasonGuardExpression = "guard-expression"
)

// Policy is one declarative remediation rule for an incident type.
// Exactly one of Multiplier or Increment drives PatchResourceSpec math.
type Policy struct {
	IncidentType        incident.Type
	Action              ActionKind
	Multiplier          float64
	Increment           *int64
	MaxValue            int64
	Cooldown            time.Duration
	MaxActionsPerWindow int
	Window              time.Duration

	// Guard is an optional boolean expression over the incident's numeric
	// parameters. A guard that evaluates false degrades the candidate to
	// NoOp instead of producing a patch.
	Guard string

	guardExpr *govaluate.EvaluableExpression
}

// Action is a computed, bounded corrective action. Values are computed from
// policy math, never taken from user input, so callers cannot inject
// arbitrary patch targets.
type Action struct {
	Kind         ActionKind
	WorkloadRef  incident.WorkloadRef
	InstanceRefs []incident.InstanceRef
	FieldPath    string
	Unit         string
	OldValue     int64
	NewValue     int64
	Reason       string
}

// FormatValue renders a value in its unit ("240Mi", "300m"). Unitless
// values render as a bare integer.
func FormatValue(v int64, unit string) string {
	if unit == "" {
		return strconv.FormatInt(v, 10)
	}
	return fmt.Sprintf("%d%s", v, unit)
}

// OldFormatted renders the action's pre-change value.
func (a Action) OldFormatted() string { return FormatValue(a.OldValue, a.Unit) }

// NewFormatted renders the action's post-change value.
func (a Action) NewFormatted() string { return FormatValue(a.NewValue, a.Unit) }

// Table is the IncidentType -> Policy lookup table.
type Table struct {
	policies map[incident.Type]*Policy
}

// NewTable builds a lookup table, compiling guard expressions up front so a
// bad expression fails at load time, not per incident.
func NewTable(policies []Policy) (*Table, error) {
	t := &Table{policies: make(map[incident.Type]*Policy, len(policies))}
	for i := range policies {
		p := policies[i]
		if p.IncidentType == "" {
			return nil, fmt.Errorf("policy %d: incidentType is required", i)
		}
		if _, dup := t.policies[p.IncidentType]; dup {
			return nil, fmt.Errorf("duplicate policy for incident type %q", p.IncidentType)
		}
		if err := p.validate(); err != nil {
			return nil, fmt.Errorf("policy for %q: %w", p.IncidentType, err)
		}
		if p.Guard != "" {
			expr, err := govaluate.NewEvaluableExpression(p.Guard)
			if err != nil {
				return nil, fmt.Errorf("policy for %q: invalid guard expression: %w", p.IncidentType, err)
			}
			p.guardExpr = expr
		}
		t.policies[p.IncidentType] = &p
	}
	return t, nil
}

func (p *Policy) validate() error {
	switch p.Action {
	case KindPatchResourceSpec:
		if p.Multiplier <= 0 && p.Increment == nil {
			return fmt.Errorf("patch policy needs a multiplier or an increment")
		}
		if p.Multiplier > 0 && p.Increment != nil {
			return fmt.Errorf("patch policy cannot set both multiplier and increment")
		}
		if p.MaxValue <= 0 {
			return fmt.Errorf("patch policy needs maxValue > 0")
		}
	case KindTerminateInstance:
		// No value math for instance-scoped policies.
	case KindScaleReplicas:
		// Evaluate has no replica math; registering a scale policy would
		// silently degrade every matching incident to NoOp.
		return fmt.Errorf("scale policies are not implemented")
	default:
		return fmt.Errorf("unsupported action kind %q", p.Action)
	}
	if p.Cooldown < 0 || p.Window < 0 {
		return fmt.Errorf("cooldown and window must not be negative")
	}
	return nil
}

// Lookup returns the policy registered for an incident type.
func (t *Table) Lookup(tp incident.Type) (*Policy, bool) {
	p, ok := t.policies[tp]
	return p, ok
}

// Evaluate computes the single candidate action for a classified incident.
// It consults no history and applies nothing; bounding against past actions
// is the safety guard's job.
func (t *Table) Evaluate(inc *incident.Incident, cls ClassifiedInput) Action {
	noop := Action{Kind: KindNoOp, WorkloadRef: inc.WorkloadRef}

	if cls.Unclassified {
		noop.Reason = ReasonUnclassified
		return noop
	}

	pol, ok := t.Lookup(cls.Type)
	if !ok {
		noop.Reason = ReasonNoPolicy
		return noop
	}

	if pol.guardExpr != nil {
		pass, err := evaluateGuard(pol.guardExpr, inc, cls)
		if err != nil || !pass {
			noop.Reason = ReasonGuardExpression
			return noop
		}
	}

	switch pol.Action {
	case KindTerminateInstance:
		return Action{
			Kind:         KindTerminateInstance,
			WorkloadRef:  inc.WorkloadRef,
			InstanceRefs: inc.InstanceRefs,
			Reason:       fmt.Sprintf("terminate %d faulty instance(s)", len(inc.InstanceRefs)),
		}

	case KindPatchResourceSpec:
		newValue := computeNewValue(pol, cls.CurrentValue)
		if newValue == cls.CurrentValue {
			noop.Reason = ReasonAtCeiling
			return noop
		}
		return Action{
			Kind:        KindPatchResourceSpec,
			WorkloadRef: inc.WorkloadRef,
			FieldPath:   cls.FieldPath,
			Unit:        cls.Unit,
			OldValue:    cls.CurrentValue,
			NewValue:    newValue,
			Reason:      fmt.Sprintf("%s: raise %s limit %s -> %s", cls.Type, cls.Unit, FormatValue(cls.CurrentValue, cls.Unit), FormatValue(newValue, cls.Unit)),
		}

	default:
		noop.Reason = ReasonNoPolicy
		return noop
	}
}

// ClassifiedInput is the classifier output the policy engine consumes.
// Mirrors classify.Classification without importing it, keeping the policy
// package free of extraction concerns.
type ClassifiedInput struct {
	Type         incident.Type
	CurrentValue int64
	Unit         string
	FieldPath    string
	Unclassified bool
	Reason       string
}

func computeNewValue(pol *Policy, current int64) int64 {
	var next int64
	if pol.Increment != nil {
		next = current + *pol.Increment
	} else {
		next = int64(math.Round(float64(current) * pol.Multiplier))
	}
	if next > pol.MaxValue {
		next = pol.MaxValue
	}
	if next < current {
		// Policies only ever raise limits; a shrinking result means a
		// misconfigured multiplier, so hold the current value.
		next = current
	}
	return next
}

func evaluateGuard(expr *govaluate.EvaluableExpression, inc *incident.Incident, cls ClassifiedInput) (bool, error) {
	params := make(map[string]interface{}, len(inc.Parameters)+2)
	for k, v := range inc.Parameters {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			params[k] = f
		} else {
			params[k] = v
		}
	}
	params["currentValue"] = float64(cls.CurrentValue)
	params["instanceCount"] = float64(len(inc.InstanceRefs))

	result, err := expr.Evaluate(params)
	if err != nil {
		return false, err
	}
	pass, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("guard expression did not evaluate to a boolean")
	}
	return pass, nil
}
