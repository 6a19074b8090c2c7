package ritual

import "fmt"

// ExecutionPlan is the fully-resolved, ready-to-dispatch shape of one
// ritual invocation: which capsule to invoke and with what arguments, after
// merging capsule defaults, the ritual step's overrides, and the caller's
// parameters.
type ExecutionPlan struct {
	RunID      string
	RitualID   string
	CapsuleRef CapsuleKind
	Arguments  map[string]interface{}
}

// resolved pairs a manifest's ritual/capsule lookup for one invocation.
type resolved struct {
	manifest Manifest
	ritual   RitualEntry
	capsule  CapsuleEntry
}

// resolve looks up ritualName's single step and its capsule within manifest.
func resolve(manifest Manifest, ritualName string) (resolved, error) {
	rit, err := manifest.findRitual(ritualName)
	if err != nil {
		return resolved{}, err
	}
	if len(rit.Steps) != 1 {
		return resolved{}, fmt.Errorf("ritual: ritual %q must contain exactly one step", ritualName)
	}
	cap, err := manifest.findCapsule(rit.Steps[0].Capsule)
	if err != nil {
		return resolved{}, err
	}
	if cap.Type != CapsuleContainerExec {
		return resolved{}, fmt.Errorf("ritual: capsule %q uses unsupported type %q", cap.Name, cap.Type)
	}
	return resolved{manifest: manifest, ritual: rit, capsule: cap}, nil
}

// buildExecutionPlan synthesizes arguments by merging, in order: capsule
// defaults, the ritual step's `with` overrides, then the invocation's
// parameters — each layer taking precedence over the last, recursively for
// nested objects.
func buildExecutionPlan(r resolved, parameters map[string]interface{}, runID string) ExecutionPlan {
	args := map[string]interface{}{
		"imageDigest": r.capsule.ImageDigest,
		"command":     r.capsule.Command,
		"env":         r.capsule.Env,
		"outputs":     map[string]interface{}{"envelopePath": r.capsule.Outputs.EnvelopePath},
	}
	if r.capsule.WorkingDir != "" {
		args["workingDir"] = r.capsule.WorkingDir
	}

	mergeInto(args, r.ritual.Steps[0].With)
	mergeInto(args, parameters)
	args["capsuleName"] = r.capsule.Name

	return ExecutionPlan{
		RunID:      runID,
		RitualID:   fmt.Sprintf("%s::%s", r.manifest.Metadata.Name, r.ritual.Name),
		CapsuleRef: r.capsule.Type,
		Arguments:  args,
	}
}

// mergeInto recursively merges other into target: for matching keys whose
// values are both objects, merge recursively; otherwise other's value wins.
func mergeInto(target, other map[string]interface{}) {
	for k, v := range other {
		if existing, ok := target[k].(map[string]interface{}); ok {
			if incoming, ok := v.(map[string]interface{}); ok {
				mergeInto(existing, incoming)
				continue
			}
		}
		target[k] = v
	}
}
