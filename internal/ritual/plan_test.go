package ritual

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testManifestValue(t *testing.T) Manifest {
	t.Helper()
	return Manifest{
		Metadata: ManifestMetadata{Name: "demo-app", Version: "1.0.0"},
		Capsules: []CapsuleEntry{
			{
				Type:        CapsuleContainerExec,
				Name:        "echo",
				ImageDigest: "sha256:deadbeef",
				Command:     []string{"echo"},
				Env:         map[string]string{"FOO": "bar"},
				Outputs:     CapsuleOutputs{EnvelopePath: "envelope.json"},
			},
		},
		Rituals: []RitualEntry{
			{
				Name: "say-hi",
				Steps: []RitualStep{
					{Capsule: "echo", With: map[string]interface{}{
						"greeting": "hello",
						"nested":   map[string]interface{}{"a": 1, "b": 2},
					}},
				},
			},
		},
	}
}

func TestBuildExecutionPlanMergesDefaultsStepAndParameters(t *testing.T) {
	manifest := testManifestValue(t)
	r, err := resolve(manifest, "say-hi")
	require.NoError(t, err)

	params := map[string]interface{}{
		"greeting": "howdy",
		"nested":   map[string]interface{}{"b": 99, "c": 3},
	}
	plan := buildExecutionPlan(r, params, "run-1")

	require.Equal(t, "run-1", plan.RunID)
	require.Equal(t, "demo-app::say-hi", plan.RitualID)
	require.Equal(t, CapsuleContainerExec, plan.CapsuleRef)
	require.Equal(t, "howdy", plan.Arguments["greeting"])
	require.Equal(t, "echo", plan.Arguments["capsuleName"])
	require.Equal(t, "sha256:deadbeef", plan.Arguments["imageDigest"])

	nested, ok := plan.Arguments["nested"].(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, 1, nested["a"])
	require.Equal(t, 99, nested["b"])
	require.Equal(t, 3, nested["c"])
}

func TestResolveRejectsMultiStepRituals(t *testing.T) {
	manifest := testManifestValue(t)
	manifest.Rituals[0].Steps = append(manifest.Rituals[0].Steps, RitualStep{Capsule: "echo"})

	_, err := resolve(manifest, "say-hi")
	require.ErrorContains(t, err, "exactly one step")
}

func TestResolveRejectsUnsupportedCapsuleType(t *testing.T) {
	manifest := testManifestValue(t)
	manifest.Capsules[0].Type = CapsuleKind("process-exec")

	_, err := resolve(manifest, "say-hi")
	require.ErrorContains(t, err, "unsupported type")
}

func TestMergeIntoOverwritesNonObjectWholesale(t *testing.T) {
	target := map[string]interface{}{"a": map[string]interface{}{"x": 1}}
	mergeInto(target, map[string]interface{}{"a": "scalar-now"})
	require.Equal(t, "scalar-now", target["a"])
}
