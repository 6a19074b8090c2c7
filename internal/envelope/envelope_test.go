package envelope

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildSuccessValidates(t *testing.T) {
	v, err := NewDefaultValidator()
	require.NoError(t, err)

	type payload struct {
		Greeting string `json:"greeting"`
	}

	env, err := BuildSuccess(payload{Greeting: "hello"})
	require.NoError(t, err)
	require.True(t, env.Result.Success)

	errs := v.ValidateEnvelope(env)
	require.Empty(t, errs)

	var decoded payload
	require.NoError(t, env.DecodeData(&decoded))
	require.Equal(t, "hello", decoded.Greeting)
}

func TestBuildErrorValidates(t *testing.T) {
	v, err := NewDefaultValidator()
	require.NoError(t, err)

	env := BuildError("capsule exploded", "capsule_failure")
	require.False(t, env.Result.Success)
	require.Empty(t, v.ValidateEnvelope(env))
	require.Equal(t, "capsule_failure", env.Result.Error.Code)
}

func TestValidatorRoundTripPrettyAndCompact(t *testing.T) {
	v, err := NewDefaultValidator()
	require.NoError(t, err)

	env := BuildError("boom", "")
	compact, err := json.Marshal(env)
	require.NoError(t, err)
	pretty, err := json.MarshalIndent(env, "", "  ")
	require.NoError(t, err)

	require.Empty(t, v.Validate(compact))
	require.Empty(t, v.Validate(pretty))
}

func TestJSONPatchValidity(t *testing.T) {
	v, err := NewDefaultValidator()
	require.NoError(t, err)

	mkEnv := func(patch []JSONPatchOp) Envelope {
		env := BuildError("n/a", "")
		env.Suggestions = []Suggestion{{
			Type:        SuggestionModification,
			Description: "apply patch",
			Patch:       patch,
		}}
		return env
	}

	t.Run("move requires from", func(t *testing.T) {
		bad := mkEnv([]JSONPatchOp{{Op: PatchMove, Path: "/a"}})
		require.NotEmpty(t, v.ValidateEnvelope(bad))

		good := mkEnv([]JSONPatchOp{{Op: PatchMove, Path: "/a", From: "/b"}})
		require.Empty(t, v.ValidateEnvelope(good))
	})

	t.Run("add requires value", func(t *testing.T) {
		bad := mkEnv([]JSONPatchOp{{Op: PatchAdd, Path: "/a"}})
		require.NotEmpty(t, v.ValidateEnvelope(bad))

		good := mkEnv([]JSONPatchOp{{Op: PatchAdd, Path: "/a", Value: json.RawMessage(`1`)}})
		require.Empty(t, v.ValidateEnvelope(good))
	})

	t.Run("remove needs only path", func(t *testing.T) {
		good := mkEnv([]JSONPatchOp{{Op: PatchRemove, Path: "/a"}})
		require.Empty(t, v.ValidateEnvelope(good))
	})
}

func TestMissingResultFailsBuild(t *testing.T) {
	_, err := NewBuilder().Build()
	require.Error(t, err)
}
