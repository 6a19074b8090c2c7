package ritual

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testManifest = `
metadata:
  name: demo-app
  version: 1.0.0
capsules:
  - type: container-exec
    name: echo
    imageDigest: sha256:deadbeef
    command: ["echo", "hi"]
    env:
      FOO: bar
    timeoutSeconds: 30
    outputs:
      envelopePath: envelope.json
rituals:
  - name: say-hi
    steps:
      - capsule: echo
        with:
          greeting: hello
`

func writeTestRegistry(t *testing.T, root string, versions ...string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(root, 0o755))

	apps := map[string][]InstalledPack{"demo-app": {}}
	for _, v := range versions {
		dir := filepath.Join(root, "demo-app", v)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		manifestPath := filepath.Join(dir, "manifest.yaml")
		require.NoError(t, os.WriteFile(manifestPath, []byte(testManifest), 0o644))
		apps["demo-app"] = append(apps["demo-app"], InstalledPack{
			Version:      v,
			ManifestPath: manifestPath,
			InstalledAt:  time.Now(),
			Source:       "test",
		})
	}

	data, err := json.Marshal(registryFile{Apps: apps})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(root, "registry.json"), data, 0o644))
}

func TestResolveInvocationExactVersion(t *testing.T) {
	root := t.TempDir()
	writeTestRegistry(t, root, "1.0.0", "1.1.0")

	reg, err := NewRegistry(root)
	require.NoError(t, err)

	resolved, err := reg.ResolveInvocation("demo-app", "1.0.0", "say-hi")
	require.NoError(t, err)
	require.Equal(t, "1.0.0", resolved.resolved.manifest.Metadata.Version)
}

func TestResolveInvocationLatestBySemverWhenVersionOmitted(t *testing.T) {
	root := t.TempDir()
	writeTestRegistry(t, root, "1.0.0", "1.11.0", "1.2.0")

	reg, err := NewRegistry(root)
	require.NoError(t, err)

	resolved, err := reg.ResolveInvocation("demo-app", "", "say-hi")
	require.NoError(t, err)
	require.Equal(t, "echo", resolved.resolved.capsule.Name)

	versions, err := reg.ListVersions("demo-app")
	require.NoError(t, err)
	require.Equal(t, []string{"1.11.0", "1.2.0", "1.0.0"}, versions)
}

func TestResolveInvocationMissingAppErrors(t *testing.T) {
	root := t.TempDir()
	writeTestRegistry(t, root, "1.0.0")

	reg, err := NewRegistry(root)
	require.NoError(t, err)

	_, err = reg.ResolveInvocation("no-such-app", "", "say-hi")
	require.ErrorContains(t, err, "not installed")
}

func TestResolveInvocationMissingRitualErrors(t *testing.T) {
	root := t.TempDir()
	writeTestRegistry(t, root, "1.0.0")

	reg, err := NewRegistry(root)
	require.NoError(t, err)

	_, err = reg.ResolveInvocation("demo-app", "1.0.0", "no-such-ritual")
	require.ErrorContains(t, err, "not defined")
}

func TestResolveInvocationUnknownVersionErrors(t *testing.T) {
	root := t.TempDir()
	writeTestRegistry(t, root, "1.0.0")

	reg, err := NewRegistry(root)
	require.NoError(t, err)

	_, err = reg.ResolveInvocation("demo-app", "9.9.9", "say-hi")
	require.ErrorContains(t, err, "not installed")
}
