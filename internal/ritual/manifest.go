// Package ritual resolves a ritual invocation against an installed App
// Pack, builds and runs its single-step execution plan, and persists the
// resulting run record and envelope.
package ritual

import "fmt"

// Manifest is an installed App Pack's ritual/capsule definition, parsed from
// its on-disk YAML.
type Manifest struct {
	Metadata ManifestMetadata `yaml:"metadata"`
	Capsules []CapsuleEntry   `yaml:"capsules"`
	Rituals  []RitualEntry    `yaml:"rituals"`
}

// ManifestMetadata identifies an App Pack by name and version.
type ManifestMetadata struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// CapsuleKind identifies a capsule's invocation mechanism. container-exec is
// the only kind this core dispatches; any other kind parses but is rejected
// at resolution time.
type CapsuleKind string

const (
	CapsuleContainerExec CapsuleKind = "container-exec"
)

// CapsuleEntry is one capsule an App Pack's rituals can invoke.
type CapsuleEntry struct {
	Type           CapsuleKind       `yaml:"type"`
	Name           string            `yaml:"name"`
	ImageDigest    string            `yaml:"imageDigest"`
	Command        []string          `yaml:"command"`
	Env            map[string]string `yaml:"env"`
	WorkingDir     string            `yaml:"workingDir"`
	TimeoutSeconds int64             `yaml:"timeoutSeconds"`
	Outputs        CapsuleOutputs    `yaml:"outputs"`
}

// CapsuleOutputs locates the capsule's result envelope after it exits.
type CapsuleOutputs struct {
	EnvelopePath string `yaml:"envelopePath"`
}

// RitualEntry is one named ritual an App Pack exposes.
type RitualEntry struct {
	Name  string       `yaml:"name"`
	Steps []RitualStep `yaml:"steps"`
}

// RitualStep is a single step in a ritual's plan, referencing a capsule by
// name and optionally overriding its default arguments.
type RitualStep struct {
	Capsule string                 `yaml:"capsule"`
	With    map[string]interface{} `yaml:"with"`
}

// findCapsule returns the capsule entry named name, or an error if absent.
func (m Manifest) findCapsule(name string) (CapsuleEntry, error) {
	for _, c := range m.Capsules {
		if c.Name == name {
			return c, nil
		}
	}
	return CapsuleEntry{}, fmt.Errorf("ritual: capsule %q not found in app pack %s@%s", name, m.Metadata.Name, m.Metadata.Version)
}

// findRitual returns the ritual entry named name, or an error if absent.
func (m Manifest) findRitual(name string) (RitualEntry, error) {
	for _, r := range m.Rituals {
		if r.Name == name {
			return r, nil
		}
	}
	return RitualEntry{}, fmt.Errorf("ritual: ritual %q not defined in app pack %s@%s", name, m.Metadata.Name, m.Metadata.Version)
}
