package ritual

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// InstalledPack is one installed version of an App Pack, as recorded in
// registry.json by the install command.
type InstalledPack struct {
	Version      string    `json:"version"`
	ManifestPath string    `json:"manifestPath"`
	InstalledAt  time.Time `json:"installedAt"`
	Source       string    `json:"source"`
}

// registryFile is registry.json's on-disk shape: app name to its installed
// versions, newest-appended-last.
type registryFile struct {
	Apps map[string][]InstalledPack `json:"apps"`
}

// Registry resolves ritual invocations against installed App Packs rooted at
// a single app-pack store directory.
type Registry struct {
	root         string
	registryPath string
}

// NewRegistry constructs a Registry rooted at root. If root is empty, the
// store root is resolved from DEMON_APP_HOME, then DEMON_HOME/app-packs,
// then HOME/.demon/app-packs.
func NewRegistry(root string) (*Registry, error) {
	if root == "" {
		resolved, err := resolveAppPackRoot()
		if err != nil {
			return nil, err
		}
		root = resolved
	}
	return &Registry{root: root, registryPath: filepath.Join(root, "registry.json")}, nil
}

func resolveAppPackRoot() (string, error) {
	if v := os.Getenv("DEMON_APP_HOME"); v != "" {
		return v, nil
	}
	if v := os.Getenv("DEMON_HOME"); v != "" {
		return filepath.Join(v, "app-packs"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("ritual: resolve app pack root: %w", err)
	}
	return filepath.Join(home, ".demon", "app-packs"), nil
}

func (r *Registry) load() (registryFile, error) {
	var rf registryFile
	data, err := os.ReadFile(r.registryPath)
	if os.IsNotExist(err) {
		return registryFile{Apps: map[string][]InstalledPack{}}, nil
	}
	if err != nil {
		return rf, fmt.Errorf("ritual: read registry: %w", err)
	}
	if err := json.Unmarshal(data, &rf); err != nil {
		return rf, fmt.Errorf("ritual: parse registry: %w", err)
	}
	if rf.Apps == nil {
		rf.Apps = map[string][]InstalledPack{}
	}
	return rf, nil
}

// ResolvedInvocation is a ritual invocation resolved down to its manifest,
// ritual and capsule, ready to have an execution plan built from it.
type ResolvedInvocation struct {
	AppName      string
	ManifestPath string
	resolved     resolved
}

// ResolveInvocation finds appName's install (exact version if given,
// otherwise the latest by semver), loads and parses its manifest, and looks
// up ritualName within it.
func (r *Registry) ResolveInvocation(appName, version, ritualName string) (ResolvedInvocation, error) {
	rf, err := r.load()
	if err != nil {
		return ResolvedInvocation{}, err
	}

	installs, ok := rf.Apps[appName]
	if !ok || len(installs) == 0 {
		return ResolvedInvocation{}, fmt.Errorf("ritual: app %q is not installed", appName)
	}

	install, err := selectInstall(installs, version)
	if err != nil {
		return ResolvedInvocation{}, fmt.Errorf("ritual: app %q: %w", appName, err)
	}

	manifestData, err := os.ReadFile(install.ManifestPath)
	if err != nil {
		return ResolvedInvocation{}, fmt.Errorf("ritual: read manifest for %s@%s: %w", appName, install.Version, err)
	}
	var manifest Manifest
	if err := yaml.Unmarshal(manifestData, &manifest); err != nil {
		return ResolvedInvocation{}, fmt.Errorf("ritual: parse manifest for %s@%s: %w", appName, install.Version, err)
	}

	res, err := resolve(manifest, ritualName)
	if err != nil {
		return ResolvedInvocation{}, err
	}

	return ResolvedInvocation{AppName: appName, ManifestPath: install.ManifestPath, resolved: res}, nil
}

// selectInstall picks the install matching version exactly, or (when
// version is empty) the latest install by semver precedence, falling back
// to install-list order for versions that don't parse as semver.
func selectInstall(installs []InstalledPack, version string) (InstalledPack, error) {
	if version != "" {
		for _, in := range installs {
			if in.Version == version {
				return in, nil
			}
		}
		return InstalledPack{}, fmt.Errorf("version %q is not installed", version)
	}

	best := installs[0]
	bestVer := parseSemver(best.Version)
	for _, in := range installs[1:] {
		v := parseSemver(in.Version)
		if compareSemver(v, bestVer) > 0 {
			best, bestVer = in, v
		}
	}
	return best, nil
}

type semver struct{ major, minor, patch int }

// parseSemver parses a "major.minor.patch" prefix, tolerating a leading "v"
// and trailing pre-release/build metadata. Unparseable components default
// to zero so an install with a non-semver version string still sorts
// (last) rather than aborting resolution.
func parseSemver(v string) semver {
	v = strings.TrimPrefix(v, "v")
	if i := strings.IndexAny(v, "-+"); i >= 0 {
		v = v[:i]
	}
	parts := strings.SplitN(v, ".", 3)
	get := func(i int) int {
		if i >= len(parts) {
			return 0
		}
		n, _ := strconv.Atoi(parts[i])
		return n
	}
	return semver{get(0), get(1), get(2)}
}

func compareSemver(a, b semver) int {
	switch {
	case a.major != b.major:
		return a.major - b.major
	case a.minor != b.minor:
		return a.minor - b.minor
	default:
		return a.patch - b.patch
	}
}

// ListVersions returns appName's installed versions, newest first.
func (r *Registry) ListVersions(appName string) ([]string, error) {
	rf, err := r.load()
	if err != nil {
		return nil, err
	}
	installs := rf.Apps[appName]
	versions := make([]string, len(installs))
	for i, in := range installs {
		versions[i] = in.Version
	}
	sort.Slice(versions, func(i, j int) bool {
		return compareSemver(parseSemver(versions[i]), parseSemver(versions[j])) > 0
	})
	return versions, nil
}
