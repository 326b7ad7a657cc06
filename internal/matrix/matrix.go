package matrix

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
)

type Group struct {
	Group          string   `yaml:"group"`
	TimeoutMinutes int64    `yaml:"timeout_minutes"`
	Required       bool     `yaml:"required"`
	Jobs           []string `yaml:"jobs"`
}

// BuildSpec is the recipe for the single build stage. The command runs in the
// checked-out repository and must leave the artifact at the given path.
type BuildSpec struct {
	Command  string `yaml:"command"`
	Artifact string `yaml:"artifact"`
}

// TestSpec describes how one matrix job is invoked: the command receives the
// job name and the artifact path as arguments and must write its coverage
// report to the coverage path inside the job directory.
type TestSpec struct {
	Command  string `yaml:"command"`
	Coverage string `yaml:"coverage"`
}

type Declaration struct {
	Build  BuildSpec `yaml:"build"`
	Test   TestSpec  `yaml:"test"`
	Groups []Group   `yaml:"groups"`
}

// JobSpec is one unit of matrix work. Specs are immutable after expansion and
// shared read-only by every executor of a run.
type JobSpec struct {
	Name     string
	Group    string
	Timeout  time.Duration
	Required bool
}

func Load(path string, defaultTimeoutMinutes int64) (*Declaration, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b, defaultTimeoutMinutes)
}

func Parse(b []byte, defaultTimeoutMinutes int64) (*Declaration, error) {
	decl := new(Declaration)
	if err := yaml.Unmarshal(b, decl); err != nil {
		return nil, err
	}
	for i := range decl.Groups {
		if decl.Groups[i].TimeoutMinutes == 0 {
			decl.Groups[i].TimeoutMinutes = defaultTimeoutMinutes
		}
	}
	if err := decl.Validate(); err != nil {
		return nil, err
	}
	return decl, nil
}

func (d *Declaration) Validate() error {
	if d.Build.Command == "" {
		return fmt.Errorf("matrix declares no build command")
	}
	if d.Build.Artifact == "" {
		return fmt.Errorf("matrix declares no build artifact path")
	}
	if d.Test.Command == "" {
		return fmt.Errorf("matrix declares no test command")
	}
	if d.Test.Coverage == "" {
		return fmt.Errorf("matrix declares no coverage path")
	}
	if len(d.Groups) == 0 {
		return fmt.Errorf("matrix declares no groups")
	}
	seen := make(map[string]string)
	for _, g := range d.Groups {
		if g.Group == "" {
			return fmt.Errorf("matrix group without a name")
		}
		if g.TimeoutMinutes <= 0 {
			return fmt.Errorf("group '%s' has no positive timeout", g.Group)
		}
		if len(g.Jobs) == 0 {
			return fmt.Errorf("group '%s' declares no jobs", g.Group)
		}
		for _, name := range g.Jobs {
			if name == "" {
				return fmt.Errorf("group '%s' contains a job without a name", g.Group)
			}
			if other, ok := seen[name]; ok {
				return fmt.Errorf("job '%s' declared in both '%s' and '%s'", name, other, g.Group)
			}
			seen[name] = g.Group
		}
	}
	return nil
}

// Expand turns the declaration into the run's job specs. Expansion is pure and
// deterministic: the same declaration always yields the same specs in
// declaration order.
func Expand(d *Declaration) []JobSpec {
	specs := make([]JobSpec, 0)
	for _, g := range d.Groups {
		timeout := time.Duration(g.TimeoutMinutes) * time.Minute
		for _, name := range g.Jobs {
			specs = append(specs, JobSpec{
				Name:     name,
				Group:    g.Group,
				Timeout:  timeout,
				Required: g.Required,
			})
		}
	}
	return specs
}
