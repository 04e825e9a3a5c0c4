// Package manifest loads export manifests: YAML documents listing the jobs of
// a run, optionally sharded, with $(...) expressions evaluated per shard.
package manifest

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/me/exportq/internal/rpc"
	"github.com/me/exportq/internal/validate"
	"github.com/me/exportq/pkg/model"
	"gopkg.in/yaml.v3"
)

// Job kinds.
const (
	KindCommand = "command"
	KindRPC     = "rpc"
	KindDummy   = "dummy"
)

// Manifest is the top-level document.
type Manifest struct {
	Name          string            `yaml:"name" validate:"required"`
	Vars          map[string]any    `yaml:"vars"`
	ExpressionLib []string          `yaml:"expression_lib"`
	RPC           *rpc.ClientConfig `yaml:"rpc"`
	Jobs          []Job             `yaml:"jobs" validate:"required,min=1,dive"`
}

// Job describes one job, expanded into Shards tasks.
type Job struct {
	Name        string `yaml:"name" validate:"required"`
	Kind        string `yaml:"kind" validate:"required,oneof=command rpc dummy"`
	Description string `yaml:"description"`
	Shards      int    `yaml:"shards" validate:"gte=0,lte=10000"`

	// command
	Command []string          `yaml:"command"`
	Dir     string            `yaml:"dir"`
	Env     map[string]string `yaml:"env"`

	// rpc
	Params map[string]any `yaml:"params"`

	// dummy
	Interval time.Duration `yaml:"interval" validate:"gte=0"`
}

// ShardCount returns the number of tasks the job expands into.
func (j Job) ShardCount() int {
	if j.Shards <= 0 {
		return 1
	}
	return j.Shards
}

// Load reads and parses the manifest at path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Parse decodes and validates a manifest. Unknown keys are rejected.
func Parse(data []byte) (*Manifest, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var m Manifest
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks struct tags and the per-kind requirements.
func (m *Manifest) Validate() error {
	if err := validate.Struct("manifest", m); err != nil {
		return err
	}

	var fields []model.FieldError
	seen := map[string]bool{}
	for i, j := range m.Jobs {
		prefix := fmt.Sprintf("jobs[%d]", i)
		if seen[j.Name] {
			fields = append(fields, model.FieldError{Field: prefix + ".name", Message: fmt.Sprintf("duplicate job name %q", j.Name)})
		}
		seen[j.Name] = true

		switch j.Kind {
		case KindCommand:
			if len(j.Command) == 0 {
				fields = append(fields, model.FieldError{Field: prefix + ".command", Message: "is required for command jobs"})
			}
		case KindRPC:
			if m.RPC == nil {
				fields = append(fields, model.FieldError{Field: "rpc", Message: "is required when a job has kind rpc"})
			}
		}
	}
	if len(fields) > 0 {
		return &model.InvalidConfigError{Section: "manifest", Fields: fields}
	}
	return nil
}

// TaskCount returns the number of tasks Build will produce.
func (m *Manifest) TaskCount() int {
	n := 0
	for _, j := range m.Jobs {
		n += j.ShardCount()
	}
	return n
}
