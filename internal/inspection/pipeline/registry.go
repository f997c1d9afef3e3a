package pipeline

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// RegistrySchemaV1 is the schema marker expected in pipeline registry files.
const RegistrySchemaV1 = "packline.pipelines.v1"

type registryFile struct {
	Schema    string     `yaml:"schema"`
	Pipelines []Pipeline `yaml:"pipelines"`
}

// Registry resolves workflow phases to their step pipelines.
type Registry struct {
	byPhase map[string]Pipeline
}

// NewRegistry builds a registry that knows only the built-in pipeline.
func NewRegistry() *Registry {
	r := &Registry{byPhase: map[string]Pipeline{}}
	r.byPhase[DefaultPhase] = Default()
	return r
}

// ParseRegistry decodes a YAML registry file. Phases defined in the file
// override the built-in pipeline for the same phase.
func ParseRegistry(input []byte) (*Registry, error) {
	var file registryFile
	if err := yaml.Unmarshal(input, &file); err != nil {
		return nil, fmt.Errorf("decode pipeline registry: %w", err)
	}
	if strings.TrimSpace(file.Schema) != RegistrySchemaV1 {
		return nil, fmt.Errorf("registry schema must be %q", RegistrySchemaV1)
	}
	registry := NewRegistry()
	for i, p := range file.Pipelines {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("pipelines[%d]: %w", i, err)
		}
		phase := strings.TrimSpace(p.Phase)
		if _, ok := registry.byPhase[phase]; ok && phase != DefaultPhase {
			return nil, fmt.Errorf("pipelines[%d]: duplicate phase %q", i, phase)
		}
		p.Phase = phase
		registry.byPhase[phase] = p
	}
	return registry, nil
}

// Resolve returns the pipeline for a phase.
func (r *Registry) Resolve(phase string) (Pipeline, bool) {
	if r == nil {
		return Pipeline{}, false
	}
	p, ok := r.byPhase[strings.TrimSpace(phase)]
	return p, ok
}

// Phases lists the registered phase names.
func (r *Registry) Phases() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.byPhase))
	for phase := range r.byPhase {
		out = append(out, phase)
	}
	return out
}
