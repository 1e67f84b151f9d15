// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package pipeline

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jeranaias/rigchat/internal/model"
)

// =============================================================================
// CONTROLS
// =============================================================================

// ControlKind names a sidebar control a pipeline accepts.
type ControlKind string

const (
	ControlKnowledgeBase ControlKind = "knowledge_base"
	ControlFileSelect    ControlKind = "file_select"
	ControlWebSearch     ControlKind = "web_search"
	ControlMemory        ControlKind = "memory"
	ControlPerformance   ControlKind = "performance"
	ControlSystemPrompt  ControlKind = "system_prompt"
)

// Valid reports whether k is a known control kind.
func (k ControlKind) Valid() bool {
	switch k {
	case ControlKnowledgeBase, ControlFileSelect, ControlWebSearch,
		ControlMemory, ControlPerformance, ControlSystemPrompt:
		return true
	}
	return false
}

// Control describes one control shown for a pipeline.
type Control struct {
	Kind    ControlKind `yaml:"kind"`
	Label   string      `yaml:"label,omitempty"`
	Options []string    `yaml:"options,omitempty"`
}

// Pipeline is a named backend routing target.
type Pipeline struct {
	ID       string    `yaml:"id"`
	Name     string    `yaml:"name"`
	Endpoint string    `yaml:"endpoint"`
	Controls []Control `yaml:"controls"`
}

// Control returns the control of the given kind, if the pipeline declares it.
func (p Pipeline) Control(kind ControlKind) (Control, bool) {
	for _, c := range p.Controls {
		if c.Kind == kind {
			return c, true
		}
	}
	return Control{}, false
}

// Has reports whether the pipeline declares a control of the given kind.
func (p Pipeline) Has(kind ControlKind) bool {
	_, ok := p.Control(kind)
	return ok
}

// =============================================================================
// REGISTRY
// =============================================================================

//go:embed pipelines.yaml
var defaultRegistryYAML []byte

// Registry maps pipeline ids to their declarations.
type Registry struct {
	Default           string     `yaml:"default"`
	PerformanceLevels []string   `yaml:"performance_levels"`
	Pipelines         []Pipeline `yaml:"pipelines"`

	byID map[string]int
}

// DefaultRegistry returns the built-in registry.
func DefaultRegistry() *Registry {
	r, err := ParseRegistry(defaultRegistryYAML)
	if err != nil {
		panic(fmt.Sprintf("pipeline: built-in registry is invalid: %v", err))
	}
	return r
}

// LoadRegistry reads a registry file. An empty path yields the built-in
// registry.
func LoadRegistry(path string) (*Registry, error) {
	if path == "" {
		return DefaultRegistry(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline registry: %w", err)
	}
	r, err := ParseRegistry(data)
	if err != nil {
		return nil, fmt.Errorf("pipeline registry %s: %w", path, err)
	}
	return r, nil
}

// ParseRegistry decodes and validates a YAML registry.
func ParseRegistry(data []byte) (*Registry, error) {
	var r Registry
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse pipeline registry: %w", err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// Validate checks the registry and builds its index. Every problem is
// reported, not just the first.
func (r *Registry) Validate() error {
	var errs []error
	r.byID = make(map[string]int, len(r.Pipelines))

	if len(r.Pipelines) == 0 {
		errs = append(errs, model.NewValidationError("pipelines", "at least one pipeline is required"))
	}
	for i, p := range r.Pipelines {
		field := fmt.Sprintf("pipelines[%d]", i)
		if strings.TrimSpace(p.ID) == "" {
			errs = append(errs, model.NewValidationError(field+".id", "must not be empty"))
			continue
		}
		if _, dup := r.byID[p.ID]; dup {
			errs = append(errs, model.NewValidationError(field+".id", "duplicate pipeline id %q", p.ID))
			continue
		}
		r.byID[p.ID] = i

		if strings.TrimSpace(p.Endpoint) == "" {
			errs = append(errs, model.NewValidationError(field+".endpoint", "must not be empty"))
		}
		seen := make(map[ControlKind]bool)
		for j, c := range p.Controls {
			cf := fmt.Sprintf("%s.controls[%d]", field, j)
			if !c.Kind.Valid() {
				errs = append(errs, model.NewValidationError(cf+".kind", "unknown control kind %q", c.Kind))
				continue
			}
			if seen[c.Kind] {
				errs = append(errs, model.NewValidationError(cf+".kind", "control %q declared twice", c.Kind))
			}
			seen[c.Kind] = true
		}
		if seen[ControlFileSelect] && !seen[ControlKnowledgeBase] {
			errs = append(errs, model.NewValidationError(field+".controls", "file_select requires knowledge_base"))
		}
	}

	if r.Default != "" {
		if _, ok := r.byID[r.Default]; !ok {
			errs = append(errs, model.NewValidationError("default", "unknown pipeline %q", r.Default))
		}
	}
	for i, lvl := range r.PerformanceLevels {
		if strings.TrimSpace(lvl) == "" {
			errs = append(errs, model.NewValidationError(fmt.Sprintf("performance_levels[%d]", i), "must not be empty"))
		}
	}
	return errors.Join(errs...)
}

// SetPerformanceLevels replaces the registry-wide performance options.
func (r *Registry) SetPerformanceLevels(levels []string) {
	r.PerformanceLevels = slices.Clone(levels)
}

// Get returns the pipeline with the given id.
func (r *Registry) Get(id string) (Pipeline, bool) {
	i, ok := r.byID[id]
	if !ok {
		return Pipeline{}, false
	}
	return r.Pipelines[i], true
}

// IDs returns pipeline ids in declaration order.
func (r *Registry) IDs() []string {
	ids := make([]string, len(r.Pipelines))
	for i, p := range r.Pipelines {
		ids[i] = p.ID
	}
	return ids
}

// DefaultID returns the default pipeline id, or the first declared one.
func (r *Registry) DefaultID() string {
	if r.Default != "" {
		return r.Default
	}
	if len(r.Pipelines) > 0 {
		return r.Pipelines[0].ID
	}
	return ""
}

// PerformanceOptions returns the allowed performance levels for a pipeline.
// A pipeline's own option list wins over the registry-wide one.
func (r *Registry) PerformanceOptions(id string) []string {
	p, ok := r.Get(id)
	if !ok {
		return nil
	}
	c, ok := p.Control(ControlPerformance)
	if !ok {
		return nil
	}
	if len(c.Options) > 0 {
		return c.Options
	}
	return r.PerformanceLevels
}

// ValidateSelection rejects selections that use controls the pipeline does
// not declare, or values outside a control's options.
func (r *Registry) ValidateSelection(sel model.PipelineSelection) error {
	p, ok := r.Get(sel.PipelineID)
	if !ok {
		return model.NewValidationError("pipeline", "unknown pipeline %q", sel.PipelineID)
	}

	var errs []error
	if sel.KnowledgeBaseID != "" && !p.Has(ControlKnowledgeBase) {
		errs = append(errs, model.NewValidationError("knowledge_base", "pipeline %s does not use a knowledge base", p.ID))
	}
	if len(sel.SelectedFileIDs) > 0 {
		switch {
		case !p.Has(ControlFileSelect):
			errs = append(errs, model.NewValidationError("file_select", "pipeline %s does not take file selections", p.ID))
		case sel.KnowledgeBaseID == "":
			errs = append(errs, model.NewValidationError("file_select", "select a knowledge base first"))
		}
	}
	if sel.WebSearchEnabled && !p.Has(ControlWebSearch) {
		errs = append(errs, model.NewValidationError("web_search", "pipeline %s does not support web search", p.ID))
	}
	if sel.MemoryEnabled && !p.Has(ControlMemory) {
		errs = append(errs, model.NewValidationError("memory", "pipeline %s does not support memory", p.ID))
	}
	if sel.PerformanceLevel != "" {
		opts := r.PerformanceOptions(p.ID)
		switch {
		case !p.Has(ControlPerformance):
			errs = append(errs, model.NewValidationError("performance", "pipeline %s has no performance levels", p.ID))
		case !slices.Contains(opts, sel.PerformanceLevel):
			errs = append(errs, model.NewValidationError("performance", "level %q not in %v", sel.PerformanceLevel, opts))
		}
	}
	return errors.Join(errs...)
}
