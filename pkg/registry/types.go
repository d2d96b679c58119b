package registry

import (
	"strings"

	"github.com/neuroinsight/neuroinsight/pkg/types"
)

// PluginInput describes one expected input file
type PluginInput struct {
	Key    string `yaml:"key" json:"key"`
	Label  string `yaml:"label" json:"label"`
	Format string `yaml:"format" json:"format"`
}

// PluginParameter describes one tunable parameter
type PluginParameter struct {
	Name        string   `yaml:"name" json:"name"`
	Type        string   `yaml:"type" json:"type"`
	Default     any      `yaml:"default" json:"default,omitempty"`
	Min         *float64 `yaml:"min" json:"min,omitempty"`
	Max         *float64 `yaml:"max" json:"max,omitempty"`
	Choices     []string `yaml:"choices" json:"choices,omitempty"`
	Description string   `yaml:"description" json:"description,omitempty"`
}

// Visibility controls whether a plugin is offered in selection UIs
type Visibility struct {
	UserSelectable bool   `yaml:"user_selectable" json:"user_selectable"`
	UICategory     string `yaml:"ui_category" json:"ui_category,omitempty"`
	UILabel        string `yaml:"ui_label" json:"ui_label,omitempty"`
}

// Container describes the image and runtime a plugin executes in
type Container struct {
	Image   string `yaml:"image" json:"image"`
	Digest  string `yaml:"digest" json:"digest,omitempty"`
	Runtime string `yaml:"runtime" json:"runtime,omitempty"`
}

// ExecutionStage is one stage of a multi-stage execution block
type ExecutionStage struct {
	ID              string `yaml:"id" json:"id"`
	CommandTemplate string `yaml:"command_template" json:"command_template"`
}

// Execution holds the command-template variants a plugin may declare
type Execution struct {
	Stages          []ExecutionStage `yaml:"stages" json:"stages,omitempty"`
	CommandTemplate string           `yaml:"command_template" json:"command_template,omitempty"`
}

// PluginResources holds the default resources and named profiles
type PluginResources struct {
	Default  types.ResourceSpec            `yaml:"default" json:"default"`
	Profiles map[string]types.ResourceSpec `yaml:"profiles" json:"profiles,omitempty"`
}

// PluginOutput describes one declared output artefact
type PluginOutput struct {
	ID     string `yaml:"id" json:"id"`
	Label  string `yaml:"label" json:"label"`
	Format string `yaml:"format" json:"format"`
}

// Plugin is one declarative container invocation loaded from YAML
type Plugin struct {
	Type        string `yaml:"type" json:"type"`
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Version     string `yaml:"version" json:"version"`
	Domain      string `yaml:"domain" json:"domain,omitempty"`
	Description string `yaml:"description" json:"description,omitempty"`

	Visibility Visibility      `yaml:"visibility" json:"visibility"`
	Container  Container       `yaml:"container" json:"container"`
	Inputs     PluginInputs    `yaml:"inputs" json:"inputs"`
	Parameters []PluginParameter `yaml:"parameters" json:"parameters,omitempty"`
	Resources  PluginResources `yaml:"resources" json:"resources"`
	Execution  Execution       `yaml:"execution" json:"execution"`
	Command    string          `yaml:"command" json:"command,omitempty"`
	Outputs    []PluginOutput  `yaml:"outputs" json:"outputs,omitempty"`
	Authors    []string        `yaml:"authors" json:"authors,omitempty"`
	References []string        `yaml:"references" json:"references,omitempty"`

	// ContentHash is computed at load time, not declared in YAML
	ContentHash string `yaml:"-" json:"content_hash"`

	sourcePath string
}

// PluginInputs groups required and optional inputs in declaration order
type PluginInputs struct {
	Required []PluginInput `yaml:"required" json:"required,omitempty"`
	Optional []PluginInput `yaml:"optional" json:"optional,omitempty"`
}

// All returns required then optional inputs in order
func (pi PluginInputs) All() []PluginInput {
	out := make([]PluginInput, 0, len(pi.Required)+len(pi.Optional))
	out = append(out, pi.Required...)
	out = append(out, pi.Optional...)
	return out
}

// CommandTemplate returns the first non-empty template in lookup order:
// execution.stages[0].command_template, execution.command_template, command
func (p *Plugin) CommandTemplate() string {
	if len(p.Execution.Stages) > 0 && strings.TrimSpace(p.Execution.Stages[0].CommandTemplate) != "" {
		return p.Execution.Stages[0].CommandTemplate
	}
	if strings.TrimSpace(p.Execution.CommandTemplate) != "" {
		return p.Execution.CommandTemplate
	}
	return p.Command
}

// DefaultResources returns the plugin's declared defaults, falling back to
// the system-wide defaults when the plugin declares none
func (p *Plugin) DefaultResources() types.ResourceSpec {
	r := p.Resources.Default
	if r.MemoryGB == 0 && r.CPUs == 0 && r.TimeHours == 0 {
		return types.DefaultResources()
	}
	if r.MemoryGB == 0 {
		r.MemoryGB = types.DefaultResources().MemoryGB
	}
	if r.CPUs == 0 {
		r.CPUs = types.DefaultResources().CPUs
	}
	if r.TimeHours == 0 {
		r.TimeHours = types.DefaultResources().TimeHours
	}
	return r
}

// DefaultParameters returns the declared parameter defaults keyed by name
func (p *Plugin) DefaultParameters() map[string]any {
	out := make(map[string]any, len(p.Parameters))
	for _, param := range p.Parameters {
		if param.Default != nil {
			out[param.Name] = param.Default
		}
	}
	return out
}

// WorkflowStep is one linear step of a workflow
type WorkflowStep struct {
	ID         string         `yaml:"id" json:"id"`
	Uses       string         `yaml:"uses" json:"uses"`
	Label      string         `yaml:"label" json:"label,omitempty"`
	Inputs     map[string]any `yaml:"inputs" json:"inputs,omitempty"`
	Parameters map[string]any `yaml:"parameters" json:"parameters,omitempty"`
	DependsOn  []string       `yaml:"depends_on" json:"depends_on,omitempty"`
}

// Workflow is an ordered linear chain of plugin invocations
type Workflow struct {
	Type        string         `yaml:"type" json:"type"`
	ID          string         `yaml:"id" json:"id"`
	Name        string         `yaml:"name" json:"name"`
	Version     string         `yaml:"version" json:"version"`
	Description string         `yaml:"description" json:"description,omitempty"`
	Steps       []WorkflowStep `yaml:"steps" json:"steps"`

	ContentHash string `yaml:"-" json:"content_hash"`

	sourcePath string
}

// StepPlugins returns the plugin ids referenced by the steps, in order
func (w *Workflow) StepPlugins() []string {
	out := make([]string, 0, len(w.Steps))
	for _, s := range w.Steps {
		out = append(out, s.Uses)
	}
	return out
}
