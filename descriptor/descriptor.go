// Package descriptor defines the declarative bean graph consumed by the
// activation kernel, together with loaders for YAML, TOML and JSON files.
//
// A Deployment is an ordered list of Bean descriptors. Each bean names how it
// is constructed (a bare class, a constructor with parameters, or a factory),
// which properties are bound after construction, and which lifecycle steps
// the kernel should skip or add.
//
// Example YAML descriptor:
//
//	beans:
//	  - name: pool
//	    class: example.Pool
//	    properties:
//	      - name: MaxSize
//	        value: "${POOL_SIZE:10}"
//	  - name: manager
//	    class: example.Manager
//	    constructor:
//	      parameters:
//	        - inject: {bean: pool}
package descriptor

import "strings"

// Deployment is one submission: an ordered list of beans.
type Deployment struct {
	// Source identifies where the deployment was read from (a file path or
	// any caller supplied label). It is used for logging and error messages.
	Source string `yaml:"-" toml:"-" json:"-"`

	Beans []Bean `yaml:"beans" toml:"beans" json:"beans"`
}

// Bean describes one named component.
type Bean struct {
	Name        string       `yaml:"name" toml:"name" json:"name"`
	Class       string       `yaml:"class,omitempty" toml:"class,omitempty" json:"class,omitempty"`
	Constructor *Constructor `yaml:"constructor,omitempty" toml:"constructor,omitempty" json:"constructor,omitempty"`
	Properties  []Property   `yaml:"properties,omitempty" toml:"properties,omitempty" json:"properties,omitempty"`

	// Depends lists additional bean names that must be terminal before this
	// bean is constructed, on top of the ones found in injections.
	Depends []string `yaml:"depends,omitempty" toml:"depends,omitempty" json:"depends,omitempty"`

	IgnoreCreate  bool `yaml:"ignoreCreate,omitempty" toml:"ignoreCreate,omitempty" json:"ignoreCreate,omitempty"`
	IgnoreStart   bool `yaml:"ignoreStart,omitempty" toml:"ignoreStart,omitempty" json:"ignoreStart,omitempty"`
	IgnoreStop    bool `yaml:"ignoreStop,omitempty" toml:"ignoreStop,omitempty" json:"ignoreStop,omitempty"`
	IgnoreDestroy bool `yaml:"ignoreDestroy,omitempty" toml:"ignoreDestroy,omitempty" json:"ignoreDestroy,omitempty"`

	// Install methods are invoked once, in order, after the start hook.
	Install   []string `yaml:"install,omitempty" toml:"install,omitempty" json:"install,omitempty"`
	// Uninstall methods are invoked, in order, during teardown.
	Uninstall []string `yaml:"uninstall,omitempty" toml:"uninstall,omitempty" json:"uninstall,omitempty"`

	Callbacks []Callback `yaml:"callbacks,omitempty" toml:"callbacks,omitempty" json:"callbacks,omitempty"`
}

// Constructor selects a constructor or factory method and its parameters.
type Constructor struct {
	// Factory names another bean whose method creates this bean.
	Factory       *Factory `yaml:"factory,omitempty" toml:"factory,omitempty" json:"factory,omitempty"`
	// FactoryClass names a type whose static factory method creates this bean.
	FactoryClass  string   `yaml:"factoryClass,omitempty" toml:"factoryClass,omitempty" json:"factoryClass,omitempty"`
	FactoryMethod string   `yaml:"factoryMethod,omitempty" toml:"factoryMethod,omitempty" json:"factoryMethod,omitempty"`
	Parameters    []Value  `yaml:"parameters,omitempty" toml:"parameters,omitempty" json:"parameters,omitempty"`
}

// Factory references a bean acting as a factory.
type Factory struct {
	Bean string `yaml:"bean" toml:"bean" json:"bean"`
}

// Property binds a value through the bean's Set<Name> method.
type Property struct {
	Name  string `yaml:"name" toml:"name" json:"name"`
	// Class restricts setter selection to the one accepting this type.
	Class string `yaml:"class,omitempty" toml:"class,omitempty" json:"class,omitempty"`

	Value `yaml:",inline"`
}

// CallbackKind distinguishes install and uninstall callbacks.
type CallbackKind string

const (
	// Incallback methods are invoked when a matching bean is installed.
	Incallback CallbackKind = "incallback"
	// Uncallback methods are invoked when a matching bean is uninstalled.
	Uncallback CallbackKind = "uncallback"
)

// Callback declares a single-parameter method to register in the kernel's
// callback registry.
type Callback struct {
	Kind   CallbackKind `yaml:"kind" toml:"kind" json:"kind"`
	Method string       `yaml:"method" toml:"method" json:"method"`
}

// Names returns the bean names in declaration order.
func (d *Deployment) Names() []string {
	names := make([]string, 0, len(d.Beans))
	for _, b := range d.Beans {
		names = append(names, b.Name)
	}
	return names
}

// String returns the deployment source or a placeholder.
func (d *Deployment) String() string {
	if strings.TrimSpace(d.Source) == "" {
		return "<inline>"
	}
	return d.Source
}
