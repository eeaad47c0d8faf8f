package descriptor

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Static errors for descriptor loading and validation
var (
	ErrUnsupportedFormat = errors.New("unsupported descriptor format")
	ErrInvalidDescriptor = errors.New("invalid descriptor")
)

// Format is a descriptor file encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
	FormatJSON Format = "json"
)

// FormatOf returns the format implied by a file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

// Supported reports whether the file at path has a descriptor extension.
func Supported(path string) bool {
	_, err := FormatOf(path)
	return err == nil
}

// Load reads and validates the descriptor file at path.
func Load(path string) (*Deployment, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open descriptor: %w", err)
	}
	defer f.Close()

	d, err := Decode(f, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	d.Source = path
	return d, nil
}

// Decode reads a descriptor in the given format and validates it.
func Decode(r io.Reader, format Format) (*Deployment, error) {
	d := &Deployment{}
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		if err := dec.Decode(d); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to decode yaml: %w", err)
		}
	case FormatTOML:
		md, err := toml.NewDecoder(r).Decode(d)
		if err != nil {
			return nil, fmt.Errorf("failed to decode toml: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("%w: unknown toml keys %v", ErrInvalidDescriptor, undecoded)
		}
	case FormatJSON:
		dec := json.NewDecoder(r)
		dec.DisallowUnknownFields()
		if err := dec.Decode(d); err != nil {
			return nil, fmt.Errorf("failed to decode json: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}

	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// Validate checks the structural rules that do not need type information:
// every bean has a unique non-empty name and a way to be constructed, and
// every value holds at most one variant.
func (d *Deployment) Validate() error {
	seen := make(map[string]struct{}, len(d.Beans))
	var errs []error
	for i := range d.Beans {
		b := &d.Beans[i]
		if strings.TrimSpace(b.Name) == "" {
			errs = append(errs, fmt.Errorf("%w: bean #%d has no name", ErrInvalidDescriptor, i))
			continue
		}
		if _, dup := seen[b.Name]; dup {
			errs = append(errs, fmt.Errorf("%w: duplicate bean name %q", ErrInvalidDescriptor, b.Name))
		}
		seen[b.Name] = struct{}{}

		if err := b.validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *Bean) validate() error {
	c := b.Constructor
	switch {
	case c == nil && b.Class == "":
		return fmt.Errorf("%w: bean %q needs a class or a constructor", ErrInvalidDescriptor, b.Name)
	case c != nil && c.Factory != nil && c.FactoryClass != "":
		return fmt.Errorf("%w: bean %q declares both a factory bean and a factory class", ErrInvalidDescriptor, b.Name)
	case c != nil && c.Factory != nil && c.Factory.Bean == "":
		return fmt.Errorf("%w: bean %q has a factory without a bean name", ErrInvalidDescriptor, b.Name)
	case c != nil && c.Factory == nil && c.FactoryClass == "" && b.Class == "":
		return fmt.Errorf("%w: bean %q constructor has no class or factory", ErrInvalidDescriptor, b.Name)
	case c != nil && (c.Factory != nil || c.FactoryClass != "") && c.FactoryMethod == "":
		return fmt.Errorf("%w: bean %q factory needs a factoryMethod", ErrInvalidDescriptor, b.Name)
	}

	if c != nil {
		for i, p := range c.Parameters {
			if err := p.validate(); err != nil {
				return fmt.Errorf("bean %q parameter %d: %w", b.Name, i, err)
			}
			if p.Kind() == KindThis {
				return fmt.Errorf("%w: bean %q parameter %d cannot reference the bean itself", ErrInvalidDescriptor, b.Name, i)
			}
		}
	}
	for _, p := range b.Properties {
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("%w: bean %q has a property without a name", ErrInvalidDescriptor, b.Name)
		}
		if err := p.Value.validate(); err != nil {
			return fmt.Errorf("bean %q property %q: %w", b.Name, p.Name, err)
		}
	}
	for _, cb := range b.Callbacks {
		if cb.Kind != Incallback && cb.Kind != Uncallback {
			return fmt.Errorf("%w: bean %q callback kind %q", ErrInvalidDescriptor, b.Name, cb.Kind)
		}
		if cb.Method == "" {
			return fmt.Errorf("%w: bean %q callback without a method", ErrInvalidDescriptor, b.Name)
		}
	}
	return nil
}

func (v Value) validate() error {
	set := 0
	for _, ok := range []bool{v.Inject != nil, v.Null, v.This, v.Map != nil, v.List != nil, v.Set != nil} {
		if ok {
			set++
		}
	}
	if set > 1 {
		return fmt.Errorf("%w: value declares more than one form", ErrInvalidDescriptor)
	}
	if v.Inject != nil && v.Inject.Bean == "" {
		return fmt.Errorf("%w: inject without a bean name", ErrInvalidDescriptor)
	}

	var entries []Value
	switch {
	case v.Map != nil:
		for _, e := range v.Map.Entries {
			entries = append(entries, e.Key, e.Value)
		}
	case v.List != nil:
		entries = v.List.Values
	case v.Set != nil:
		entries = v.Set.Values
	}
	for _, e := range entries {
		if k := e.Kind(); k != KindLiteral && k != KindInject {
			return fmt.Errorf("%w: collection entries must be literals or injections, got %s", ErrInvalidDescriptor, k)
		}
	}
	return nil
}
