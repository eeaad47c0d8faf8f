package kernel

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Static errors for configuration handling
var (
	ErrConfigNil                  = errors.New("config cannot be nil")
	ErrConfigNotPointer           = errors.New("config must be a pointer to a struct")
	ErrConfigRequiredFieldMissing = errors.New("required config field missing")
	ErrConfigInvalid              = errors.New("invalid config")
	ErrUnsupportedFormatType      = errors.New("unsupported config format")
)

const (
	tagDefault  = "default"
	tagRequired = "required"
	tagDesc     = "desc"
)

// Config holds the kernel settings. Files and environment variables are fed
// into it by package feeders; ValidateConfig applies defaults afterwards.
type Config struct {
	// Workers bounds how many beans are constructed at the same time.
	Workers int `yaml:"workers" toml:"workers" json:"workers" env:"WORKERS" desc:"Concurrent bean constructions, 0 for unbounded"`

	// RetainPartial keeps the started beans of a failed submission live
	// instead of tearing them down before the error is returned.
	RetainPartial bool `yaml:"retainPartial" toml:"retainPartial" json:"retainPartial" env:"RETAIN_PARTIAL" desc:"Keep started beans of a failed deployment"`

	Bootstrap       string `yaml:"bootstrap" toml:"bootstrap" json:"bootstrap" env:"BOOTSTRAP" desc:"Descriptor deployed at startup"`
	DeployDirectory string `yaml:"deployDirectory" toml:"deployDirectory" json:"deployDirectory" env:"DEPLOY_DIRECTORY" default:"deploy" desc:"Directory scanned for descriptors"`
	ScanSchedule    string `yaml:"scanSchedule" toml:"scanSchedule" json:"scanSchedule" env:"SCAN_SCHEDULE" default:"@every 5s" desc:"Cron schedule of directory rescans"`
	WatchFilesystem bool   `yaml:"watchFilesystem" toml:"watchFilesystem" json:"watchFilesystem" env:"WATCH_FILESYSTEM" desc:"Rescan on filesystem notifications"`
	StatusAddress   string `yaml:"statusAddress" toml:"statusAddress" json:"statusAddress" env:"STATUS_ADDRESS" default:":9090" desc:"Listen address of the status server"`
	LogLevel        string `yaml:"logLevel" toml:"logLevel" json:"logLevel" env:"LOG_LEVEL" default:"info" desc:"debug, info, warn or error"`

	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" toml:"shutdownTimeout" json:"shutdownTimeout" env:"SHUTDOWN_TIMEOUT" default:"30s" desc:"Time allowed for undeploying everything on exit"`

	// Properties are consulted before the environment when substituting
	// ${name} placeholders.
	Properties map[string]string `yaml:"properties" toml:"properties" json:"properties" desc:"Substitution properties"`
}

// Validate checks values that tags cannot express.
func (c *Config) Validate() error {
	if c.Workers < 0 {
		return fmt.Errorf("%w: workers must not be negative", ErrConfigInvalid)
	}
	if c.ScanSchedule != "" {
		if _, err := cron.ParseStandard(c.ScanSchedule); err != nil {
			return fmt.Errorf("%w: scan schedule %q: %w", ErrConfigInvalid, c.ScanSchedule, err)
		}
	}
	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: log level %q", ErrConfigInvalid, c.LogLevel)
	}
	return nil
}

// DefaultConfig returns a Config with every default applied.
func DefaultConfig() *Config {
	cfg := &Config{}
	_ = ProcessConfigDefaults(cfg)
	return cfg
}

// ConfigValidator is implemented by configuration structs with custom
// validation.
type ConfigValidator interface {
	Validate() error
}

// ValidateConfig applies default values, checks required fields and runs
// the struct's own Validate method when it has one.
func ValidateConfig(cfg any) error {
	if cfg == nil {
		return ErrConfigNil
	}
	if err := ProcessConfigDefaults(cfg); err != nil {
		return err
	}
	if err := ValidateConfigRequired(cfg); err != nil {
		return err
	}
	if v, ok := cfg.(ConfigValidator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("config validation failed: %w", err)
		}
	}
	return nil
}

func structValue(cfg any) (reflect.Value, error) {
	if cfg == nil {
		return reflect.Value{}, ErrConfigNil
	}
	v := reflect.ValueOf(cfg)
	if v.Kind() != reflect.Pointer || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return reflect.Value{}, ErrConfigNotPointer
	}
	return v.Elem(), nil
}

// ProcessConfigDefaults sets fields tagged `default:"..."` that still hold
// their zero value.
func ProcessConfigDefaults(cfg any) error {
	v, err := structValue(cfg)
	if err != nil {
		return err
	}
	return processStructDefaults(v)
}

func processStructDefaults(v reflect.Value) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)
		if !field.CanSet() {
			continue
		}
		if field.Kind() == reflect.Struct {
			if err := processStructDefaults(field); err != nil {
				return err
			}
			continue
		}

		def, ok := fieldType.Tag.Lookup(tagDefault)
		if !ok || !field.IsZero() {
			continue
		}
		if err := setDefaultValue(field, def); err != nil {
			return fmt.Errorf("failed to set default value for %s: %w", fieldType.Name, err)
		}
	}
	return nil
}

func setDefaultValue(field reflect.Value, def string) error {
	if field.Type() == durationType {
		d, err := time.ParseDuration(def)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(def)
	case reflect.Bool:
		b, err := strconv.ParseBool(def)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(def, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(def, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(def, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetFloat(f)
	default:
		return fmt.Errorf("%w: cannot set default for %s", ErrConfigInvalid, field.Kind())
	}
	return nil
}

// ValidateConfigRequired checks that fields tagged `required:"true"` are set.
func ValidateConfigRequired(cfg any) error {
	v, err := structValue(cfg)
	if err != nil {
		return err
	}
	var missing []string
	validateRequiredFields(v, "", &missing)
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrConfigRequiredFieldMissing, strings.Join(missing, ", "))
	}
	return nil
}

func validateRequiredFields(v reflect.Value, prefix string, missing *[]string) {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)
		name := fieldType.Name
		if prefix != "" {
			name = prefix + "." + name
		}
		if !field.CanSet() {
			continue
		}
		if field.Kind() == reflect.Struct {
			validateRequiredFields(field, name, missing)
			continue
		}
		if fieldType.Tag.Get(tagRequired) == "true" && field.IsZero() {
			*missing = append(*missing, name)
		}
	}
}

// GenerateSampleConfig renders cfg's type with defaults applied in the given
// format: "yaml", "toml" or "json".
func GenerateSampleConfig(cfg any, format string) ([]byte, error) {
	if cfg == nil {
		return nil, ErrConfigNil
	}
	sample := reflect.New(reflect.TypeOf(cfg).Elem()).Interface()
	if err := ProcessConfigDefaults(sample); err != nil {
		return nil, err
	}

	switch strings.ToLower(format) {
	case "yaml", "yml":
		data, err := yaml.Marshal(sample)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal to YAML: %w", err)
		}
		return data, nil
	case "toml":
		var sb strings.Builder
		if err := toml.NewEncoder(&sb).Encode(sample); err != nil {
			return nil, fmt.Errorf("failed to marshal to TOML: %w", err)
		}
		return []byte(sb.String()), nil
	case "json":
		data, err := json.MarshalIndent(sample, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to marshal to JSON: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormatType, format)
	}
}

// DescribeConfig lists the fields of cfg's type with their desc tags.
func DescribeConfig(cfg any) map[string]string {
	out := make(map[string]string)
	t := reflect.TypeOf(cfg)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if d := f.Tag.Get(tagDesc); d != "" {
			out[f.Name] = d
		}
	}
	return out
}
