// Package feeders fills configuration structs from YAML, TOML and JSON
// files, .env files and environment variables.
package feeders

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/golobby/cast"
)

// Feeder populates a pointer to a struct.
type Feeder interface {
	Feed(structure any) error
}

// Feed applies feeders in order. Later feeders override earlier ones.
func Feed(structure any, feeders ...Feeder) error {
	for _, f := range feeders {
		if err := f.Feed(structure); err != nil {
			return fmt.Errorf("%T: %w", f, err)
		}
	}
	return nil
}

// AffixedEnvFeeder reads environment variables named after the env tag of
// each field, with a prefix and/or suffix joined by underscores.
type AffixedEnvFeeder struct {
	Prefix string
	Suffix string
}

// NewAffixedEnvFeeder creates a new AffixedEnvFeeder with the specified prefix and suffix
func NewAffixedEnvFeeder(prefix, suffix string) AffixedEnvFeeder {
	return AffixedEnvFeeder{Prefix: prefix, Suffix: suffix}
}

// Feed reads environment variables and populates the provided structure
func (f AffixedEnvFeeder) Feed(structure any) error {
	rv, err := structValue(structure)
	if err != nil {
		return err
	}
	if f.Prefix == "" && f.Suffix == "" {
		return ErrEnvEmptyPrefixAndSuffix
	}
	return fillStruct(rv, os.LookupEnv, strings.ToUpper(f.Prefix), strings.ToUpper(f.Suffix))
}

func structValue(structure any) (reflect.Value, error) {
	rv := reflect.ValueOf(structure)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return reflect.Value{}, wrapStructureError(structure)
	}
	return rv.Elem(), nil
}

// fillStruct walks the struct fields, recursing into nested structs, and
// sets every field with an env tag whose variable is present and non-empty.
func fillStruct(rv reflect.Value, lookup func(string) (string, bool), prefix, suffix string) error {
	for i := 0; i < rv.NumField(); i++ {
		field := rv.Field(i)
		fieldType := rv.Type().Field(i)
		if !fieldType.IsExported() {
			continue
		}

		switch {
		case field.Kind() == reflect.Struct:
			if err := fillStruct(field, lookup, prefix, suffix); err != nil {
				return err
			}
		case field.Kind() == reflect.Pointer && !field.IsNil() && field.Elem().Kind() == reflect.Struct:
			if err := fillStruct(field.Elem(), lookup, prefix, suffix); err != nil {
				return err
			}
		default:
			tag, ok := fieldType.Tag.Lookup("env")
			if !ok {
				continue
			}
			name := envName(tag, prefix, suffix)
			value, ok := lookup(name)
			if !ok || value == "" {
				continue
			}
			if err := setFieldValue(field, value); err != nil {
				return fmt.Errorf("error in field '%s': %w", fieldType.Name, wrapConvertError(name, err))
			}
		}
	}
	return nil
}

func envName(tag, prefix, suffix string) string {
	name := strings.ToUpper(tag)
	if prefix != "" {
		name = prefix + "_" + name
	}
	if suffix != "" {
		name = name + "_" + suffix
	}
	return name
}

var durationType = reflect.TypeOf(time.Duration(0))

// setFieldValue converts and sets a field value
func setFieldValue(field reflect.Value, strValue string) error {
	if !field.CanSet() {
		return ErrFieldCannotBeSet
	}
	if field.Type() == durationType {
		d, err := time.ParseDuration(strValue)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
		return nil
	}

	converted, err := cast.FromType(strValue, field.Type())
	if err != nil {
		return fmt.Errorf("cannot convert value to type %v: %w", field.Type(), err)
	}
	field.Set(reflect.ValueOf(converted).Convert(field.Type()))
	return nil
}
