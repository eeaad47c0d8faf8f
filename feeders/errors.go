package feeders

import (
	"errors"
	"fmt"
)

// Static error definitions for feeders
var (
	ErrInvalidStructure        = errors.New("expected pointer to struct")
	ErrUnsupportedFile         = errors.New("unsupported config file")
	ErrFieldCannotBeSet        = errors.New("field cannot be set")
	ErrEnvEmptyPrefixAndSuffix = errors.New("env: prefix or suffix cannot be empty")
)

func wrapStructureError(got any) error {
	return fmt.Errorf("%w, got %T", ErrInvalidStructure, got)
}

func wrapConvertError(envName string, err error) error {
	return fmt.Errorf("cannot convert %s: %w", envName, err)
}
