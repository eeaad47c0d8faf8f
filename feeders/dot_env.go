package feeders

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// DotEnvFeeder reads variables from a .env file and applies them through the
// env tags of the structure, like AffixedEnvFeeder. Variables already set in
// the process environment win over the file.
type DotEnvFeeder struct {
	Path   string
	Prefix string
}

// NewDotEnvFeeder creates a new DotEnvFeeder that reads from the specified .env file
func NewDotEnvFeeder(filePath, prefix string) DotEnvFeeder {
	return DotEnvFeeder{Path: filePath, Prefix: prefix}
}

// Feed reads the .env file and populates the provided structure directly
func (f DotEnvFeeder) Feed(structure any) error {
	rv, err := structValue(structure)
	if err != nil {
		return err
	}
	vars, err := godotenv.Read(f.Path)
	if err != nil {
		return fmt.Errorf("failed to parse .env file: %w", err)
	}
	lookup := func(name string) (string, bool) {
		if v, ok := os.LookupEnv(name); ok {
			return v, true
		}
		v, ok := vars[name]
		return v, ok
	}
	return fillStruct(rv, lookup, strings.ToUpper(f.Prefix), "")
}
