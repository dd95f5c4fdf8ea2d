package mdarunner

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/golobby/cast"
	"gopkg.in/yaml.v3"
)

// PolicyFeeder populates a RunPolicy from some external source. Feeders are
// applied in order; a later feeder's non-zero fields win, matching the
// layered env-over-file convention the rest of the pack uses for config.
type PolicyFeeder interface {
	Feed(policy *RunPolicy) error
}

// LoadRunPolicy starts from DefaultRunPolicy, applies every feeder in order,
// and validates the result.
func LoadRunPolicy(feeders ...PolicyFeeder) (RunPolicy, error) {
	policy := DefaultRunPolicy()
	for _, f := range feeders {
		if err := f.Feed(&policy); err != nil {
			return RunPolicy{}, fmt.Errorf("%w: %w", ErrConfigFeederFailed, err)
		}
	}
	if err := policy.Validate(); err != nil {
		return RunPolicy{}, err
	}
	return policy, nil
}

// YAMLFeeder reads a RunPolicy from a YAML file at Path.
type YAMLFeeder struct{ Path string }

func NewYAMLFeeder(path string) YAMLFeeder { return YAMLFeeder{Path: path} }

func (f YAMLFeeder) Feed(policy *RunPolicy) error {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", f.Path, err)
	}
	if err := yaml.Unmarshal(data, policy); err != nil {
		return fmt.Errorf("parsing %s as yaml: %w", f.Path, err)
	}
	return nil
}

// TOMLFeeder reads a RunPolicy from a TOML file at Path.
type TOMLFeeder struct{ Path string }

func NewTOMLFeeder(path string) TOMLFeeder { return TOMLFeeder{Path: path} }

func (f TOMLFeeder) Feed(policy *RunPolicy) error {
	if _, err := toml.DecodeFile(f.Path, policy); err != nil {
		return fmt.Errorf("parsing %s as toml: %w", f.Path, err)
	}
	return nil
}

// EnvFeeder populates a RunPolicy's fields from environment variables named
// by their `env` struct tag, optionally under Prefix (e.g. Prefix "MDARUN"
// reads MDARUN_CRITICAL_ERROR for the CriticalError field).
type EnvFeeder struct{ Prefix string }

func NewEnvFeeder(prefix string) EnvFeeder { return EnvFeeder{Prefix: prefix} }

func (f EnvFeeder) Feed(policy *RunPolicy) error {
	rv := reflect.ValueOf(policy).Elem()
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		envTag, ok := field.Tag.Lookup("env")
		if !ok {
			continue
		}
		name := strings.ToUpper(envTag)
		if f.Prefix != "" {
			name = strings.ToUpper(f.Prefix) + "_" + name
		}
		raw, set := os.LookupEnv(name)
		if !set || raw == "" {
			continue
		}
		fieldVal := rv.Field(i)
		converted, err := cast.FromType(raw, fieldVal.Type())
		if err != nil {
			return fmt.Errorf("env %s: %w", name, err)
		}
		fieldVal.Set(reflect.ValueOf(converted))
	}
	return nil
}
