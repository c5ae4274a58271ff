package config

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var durationType = reflect.TypeOf(time.Duration(0))

// LoaderConfig configures how configuration is loaded
type LoaderConfig struct {
	ConfigFile      string
	EnvironmentFile string
	// ServiceName enables {SERVICE}_{VAR} overrides that win over {VAR}
	ServiceName string
}

// Loader fills a configuration struct from defaults, a YAML file, an
// environment file and the process environment, in that order.
type Loader struct {
	config LoaderConfig
}

// NewLoader creates a new configuration loader
func NewLoader(cfg LoaderConfig) *Loader {
	return &Loader{config: cfg}
}

// Load loads configuration into the provided struct pointer
func (l *Loader) Load(target any) error {
	if err := l.setDefaults(target); err != nil {
		return fmt.Errorf("failed to set defaults: %w", err)
	}

	if l.config.ConfigFile != "" {
		if err := decodeYAMLFile(target, l.config.ConfigFile); err != nil {
			return fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if l.config.EnvironmentFile != "" {
		if err := exportEnvironmentFile(l.config.EnvironmentFile); err != nil {
			return fmt.Errorf("failed to load environment file: %w", err)
		}
	}

	if err := l.applyEnv(target); err != nil {
		return fmt.Errorf("failed to load from environment: %w", err)
	}

	return nil
}

// field is a settable leaf of a configuration struct
type field struct {
	value reflect.Value
	info  reflect.StructField
	// env is the variable name derived from the enclosing sections
	env string
}

// walk calls fn for every non-struct field reachable from target, descending
// into nested sections and allocating nil pointers on the way.
func walk(target any, fn func(field) error) error {
	v := reflect.ValueOf(target)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return fmt.Errorf("config target must be a non-nil pointer, got %T", target)
	}
	return walkValue(v, "", fn)
}

func walkValue(v reflect.Value, prefix string, fn func(field) error) error {
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			v.Set(reflect.New(v.Type().Elem()))
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil
	}

	t := v.Type()
	for i := range t.NumField() {
		fv, ft := v.Field(i), t.Field(i)
		if !fv.CanSet() {
			continue
		}

		name := strings.ToUpper(ft.Name)
		if prefix != "" {
			name = prefix + "_" + name
		}

		if fv.Kind() == reflect.Struct {
			if err := walkValue(fv, name, fn); err != nil {
				return err
			}
			continue
		}

		if tag := ft.Tag.Get("env"); tag != "" {
			name = tag
		}
		if err := fn(field{value: fv, info: ft, env: name}); err != nil {
			return err
		}
	}
	return nil
}

func (l *Loader) setDefaults(target any) error {
	return walk(target, func(f field) error {
		def, ok := f.info.Tag.Lookup("default")
		if !ok || def == "" {
			return nil
		}
		if err := parseInto(f.value, def); err != nil {
			return fmt.Errorf("default for %s: %w", f.info.Name, err)
		}
		return nil
	})
}

func (l *Loader) applyEnv(target any) error {
	var service string
	if l.config.ServiceName != "" {
		service = strings.ToUpper(l.config.ServiceName) + "_"
	}

	return walk(target, func(f field) error {
		names := []string{f.env}
		if service != "" {
			names = []string{service + f.env, f.env}
		}
		for _, name := range names {
			value, ok := os.LookupEnv(name)
			if !ok {
				continue
			}
			if err := parseInto(f.value, value); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			return nil
		}
		return nil
	})
}

// decodeYAMLFile decodes filename strictly: keys that do not map to a field
// are rejected instead of being silently dropped. A missing file is not an error.
func decodeYAMLFile(target any, filename string) error {
	data, err := os.ReadFile(filename)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", filename, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(target); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse %s: %w", filename, err)
	}
	return nil
}

// exportEnvironmentFile copies KEY=VALUE lines into the process environment.
// Variables already set in the environment are left alone.
func exportEnvironmentFile(filename string) error {
	f, err := os.Open(filename)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", filename, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for n := 1; scanner.Scan(); n++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(strings.TrimPrefix(line, "export "), "=")
		if !ok {
			return fmt.Errorf("%s:%d: expected KEY=VALUE", filename, n)
		}
		key = strings.TrimSpace(key)
		value = unquote(strings.TrimSpace(value))

		if _, set := os.LookupEnv(key); !set {
			os.Setenv(key, value)
		}
	}
	return scanner.Err()
}

func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

func parseInto(v reflect.Value, raw string) error {
	switch {
	case v.Type() == durationType:
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid duration %q", raw)
		}
		v.SetInt(int64(d))
	case v.Kind() == reflect.String:
		v.SetString(raw)
	case v.Kind() == reflect.Bool:
		switch strings.ToLower(raw) {
		case "true", "1", "yes", "on":
			v.SetBool(true)
		case "false", "0", "no", "off":
			v.SetBool(false)
		default:
			return fmt.Errorf("invalid boolean %q", raw)
		}
	case v.CanInt():
		n, err := strconv.ParseInt(raw, 10, v.Type().Bits())
		if err != nil {
			return fmt.Errorf("invalid integer %q", raw)
		}
		v.SetInt(n)
	default:
		return fmt.Errorf("unsupported field type %s", v.Type())
	}
	return nil
}

// FindConfigFile returns the first {service}.yaml found in the usual places
func FindConfigFile(serviceName string) string {
	name := serviceName + ".yaml"
	candidates := []string{
		name,
		filepath.Join("config", name),
		filepath.Join("/etc", serviceName, name),
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", serviceName, name))
	}
	return firstExisting(candidates)
}

// FindEnvironmentFile returns the first {service}.env found next to the process
func FindEnvironmentFile(serviceName string) string {
	name := serviceName + ".env"
	return firstExisting([]string{name, filepath.Join("config", name)})
}

func firstExisting(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
