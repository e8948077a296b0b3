// Package config loads bridge settings from TOML or YAML files.
package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"

	"github.com/wippyai/carrica/errors"
)

// Loader presets accepted by LoaderPreset.
const (
	PresetFilesystem = "os.filesystem"
	PresetFS         = "io.fs"
	PresetSQL        = "sql"
)

const (
	DefaultInitialSlots = 8
	DefaultModuleName   = "main"
	DefaultLoaderExt    = ".wren"
	DefaultHostName     = "carrica"
)

// validate is shared by every Validate call.
var validate = validator.New()

// Config holds the settings of a Runtime.
type Config struct {
	// Debug enables debug emission.
	Debug bool `toml:"debug" yaml:"debug" json:"debug,omitempty"`

	// InitialSlots is the VM registry capacity before the first growth.
	InitialSlots int `toml:"initial_slots" yaml:"initial_slots" json:"initial_slots,omitempty" validate:"min=1,max=65536" jsonschema:"minimum=1,maximum=65536,default=8"`

	// DefaultModule is the module Interpret runs code in when none is given.
	DefaultModule string `toml:"default_module" yaml:"default_module" json:"default_module,omitempty" validate:"required" jsonschema:"default=main"`

	// HostName is returned by the guest's Host.name.
	HostName string `toml:"host_name" yaml:"host_name" json:"host_name,omitempty" validate:"required" jsonschema:"default=carrica"`

	// LoaderPreset is installed on every new VM instance.
	LoaderPreset string `toml:"loader_preset" yaml:"loader_preset" json:"loader_preset,omitempty" validate:"omitempty,oneof=os.filesystem io.fs sql" jsonschema:"enum=os.filesystem,enum=io.fs,enum=sql"`

	// LoaderRoot is the directory the os.filesystem preset reads from.
	LoaderRoot string `toml:"loader_root" yaml:"loader_root" json:"loader_root,omitempty"`

	// LoaderExt is appended to module paths by the file based presets.
	LoaderExt string `toml:"loader_ext" yaml:"loader_ext" json:"loader_ext,omitempty" validate:"required" jsonschema:"default=.wren"`

	// ModuleStore is the sqlite database the sql preset reads from.
	ModuleStore string `toml:"module_store" yaml:"module_store" json:"module_store,omitempty" validate:"required_if=LoaderPreset sql"`

	// Modules are installed into the shared module table at startup.
	Modules []ModuleSpec `toml:"modules" yaml:"modules" json:"modules,omitempty" validate:"dive"`
}

// ModuleSpec is a shared source module. File is read at load time,
// relative to the configuration file.
type ModuleSpec struct {
	Name   string `toml:"name" yaml:"name" json:"name" validate:"required"`
	Source string `toml:"source" yaml:"source" json:"source,omitempty" validate:"required_without=File"`
	File   string `toml:"file" yaml:"file" json:"file,omitempty"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.InitialSlots == 0 {
		c.InitialSlots = DefaultInitialSlots
	}
	if c.DefaultModule == "" {
		c.DefaultModule = DefaultModuleName
	}
	if c.HostName == "" {
		c.HostName = DefaultHostName
	}
	if c.LoaderExt == "" {
		c.LoaderExt = DefaultLoaderExt
	}
}

// Validate checks the configuration against its struct tags.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Category(errors.CategoryConfiguration).
			Cause(err).
			Detail("invalid configuration").
			Build()
	}
	return nil
}

// Load reads a configuration file. The format follows the extension:
// .toml, .yaml or .yml.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindNotFound, err, "read "+path)
	}
	c, err := Decode(data, filepath.Ext(path))
	if err != nil {
		return nil, err
	}
	if err := c.readModuleFiles(filepath.Dir(path)); err != nil {
		return nil, err
	}
	return c, nil
}

// Decode parses data in the given format (an extension with or without the
// leading dot), applies defaults and validates the result. Module files are
// not read.
func Decode(data []byte, format string) (*Config, error) {
	var c Config
	switch strings.TrimPrefix(strings.ToLower(format), ".") {
	case "toml":
		if _, err := toml.NewDecoder(bytes.NewReader(data)).Decode(&c); err != nil {
			return nil, errors.ParseFailed("toml configuration", err)
		}
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, &c); err != nil {
			return nil, errors.ParseFailed("yaml configuration", err)
		}
	default:
		return nil, errors.Config(errors.PhaseConfig, errors.KindUnsupported, "unknown configuration format "+format)
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) readModuleFiles(dir string) error {
	for i := range c.Modules {
		m := &c.Modules[i]
		if m.Source != "" || m.File == "" {
			continue
		}
		path := m.File
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return errors.Wrap(errors.PhaseConfig, errors.KindNotFound, err, "read module "+m.Name)
		}
		m.Source = string(data)
	}
	return nil
}

// Schema returns the JSON Schema of Config.
func Schema() ([]byte, error) {
	r := jsonschema.Reflector{ExpandedStruct: true}
	s := r.Reflect(&Config{})
	return json.MarshalIndent(s, "", "  ")
}
