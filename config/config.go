/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/suparena/entityrepo/errors"
	"github.com/suparena/entityrepo/storagemodels"
)

// DefaultConfigurationName is used when a file declares a single configuration
// without naming a default.
const DefaultConfigurationName = "default"

// Config lists the named database configurations a process can bind to.
type Config struct {
	Default        string                    `yaml:"default"`
	Configurations map[string]DatabaseConfig `yaml:"configurations"`
}

// DatabaseConfig describes one DynamoDB endpoint and the defaults of its collections.
type DatabaseConfig struct {
	Endpoint  string `yaml:"endpoint"` // optional, e.g. DynamoDB Local
	Region    string `yaml:"region"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	// Database prefixes every table name. It may contain {part}, replaced by
	// the DatabasePart of a DatabaseContext.
	Database string `yaml:"database"`

	ResultLimit          int  `yaml:"resultLimit"`
	AutoClean            bool `yaml:"autoClean"`
	CleanOnStartup       bool `yaml:"cleanOnStartup"`
	DropEmptyCollections bool `yaml:"dropEmptyCollections"`

	Collections map[string]CollectionOverride `yaml:"collections"`
}

// CollectionOverride replaces individual settings for one collection.
type CollectionOverride struct {
	ResultLimit          *int  `yaml:"resultLimit"`
	AutoClean            *bool `yaml:"autoClean"`
	CleanOnStartup       *bool `yaml:"cleanOnStartup"`
	DropEmptyCollections *bool `yaml:"dropEmptyCollections"`
}

// Settings is the resolved configuration of one collection instance.
type Settings struct {
	Configuration string
	Endpoint      string
	Region        string
	AccessKey     string
	SecretKey     string
	Database      string
	Collection    string

	ResultLimit          int // 0 means unlimited
	AutoClean            bool
	CleanOnStartup       bool
	DropEmptyCollections bool
}

// Table is the physical table name: database and collection joined by a dot.
func (s Settings) Table() string {
	if s.Database == "" {
		return s.Collection
	}
	return s.Database + "." + s.Collection
}

// Load reads a YAML configuration file. Variables from a .env file in the
// working directory are loaded first, and ${VAR} references in the file are
// expanded from the environment.
func Load(path string) (*Config, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes configuration YAML after environment expansion.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Default == "" && len(c.Configurations) == 1 {
		for name := range c.Configurations {
			c.Default = name
		}
	}
	if c.Default == "" {
		c.Default = DefaultConfigurationName
	}
}

// Validate checks that the default configuration exists and every
// configuration is usable.
func (c *Config) Validate() error {
	if _, ok := c.Configurations[c.Default]; !ok {
		return errors.NewValidationError("default", fmt.Sprintf("configuration %q is not defined", c.Default))
	}
	for _, name := range c.Names() {
		db := c.Configurations[name]
		if db.Region == "" && db.Endpoint == "" {
			return errors.NewValidationError(name+".region", "region or endpoint is required")
		}
		if db.ResultLimit < 0 {
			return errors.NewValidationError(name+".resultLimit", "must not be negative")
		}
		for coll, o := range db.Collections {
			if o.ResultLimit != nil && *o.ResultLimit < 0 {
				return errors.NewValidationError(name+".collections."+coll+".resultLimit", "must not be negative")
			}
		}
	}
	return nil
}

// Names lists the configuration names in sorted order.
func (c *Config) Names() []string {
	names := make([]string, 0, len(c.Configurations))
	for name := range c.Configurations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

const partMacro = "{part}"

// Resolve computes the settings of a collection bound through dc. typeName
// names the collection when dc does not.
func (c *Config) Resolve(dc storagemodels.DatabaseContext, typeName string) (Settings, error) {
	name := dc.ConfigurationName
	if name == "" {
		name = c.Default
	}
	db, ok := c.Configurations[name]
	if !ok {
		return Settings{}, errors.NewNotFoundError("configuration", name)
	}

	collection := dc.CollectionName
	if collection == "" {
		collection = typeName
	}
	if collection == "" {
		return Settings{}, errors.NewValidationError("collection", "collection name is required")
	}

	s := Settings{
		Configuration:        name,
		Endpoint:             db.Endpoint,
		Region:               db.Region,
		AccessKey:            db.AccessKey,
		SecretKey:            db.SecretKey,
		Database:             expandDatabase(db.Database, dc.DatabasePart),
		Collection:           collection,
		ResultLimit:          db.ResultLimit,
		AutoClean:            db.AutoClean,
		CleanOnStartup:       db.CleanOnStartup,
		DropEmptyCollections: db.DropEmptyCollections,
	}

	if o, ok := db.Collections[collection]; ok {
		if o.ResultLimit != nil {
			s.ResultLimit = *o.ResultLimit
		}
		if o.AutoClean != nil {
			s.AutoClean = *o.AutoClean
		}
		if o.CleanOnStartup != nil {
			s.CleanOnStartup = *o.CleanOnStartup
		}
		if o.DropEmptyCollections != nil {
			s.DropEmptyCollections = *o.DropEmptyCollections
		}
	}
	return s, nil
}

// expandDatabase substitutes {part}. A template without the macro gets the
// part appended after an underscore; an empty part drops the macro together
// with the separators around it.
func expandDatabase(template, part string) string {
	if !strings.Contains(template, partMacro) {
		if part == "" || template == "" {
			return template + part
		}
		return template + "_" + part
	}
	expanded := strings.ReplaceAll(template, partMacro, part)
	if part == "" {
		expanded = strings.Trim(expanded, "_-.")
	}
	return expanded
}
