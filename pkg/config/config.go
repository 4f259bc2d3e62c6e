// Package config loads declarative bucket definitions from YAML, for
// applications that prefer a manifest over building types.Definition
// values in code.
package config

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/bucketdb/bucketdb/pkg/durationstr"
	"github.com/bucketdb/bucketdb/pkg/types"
)

type manifest struct {
	Buckets []bucketSpec `yaml:"buckets"`
}

type bucketSpec struct {
	Name        string               `yaml:"name"`
	PrimaryKey  string               `yaml:"primaryKey"`
	Schema      map[string]fieldSpec `yaml:"schema"`
	Indexes     []string             `yaml:"indexes,omitempty"`
	TTL         string               `yaml:"ttl,omitempty"`
	MaxSize     int                  `yaml:"maxSize,omitempty"`
	Persistence *bool                `yaml:"persistence,omitempty"`
}

type fieldSpec struct {
	Type      string   `yaml:"type"`
	Required  bool     `yaml:"required,omitempty"`
	Default   any      `yaml:"default,omitempty"`
	Generated string   `yaml:"generated,omitempty"`
	Enum      []any    `yaml:"enum,omitempty"`
	Format    string   `yaml:"format,omitempty"`
	Min       *float64 `yaml:"min,omitempty"`
	Max       *float64 `yaml:"max,omitempty"`
	MinLength *int     `yaml:"minLength,omitempty"`
	MaxLength *int     `yaml:"maxLength,omitempty"`
	Pattern   string   `yaml:"pattern,omitempty"`
	Unique    bool     `yaml:"unique,omitempty"`
}

var validTypes = map[string]types.FieldType{
	"string":  types.FieldString,
	"number":  types.FieldNumber,
	"boolean": types.FieldBoolean,
	"object":  types.FieldObject,
	"array":   types.FieldArray,
	"date":    types.FieldDate,
}

var validGenerators = map[string]types.Generator{
	"uuid":          types.GenUUID,
	"cuid":          types.GenCUID,
	"autoincrement": types.GenAutoincrement,
	"timestamp":     types.GenTimestamp,
}

var validFormats = map[string]types.Format{
	"email":    types.FormatEmail,
	"url":      types.FormatURL,
	"iso-date": types.FormatISODate,
}

// LoadBuckets parses a YAML manifest into bucket definitions ready for
// Store.DefineBucket.
func LoadBuckets(r io.Reader) ([]types.Definition, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	defs := make([]types.Definition, 0, len(m.Buckets))
	for _, b := range m.Buckets {
		def, err := b.toDefinition()
		if err != nil {
			return nil, fmt.Errorf("bucket %q: %w", b.Name, err)
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func (b bucketSpec) toDefinition() (types.Definition, error) {
	if b.Name == "" {
		return types.Definition{}, fmt.Errorf("missing name")
	}
	if b.PrimaryKey == "" {
		return types.Definition{}, fmt.Errorf("missing primaryKey")
	}
	if len(b.Schema) == 0 {
		return types.Definition{}, fmt.Errorf("missing schema")
	}

	schema := make(map[string]types.FieldDef, len(b.Schema))
	for name, f := range b.Schema {
		fd, err := f.toFieldDef()
		if err != nil {
			return types.Definition{}, fmt.Errorf("field %q: %w", name, err)
		}
		schema[name] = fd
	}
	if _, ok := schema[b.PrimaryKey]; !ok {
		return types.Definition{}, fmt.Errorf("primaryKey %q is not a schema field", b.PrimaryKey)
	}
	for _, idx := range b.Indexes {
		if _, ok := schema[idx]; !ok {
			return types.Definition{}, fmt.Errorf("index field %q is not a schema field", idx)
		}
	}

	def := types.Definition{
		Name:             b.Name,
		PrimaryKey:       b.PrimaryKey,
		Schema:           schema,
		SecondaryIndexes: b.Indexes,
		MaxSize:          b.MaxSize,
	}
	if b.MaxSize < 0 {
		return types.Definition{}, fmt.Errorf("maxSize must be positive")
	}
	if b.TTL != "" {
		ms, err := durationstr.ParseMillis(b.TTL)
		if err != nil {
			return types.Definition{}, fmt.Errorf("ttl: %w", err)
		}
		def.TTL = ms
	}
	if b.Persistence != nil && !*b.Persistence {
		def.PersistenceOptOut = true
	}
	return def, nil
}

func (f fieldSpec) toFieldDef() (types.FieldDef, error) {
	t, ok := validTypes[f.Type]
	if !ok {
		return types.FieldDef{}, fmt.Errorf("unknown type %q", f.Type)
	}
	fd := types.FieldDef{
		Type:      t,
		Required:  f.Required,
		Default:   f.Default,
		Enum:      f.Enum,
		Min:       f.Min,
		Max:       f.Max,
		MinLength: f.MinLength,
		MaxLength: f.MaxLength,
		Pattern:   f.Pattern,
		Unique:    f.Unique,
	}
	if f.Generated != "" {
		g, ok := validGenerators[f.Generated]
		if !ok {
			return types.FieldDef{}, fmt.Errorf("unknown generator %q", f.Generated)
		}
		fd.Generated = g
	}
	if f.Format != "" {
		fm, ok := validFormats[f.Format]
		if !ok {
			return types.FieldDef{}, fmt.Errorf("unknown format %q", f.Format)
		}
		fd.Format = fm
	}
	return fd, nil
}
