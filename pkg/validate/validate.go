// Package validate implements the schema validator: a
// stateless transform from caller input to a prepared record, or a typed
// ValidationError. It never touches indexes or uniqueness — that is the
// bucket actor's job against the index manager.
package validate

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math"
	"net/mail"
	"net/url"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/bucketdb/bucketdb/pkg/storeerr"
	"github.com/bucketdb/bucketdb/pkg/types"
)

// NowMillis returns the current time as Unix milliseconds.
func NowMillis() int64 { return time.Now().UnixMilli() }

// PrepareInsert validates caller-supplied data against the bucket's schema
// and fills defaults, generated values, and metadata. autoincrementNext is
// the tentative value the schema validator reserves for an autoincrement
// primary key (the bucket actor commits it only after the insert succeeds).
func PrepareInsert(def types.Definition, data map[string]any, autoincrementNext int64, now int64) (*types.Record, error) {
	out := make(map[string]any, len(def.Schema))

	for field := range data {
		if field == "expires_at" {
			continue
		}
		if _, declared := def.Schema[field]; !declared && field != def.PrimaryKey {
			return nil, &storeerr.ValidationError{Field: field, Reason: "unknown field"}
		}
	}

	for name, f := range def.Schema {
		value, present := data[name]
		if !present {
			generated, ok, err := generate(f, name, autoincrementNext, now)
			if err != nil {
				return nil, err
			}
			if ok {
				value, present = generated, true
			} else if f.Default != nil {
				value, present = f.Default, true
			}
		}

		if !present {
			if f.Required {
				return nil, &storeerr.ValidationError{Field: name, Reason: "required field missing"}
			}
			continue
		}

		if err := checkConstraints(name, f, value); err != nil {
			return nil, err
		}
		out[name] = value
	}

	if pk, ok := data[def.PrimaryKey]; ok {
		out[def.PrimaryKey] = pk
	}

	rec := &types.Record{
		Fields:    out,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if exp, ok := data["expires_at"]; ok {
		ms, err := asInt64(exp)
		if err != nil {
			return nil, &storeerr.ValidationError{Field: "expires_at", Reason: "must be a number"}
		}
		rec.ExpiresAt = &ms
	} else if def.TTL > 0 {
		exp := now + def.TTL
		rec.ExpiresAt = &exp
	}

	if rec.ExpiresAt != nil && *rec.ExpiresAt <= rec.CreatedAt {
		return nil, &storeerr.ValidationError{Field: "expires_at", Reason: "must be greater than created_at"}
	}

	return rec, nil
}

// PrepareUpdate validates a change set against an existing record and
// produces the new record. The primary key, created_at and version fields
// may never be changed directly by the caller.
func PrepareUpdate(def types.Definition, existing *types.Record, changes map[string]any, now int64) (*types.Record, error) {
	if _, ok := changes[def.PrimaryKey]; ok {
		return nil, &storeerr.ValidationError{Field: def.PrimaryKey, Reason: "primary key is immutable"}
	}
	if _, ok := changes["created_at"]; ok {
		return nil, &storeerr.ValidationError{Field: "created_at", Reason: "created_at is immutable"}
	}
	if _, ok := changes["version"]; ok {
		return nil, &storeerr.ValidationError{Field: "version", Reason: "version is immutable"}
	}

	for field := range changes {
		if field == "expires_at" {
			continue
		}
		if _, declared := def.Schema[field]; !declared {
			return nil, &storeerr.ValidationError{Field: field, Reason: "unknown field"}
		}
	}

	next := existing.Clone()
	for name, value := range changes {
		if name == "expires_at" {
			continue
		}
		f := def.Schema[name]
		if err := checkConstraints(name, f, value); err != nil {
			return nil, err
		}
		next.Fields[name] = value
	}

	next.Version = existing.Version + 1
	next.UpdatedAt = now
	next.CreatedAt = existing.CreatedAt

	if exp, ok := changes["expires_at"]; ok {
		ms, err := asInt64(exp)
		if err != nil {
			return nil, &storeerr.ValidationError{Field: "expires_at", Reason: "must be a number"}
		}
		next.ExpiresAt = &ms
	}

	if next.ExpiresAt != nil && *next.ExpiresAt <= next.CreatedAt {
		return nil, &storeerr.ValidationError{Field: "expires_at", Reason: "must be greater than created_at"}
	}

	return next, nil
}

func generate(f types.FieldDef, name string, autoincrementNext int64, now int64) (any, bool, error) {
	switch f.Generated {
	case types.GenUUID:
		return uuid.NewString(), true, nil
	case types.GenCUID:
		return generateCUID(now), true, nil
	case types.GenAutoincrement:
		return autoincrementNext, true, nil
	case types.GenTimestamp:
		return now, true, nil
	case "":
		return nil, false, nil
	default:
		return nil, false, &storeerr.ValidationError{Field: name, Reason: fmt.Sprintf("unknown generator %q", f.Generated)}
	}
}

// generateCUID produces a collision-resistant identifier in the spirit
// of a cuid: a timestamp prefix plus a random suffix.
func generateCUID(now int64) string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return fmt.Sprintf("c%x%s", now, hex.EncodeToString(buf))
}

func checkConstraints(name string, f types.FieldDef, value any) error {
	if err := checkType(name, f.Type, value); err != nil {
		return err
	}
	if len(f.Enum) > 0 && !enumContains(f.Enum, value) {
		return &storeerr.ValidationError{Field: name, Reason: "value not in enum"}
	}
	if f.Format != "" {
		if err := checkFormat(name, f.Format, value); err != nil {
			return err
		}
	}
	if f.Min != nil || f.Max != nil {
		if err := checkNumericRange(name, f, value); err != nil {
			return err
		}
	}
	if f.MinLength != nil || f.MaxLength != nil || f.Pattern != "" {
		if err := checkStringConstraints(name, f, value); err != nil {
			return err
		}
	}
	return nil
}

func checkType(name string, t types.FieldType, value any) error {
	if t == "" {
		return nil
	}
	ok := false
	switch t {
	case types.FieldString:
		_, ok = value.(string)
	case types.FieldNumber:
		switch value.(type) {
		case int, int64, float64, float32:
			ok = true
		}
	case types.FieldBoolean:
		_, ok = value.(bool)
	case types.FieldObject:
		_, ok = value.(map[string]any)
	case types.FieldArray:
		_, isSlice := value.([]any)
		ok = isSlice
	case types.FieldDate:
		switch value.(type) {
		case time.Time, int64, int, float64:
			ok = true
		}
	default:
		return &storeerr.ValidationError{Field: name, Reason: fmt.Sprintf("unknown type %q", t)}
	}
	if !ok {
		return &storeerr.ValidationError{Field: name, Reason: fmt.Sprintf("expected type %s", t)}
	}
	return nil
}

func enumContains(enum []any, value any) bool {
	for _, e := range enum {
		if e == value {
			return true
		}
	}
	return false
}

func checkFormat(name string, format types.Format, value any) error {
	s, ok := value.(string)
	if !ok {
		return &storeerr.ValidationError{Field: name, Reason: "format constraint requires a string"}
	}
	switch format {
	case types.FormatEmail:
		if _, err := mail.ParseAddress(s); err != nil {
			return &storeerr.ValidationError{Field: name, Reason: "invalid email"}
		}
	case types.FormatURL:
		u, err := url.ParseRequestURI(s)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return &storeerr.ValidationError{Field: name, Reason: "invalid url"}
		}
	case types.FormatISODate:
		if _, err := time.Parse(time.RFC3339, s); err != nil {
			return &storeerr.ValidationError{Field: name, Reason: "invalid iso-date"}
		}
	default:
		return &storeerr.ValidationError{Field: name, Reason: fmt.Sprintf("unknown format %q", format)}
	}
	return nil
}

func checkNumericRange(name string, f types.FieldDef, value any) error {
	n, err := asFloat64(value)
	if err != nil {
		return &storeerr.ValidationError{Field: name, Reason: "min/max constraint requires a number"}
	}
	if f.Min != nil && n < *f.Min {
		return &storeerr.ValidationError{Field: name, Reason: fmt.Sprintf("value %v below minimum %v", n, *f.Min)}
	}
	if f.Max != nil && n > *f.Max {
		return &storeerr.ValidationError{Field: name, Reason: fmt.Sprintf("value %v above maximum %v", n, *f.Max)}
	}
	return nil
}

func checkStringConstraints(name string, f types.FieldDef, value any) error {
	s, ok := value.(string)
	if !ok {
		return &storeerr.ValidationError{Field: name, Reason: "length/pattern constraint requires a string"}
	}
	if f.MinLength != nil && len(s) < *f.MinLength {
		return &storeerr.ValidationError{Field: name, Reason: "shorter than minLength"}
	}
	if f.MaxLength != nil && len(s) > *f.MaxLength {
		return &storeerr.ValidationError{Field: name, Reason: "longer than maxLength"}
	}
	if f.Pattern != "" {
		re, err := regexp.Compile(f.Pattern)
		if err != nil {
			return &storeerr.ValidationError{Field: name, Reason: fmt.Sprintf("invalid pattern %q", f.Pattern)}
		}
		if !re.MatchString(s) {
			return &storeerr.ValidationError{Field: name, Reason: "does not match pattern"}
		}
	}
	return nil
}

func asFloat64(value any) (float64, error) {
	switch v := value.(type) {
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case float32:
		return float64(v), nil
	case float64:
		return v, nil
	default:
		return 0, fmt.Errorf("not a number")
	}
}

func asInt64(value any) (int64, error) {
	f, err := asFloat64(value)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("non-finite")
	}
	return int64(f), nil
}
