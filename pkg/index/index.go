// Package index implements the index manager: secondary
// value->keys indexes and unique value->key indexes for one bucket.
// Nothing here is concurrency-safe on its own; the owning bucket actor
// serializes all access.
package index

import (
	"fmt"
	"math"
	"strconv"

	"github.com/bucketdb/bucketdb/pkg/storeerr"
	"github.com/bucketdb/bucketdb/pkg/types"
)

// Manager owns the secondary and unique indexes for one bucket.
type Manager struct {
	secondaryFields []string
	uniqueFields    []string
	secondary       map[string]map[string]map[string]struct{} // field -> valueKey -> set(pk)
	unique          map[string]map[string]string              // field -> valueKey -> pk
}

// New creates an index manager for the given secondary and unique fields.
// A field that is both secondary- and unique-indexed is tracked in both
// maps independently.
func New(secondaryFields, uniqueFields []string) *Manager {
	m := &Manager{
		secondaryFields: secondaryFields,
		uniqueFields:    uniqueFields,
		secondary:       make(map[string]map[string]map[string]struct{}, len(secondaryFields)),
		unique:          make(map[string]map[string]string, len(uniqueFields)),
	}
	for _, f := range secondaryFields {
		m.secondary[f] = make(map[string]map[string]struct{})
	}
	for _, f := range uniqueFields {
		m.unique[f] = make(map[string]string)
	}
	return m
}

// AddRecord indexes one record under key. On a unique-constraint failure no
// index state is mutated: uniqueness is validated for every unique field
// before anything is written.
func (m *Manager) AddRecord(key string, rec *types.Record) error {
	for _, f := range m.uniqueFields {
		v, ok := rec.Fields[f]
		if !ok {
			continue
		}
		vk := canonicalKey(v)
		if existing, exists := m.unique[f][vk]; exists && existing != key {
			return &storeerr.UniqueConstraintError{Field: f, Value: v}
		}
	}

	for _, f := range m.secondaryFields {
		v, ok := rec.Fields[f]
		if !ok {
			continue
		}
		vk := canonicalKey(v)
		bucket, ok := m.secondary[f][vk]
		if !ok {
			bucket = make(map[string]struct{})
			m.secondary[f][vk] = bucket
		}
		bucket[key] = struct{}{}
	}

	for _, f := range m.uniqueFields {
		v, ok := rec.Fields[f]
		if !ok {
			continue
		}
		m.unique[f][canonicalKey(v)] = key
	}

	return nil
}

// RemoveRecord removes key from every index entry it appears under,
// dropping empty secondary buckets and unique entries.
func (m *Manager) RemoveRecord(key string, rec *types.Record) {
	for _, f := range m.secondaryFields {
		v, ok := rec.Fields[f]
		if !ok {
			continue
		}
		vk := canonicalKey(v)
		bucket := m.secondary[f][vk]
		if bucket == nil {
			continue
		}
		delete(bucket, key)
		if len(bucket) == 0 {
			delete(m.secondary[f], vk)
		}
	}

	for _, f := range m.uniqueFields {
		v, ok := rec.Fields[f]
		if !ok {
			continue
		}
		vk := canonicalKey(v)
		if cur, exists := m.unique[f][vk]; exists && cur == key {
			delete(m.unique[f], vk)
		}
	}
}

// UpdateRecord transitions the index from old to new for key, treating a
// field whose value is unchanged as a no-op so re-asserting the same
// unique value never conflicts with itself.
// Uniqueness for every changed unique field is validated before any index
// mutation, so a failure leaves the old state untouched.
func (m *Manager) UpdateRecord(key string, old, new *types.Record) error {
	for _, f := range m.uniqueFields {
		oldV, oldOK := old.Fields[f]
		newV, newOK := new.Fields[f]
		if sameField(oldOK, oldV, newOK, newV) {
			continue
		}
		if !newOK {
			continue
		}
		vk := canonicalKey(newV)
		if existing, exists := m.unique[f][vk]; exists && existing != key {
			return &storeerr.UniqueConstraintError{Field: f, Value: newV}
		}
	}

	for _, f := range m.secondaryFields {
		oldV, oldOK := old.Fields[f]
		newV, newOK := new.Fields[f]
		if sameField(oldOK, oldV, newOK, newV) {
			continue
		}
		if oldOK {
			vk := canonicalKey(oldV)
			if bucket := m.secondary[f][vk]; bucket != nil {
				delete(bucket, key)
				if len(bucket) == 0 {
					delete(m.secondary[f], vk)
				}
			}
		}
		if newOK {
			vk := canonicalKey(newV)
			bucket, ok := m.secondary[f][vk]
			if !ok {
				bucket = make(map[string]struct{})
				m.secondary[f][vk] = bucket
			}
			bucket[key] = struct{}{}
		}
	}

	for _, f := range m.uniqueFields {
		oldV, oldOK := old.Fields[f]
		newV, newOK := new.Fields[f]
		if sameField(oldOK, oldV, newOK, newV) {
			continue
		}
		if oldOK {
			vk := canonicalKey(oldV)
			if cur, exists := m.unique[f][vk]; exists && cur == key {
				delete(m.unique[f], vk)
			}
		}
		if newOK {
			m.unique[f][canonicalKey(newV)] = key
		}
	}

	return nil
}

// Lookup returns the set of primary keys indexed under field=value for a
// secondary index, or absent as an empty set.
func (m *Manager) Lookup(field string, value any) []string {
	bucket, ok := m.secondary[field]
	if !ok {
		return nil
	}
	set := bucket[canonicalKey(value)]
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}

// LookupUnique returns the single key indexed under field=value, if any.
func (m *Manager) LookupUnique(field string, value any) (string, bool) {
	bucket, ok := m.unique[field]
	if !ok {
		return "", false
	}
	key, exists := bucket[canonicalKey(value)]
	return key, exists
}

// Equal reports whether a and b are the same index value under the
// canonicalization this package uses (value identity for strings and
// numbers, NaN-equals-NaN). Exposed so callers outside this package can
// apply the same equality when deciding whether a field value changed.
func Equal(a, b any) bool {
	return canonicalKey(a) == canonicalKey(b)
}

// HasSecondaryIndex reports whether field is a declared secondary index.
func (m *Manager) HasSecondaryIndex(field string) bool {
	_, ok := m.secondary[field]
	return ok
}

// Rebuild clears all indexes and re-adds every given record in order.
func (m *Manager) Rebuild(entries []types.RecordEntry) error {
	for _, f := range m.secondaryFields {
		m.secondary[f] = make(map[string]map[string]struct{})
	}
	for _, f := range m.uniqueFields {
		m.unique[f] = make(map[string]string)
	}
	for _, e := range entries {
		if err := m.AddRecord(e.Key, e.Record); err != nil {
			return err
		}
	}
	return nil
}

func sameField(oldOK bool, oldV any, newOK bool, newV any) bool {
	if oldOK != newOK {
		return false
	}
	if !oldOK {
		return true
	}
	return canonicalKey(oldV) == canonicalKey(newV)
}

// canonicalKey normalizes a value for use as an index map key so that
// equality matches the query engine's deep-equality contract for
// primitives: value identity for strings and numbers, NaN-equals-NaN.
// Go's native map-key equality would treat two NaNs as distinct, which
// is why index values are canonicalized to strings instead of used as
// map keys directly.
func canonicalKey(v any) string {
	switch t := v.(type) {
	case string:
		return "s:" + t
	case bool:
		return "b:" + strconv.FormatBool(t)
	case int:
		return "n:" + strconv.FormatInt(int64(t), 10)
	case int64:
		return "n:" + strconv.FormatInt(t, 10)
	case float64:
		if math.IsNaN(t) {
			return "n:NaN"
		}
		return "n:" + strconv.FormatFloat(t, 'g', -1, 64)
	case float32:
		return canonicalKey(float64(t))
	case nil:
		return "null"
	default:
		return fmt.Sprintf("x:%v", t)
	}
}
