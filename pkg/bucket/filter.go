package bucket

import (
	"github.com/bucketdb/bucketdb/pkg/index"
	"github.com/bucketdb/bucketdb/pkg/types"
)

// Filter selects records for Where/FindOne/Count. Eq builds a
// single-field-equality filter, which the bucket actor services from a
// secondary index when one is declared; Predicate builds
// an arbitrary filter that always falls back to a full scan.
type Filter struct {
	field string
	value any
	pred  func(*types.Record) bool
}

// Eq returns a filter matching records where field equals value.
func Eq(field string, value any) Filter {
	return Filter{field: field, value: value}
}

// Predicate returns a filter matching records for which pred is true.
func Predicate(pred func(*types.Record) bool) Filter {
	return Filter{pred: pred}
}

// Matches reports whether rec satisfies the filter.
func (f Filter) Matches(rec *types.Record) bool {
	if f.pred != nil {
		return f.pred(rec)
	}
	v, ok := rec.Fields[f.field]
	return ok && index.Equal(v, f.value)
}

// indexable reports whether f is a plain equality filter eligible for a
// secondary-index lookup.
func (f Filter) indexable() (field string, value any, ok bool) {
	if f.pred != nil {
		return "", nil, false
	}
	return f.field, f.value, true
}
