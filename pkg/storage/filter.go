// SPDX-FileCopyrightText: Copyright 2026 Authgate Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"strings"
	"time"
)

// FilterOp enumerates the supported filter operators.
type FilterOp int

// Filter operators.
const (
	OpAll FilterOp = iota
	OpEq
	OpLt
	OpExists
	OpPrefix
	OpContainsFold
	OpAnd
	OpOr
)

// Filter is a typed, driver-independent query predicate. The zero value
// matches every document.
type Filter struct {
	Op    FilterOp
	Field string
	Value any
	Sub   []Filter
}

// All matches every document.
func All() Filter {
	return Filter{Op: OpAll}
}

// Eq matches documents whose field equals value. Dotted field paths are
// resolved into nested documents.
func Eq(field string, value any) Filter {
	return Filter{Op: OpEq, Field: field, Value: value}
}

// Lt matches documents whose field is strictly less than value. Supported
// for times and numbers.
func Lt(field string, value any) Filter {
	return Filter{Op: OpLt, Field: field, Value: value}
}

// Exists matches documents that carry the field.
func Exists(field string) Filter {
	return Filter{Op: OpExists, Field: field}
}

// Prefix matches documents whose string field starts with s.
func Prefix(field, s string) Filter {
	return Filter{Op: OpPrefix, Field: field, Value: s}
}

// ContainsFold matches documents whose string field contains s,
// case-insensitively.
func ContainsFold(field, s string) Filter {
	return Filter{Op: OpContainsFold, Field: field, Value: s}
}

// And matches documents satisfying every sub-filter.
func And(filters ...Filter) Filter {
	return Filter{Op: OpAnd, Sub: filters}
}

// Or matches documents satisfying at least one sub-filter.
func Or(filters ...Filter) Filter {
	return Filter{Op: OpOr, Sub: filters}
}

// Matches evaluates the filter against a document in Go. The memory and
// redis drivers evaluate filters this way; the mongo driver compiles them
// to native queries and uses this only as a fallback.
func (f Filter) Matches(doc Document) bool {
	switch f.Op {
	case OpAll:
		return true
	case OpEq:
		v, ok := doc.Lookup(f.Field)
		return ok && looseEqual(v, f.Value)
	case OpLt:
		v, ok := doc.Lookup(f.Field)
		if !ok {
			return false
		}
		return lessThan(v, f.Value)
	case OpExists:
		_, ok := doc.Lookup(f.Field)
		return ok
	case OpPrefix:
		v, ok := doc.Lookup(f.Field)
		s, sok := v.(string)
		want, wok := f.Value.(string)
		return ok && sok && wok && strings.HasPrefix(s, want)
	case OpContainsFold:
		v, ok := doc.Lookup(f.Field)
		s, sok := v.(string)
		want, wok := f.Value.(string)
		return ok && sok && wok && strings.Contains(strings.ToLower(s), strings.ToLower(want))
	case OpAnd:
		for _, sub := range f.Sub {
			if !sub.Matches(doc) {
				return false
			}
		}
		return true
	case OpOr:
		for _, sub := range f.Sub {
			if sub.Matches(doc) {
				return true
			}
		}
		return false
	}
	return false
}

// looseEqual compares values across the numeric and time representations the
// different drivers produce.
func looseEqual(a, b any) bool {
	if ta, tb := toTime(a), toTime(b); !ta.IsZero() || !tb.IsZero() {
		return ta.Equal(tb)
	}
	switch b.(type) {
	case int, int32, int64:
		return toInt64(a) == toInt64(b)
	case float32, float64:
		return Document{"a": a}.Float("a") == Document{"b": b}.Float("b")
	}
	return a == b
}

func lessThan(a, b any) bool {
	if tb, ok := b.(time.Time); ok {
		ta := toTime(a)
		return !ta.IsZero() && ta.Before(tb)
	}
	switch b.(type) {
	case int, int32, int64:
		return toInt64(a) < toInt64(b)
	case float32, float64:
		return Document{"a": a}.Float("a") < Document{"b": b}.Float("b")
	}
	return false
}
