// SPDX-FileCopyrightText: Copyright 2026 Authgate Authors
// SPDX-License-Identifier: Apache-2.0

// Package storage defines the document storage port shared by all authgate
// services, together with its memory, mongo and redis drivers.
//
// Documents are schemaless maps with three reserved fields: "_id" (string
// identifier), "_v" (monotonic version counter) and "_c" (creation time).
// All mutations go through a versioned Upsertor; optimistic concurrency is
// the only mutual exclusion the port offers.
package storage

import (
	"context"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Reserved document fields.
const (
	FieldID       = "_id"
	FieldVersion  = "_v"
	FieldCreated  = "_c"
	FieldModified = "_m"
)

// Document is a stored record. Values are plain Go types; times may surface
// as time.Time, RFC 3339 strings or bson datetimes depending on the driver,
// so callers should use the typed accessors.
type Document map[string]any

// ID returns the document identifier.
func (d Document) ID() string {
	return d.String(FieldID)
}

// Version returns the document version counter.
func (d Document) Version() int64 {
	return d.Int64(FieldVersion)
}

// CreatedAt returns the document creation time.
func (d Document) CreatedAt() time.Time {
	return d.Time(FieldCreated)
}

// ModifiedAt returns the time of the last mutation. Falls back to the
// creation time for documents that have never been updated.
func (d Document) ModifiedAt() time.Time {
	if t := d.Time(FieldModified); !t.IsZero() {
		return t
	}
	return d.CreatedAt()
}

// String returns the value under key as a string, or "".
func (d Document) String(key string) string {
	if s, ok := d[key].(string); ok {
		return s
	}
	return ""
}

// Bool returns the value under key as a bool, or false.
func (d Document) Bool(key string) bool {
	if b, ok := d[key].(bool); ok {
		return b
	}
	return false
}

// Int64 returns the value under key as an int64, tolerating the numeric
// types produced by the JSON and BSON decoders.
func (d Document) Int64(key string) int64 {
	return toInt64(d[key])
}

// Float returns the value under key as a float64, or 0.
func (d Document) Float(key string) float64 {
	switch v := d[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

// Time returns the value under key as a time.Time, or the zero time.
func (d Document) Time(key string) time.Time {
	return toTime(d[key])
}

// StringSlice returns the value under key as a []string, tolerating the
// []any and bson.A shapes produced by the JSON and BSON decoders.
func (d Document) StringSlice(key string) []string {
	switch v := d[key].(type) {
	case []string:
		return v
	case []any:
		return stringElements(v)
	case bson.A:
		return stringElements(v)
	}
	return nil
}

func stringElements(v []any) []string {
	out := make([]string, 0, len(v))
	for _, e := range v {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Map returns the value under key as a nested document, or nil. The mongo
// driver decodes embedded documents into interface values as bson.D, so
// that shape is normalized here too.
func (d Document) Map(key string) Document {
	switch v := d[key].(type) {
	case Document:
		return v
	case map[string]any:
		return Document(v)
	case bson.M:
		return Document(v)
	case bson.D:
		out := make(Document, len(v))
		for _, e := range v {
			out[e.Key] = e.Value
		}
		return out
	}
	return nil
}

// Lookup resolves a dotted field path ("__registration.code") against the
// document. The second return is false when any path segment is missing.
func (d Document) Lookup(path string) (any, bool) {
	cur := d
	parts := strings.Split(path, ".")
	for i, p := range parts {
		if i == len(parts)-1 {
			v, ok := cur[p]
			return v, ok
		}
		cur = cur.Map(p)
		if cur == nil {
			return nil, false
		}
	}
	return nil, false
}

// AsTime normalizes a raw document value to a time.Time, tolerating the
// representations the different drivers produce.
func AsTime(v any) time.Time {
	return toTime(v)
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case float64:
		return int64(n)
	case float32:
		return int64(n)
	}
	return 0
}

func toTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}
		}
		return parsed
	case bson.DateTime:
		return t.Time()
	}
	return time.Time{}
}

// Sort orders an iteration by a single field.
type Sort struct {
	Field      string
	Descending bool
}

// Store is the storage port. Implementations must be safe for concurrent
// use; all blocking calls observe the context.
type Store interface {
	// Get loads a document by id. Returns a not-found error when absent.
	Get(ctx context.Context, collection, id string) (Document, error)

	// GetBy loads the first document whose field (dotted paths allowed)
	// equals value. Returns a not-found error when absent.
	GetBy(ctx context.Context, collection, field string, value any) (Document, error)

	// Delete removes a document by id. Deleting a missing document is not
	// an error; the second return reports whether a document was removed.
	Delete(ctx context.Context, collection, id string) (bool, error)

	// Count returns the number of documents matching the filter.
	Count(ctx context.Context, collection string, filter Filter) (int64, error)

	// Iterate returns the documents matching the filter in the given order,
	// skipping skip documents and returning at most limit (0 = no limit).
	Iterate(ctx context.Context, collection string, filter Filter, sort Sort, skip, limit int64) ([]Document, error)

	// Upsertor starts a mutation. An empty id mints a new identifier on
	// Execute. A zero version inserts; a non-zero version updates the
	// document only if its stored version still matches, failing with a
	// version conflict otherwise.
	Upsertor(collection, id string, version int64) Upsertor

	// Close releases driver resources.
	Close(ctx context.Context) error
}

// Upsertor is a builder for a single document write.
type Upsertor interface {
	// Set stores a value under key.
	Set(key string, value any) Upsertor

	// SetEncrypted stores a value encrypted at rest. Requires the driver to
	// be constructed with a field cipher.
	SetEncrypted(key string, value []byte) Upsertor

	// Unset removes the key from the document.
	Unset(key string) Upsertor

	// Execute performs the write and returns the document id. Duplicate
	// primary keys and unique index violations surface as conflict errors
	// carrying the offending field and value; stale versions surface as
	// version conflicts.
	Execute(ctx context.Context) (string, error)
}

// Indexes declares the uniquely indexed fields per collection. Drivers
// enforce uniqueness on writes and surface violations as conflicts.
type Indexes map[string][]string
