// SPDX-FileCopyrightText: Copyright 2026 Authgate Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"fmt"
	"sort"

	"github.com/authgate/authgate/pkg/crypto"
	"github.com/authgate/authgate/pkg/errors"
)

// mutation accumulates the Set/Unset calls of an Upsertor before a driver
// executes them. Encrypted values are enciphered lazily at Execute time so
// that builder calls stay infallible.
type mutation struct {
	collection string
	id         string
	version    int64
	sets       map[string]any
	encrypted  map[string][]byte
	unsets     []string
}

func newMutation(collection, id string, version int64) *mutation {
	return &mutation{
		collection: collection,
		id:         id,
		version:    version,
		sets:       make(map[string]any),
		encrypted:  make(map[string][]byte),
	}
}

func (m *mutation) set(key string, value any) {
	m.sets[key] = value
}

func (m *mutation) setEncrypted(key string, value []byte) {
	m.encrypted[key] = value
}

func (m *mutation) unset(key string) {
	m.unsets = append(m.unsets, key)
}

// resolve merges the encrypted fields into the plain sets using the given
// cipher and returns the full set map.
func (m *mutation) resolve(cipher *crypto.FieldCipher) (map[string]any, error) {
	if len(m.encrypted) > 0 && cipher == nil {
		return nil, errors.NewInternalError(
			fmt.Sprintf("encrypt-on-set requested on collection %q but the store has no field cipher", m.collection), nil)
	}
	out := make(map[string]any, len(m.sets)+len(m.encrypted))
	for k, v := range m.sets {
		out[k] = v
	}
	// Deterministic encryption keeps equality lookups on encrypted fields
	// exact: the query path re-encrypts the probe value and compares
	// ciphertexts.
	for k, v := range m.encrypted {
		enc, err := cipher.EncryptDeterministic(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt field %q: %w", k, err)
		}
		out[k] = enc
	}
	return out, nil
}

// cloneValue deep-copies a stored value so that callers never alias driver
// memory.
func cloneValue(v any) any {
	switch t := v.(type) {
	case Document:
		return cloneDocument(t)
	case map[string]any:
		return map[string]any(cloneDocument(t))
	case []string:
		out := make([]string, len(t))
		copy(out, t)
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

func cloneDocument(d Document) Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

// compareField orders two documents by a field for Iterate sorting.
func compareField(a, b Document, field string) int {
	av, _ := a.Lookup(field)
	bv, _ := b.Lookup(field)
	if at, bt := toTime(av), toTime(bv); !at.IsZero() || !bt.IsZero() {
		switch {
		case at.Before(bt):
			return -1
		case at.After(bt):
			return 1
		default:
			return 0
		}
	}
	if as, ok := av.(string); ok {
		bs, _ := bv.(string)
		switch {
		case as < bs:
			return -1
		case as > bs:
			return 1
		default:
			return 0
		}
	}
	ai, bi := toInt64(av), toInt64(bv)
	switch {
	case ai < bi:
		return -1
	case ai > bi:
		return 1
	default:
		return 0
	}
}

// sortAndPage applies the sort order and skip/limit paging shared by the
// memory and redis drivers.
func sortAndPage(docs []Document, s Sort, skip, limit int64) []Document {
	if s.Field != "" {
		sort.SliceStable(docs, func(i, j int) bool {
			c := compareField(docs[i], docs[j], s.Field)
			if s.Descending {
				return c > 0
			}
			return c < 0
		})
	}
	if skip > 0 {
		if skip >= int64(len(docs)) {
			return nil
		}
		docs = docs[skip:]
	}
	if limit > 0 && int64(len(docs)) > limit {
		docs = docs[:limit]
	}
	return docs
}
