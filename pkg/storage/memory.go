// SPDX-FileCopyrightText: Copyright 2026 Authgate Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/authgate/authgate/pkg/crypto"
	"github.com/authgate/authgate/pkg/errors"
)

// MemoryStore implements the Store interface with in-memory maps. It is
// thread-safe and suitable for development and testing; production
// deployments use the mongo or redis drivers.
type MemoryStore struct {
	mu sync.RWMutex

	// collections maps collection name -> id -> document.
	collections map[string]map[string]Document

	cipher  *crypto.FieldCipher
	indexes Indexes
}

// MemoryStoreOption configures a MemoryStore instance.
type MemoryStoreOption func(*MemoryStore)

// WithMemoryFieldCipher sets the cipher used for encrypt-on-set fields.
func WithMemoryFieldCipher(cipher *crypto.FieldCipher) MemoryStoreOption {
	return func(s *MemoryStore) {
		s.cipher = cipher
	}
}

// WithMemoryIndexes declares the unique indexes enforced on writes.
func WithMemoryIndexes(indexes Indexes) MemoryStoreOption {
	return func(s *MemoryStore) {
		s.indexes = indexes
	}
}

// NewMemoryStore creates a new MemoryStore instance with initialized maps.
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		collections: make(map[string]map[string]Document),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get loads a document by id.
func (s *MemoryStore) Get(_ context.Context, collection, id string) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.collections[collection][id]
	if !ok {
		return nil, errors.NewNotFoundError(fmt.Sprintf("document %q not found in %q", id, collection), nil)
	}
	return cloneDocument(doc), nil
}

// GetBy loads the first document whose field equals value.
func (s *MemoryStore) GetBy(_ context.Context, collection, field string, value any) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, doc := range s.collections[collection] {
		if v, ok := doc.Lookup(field); ok && looseEqual(v, value) {
			return cloneDocument(doc), nil
		}
	}
	return nil, errors.NewNotFoundError(fmt.Sprintf("no document in %q with %s matching", collection, field), nil)
}

// Delete removes a document by id.
func (s *MemoryStore) Delete(_ context.Context, collection, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	coll, ok := s.collections[collection]
	if !ok {
		return false, nil
	}
	if _, ok := coll[id]; !ok {
		return false, nil
	}
	delete(coll, id)
	return true, nil
}

// Count returns the number of documents matching the filter.
func (s *MemoryStore) Count(_ context.Context, collection string, filter Filter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, doc := range s.collections[collection] {
		if filter.Matches(doc) {
			n++
		}
	}
	return n, nil
}

// Iterate returns the documents matching the filter.
func (s *MemoryStore) Iterate(
	_ context.Context, collection string, filter Filter, sort Sort, skip, limit int64,
) ([]Document, error) {
	s.mu.RLock()
	var docs []Document
	for _, doc := range s.collections[collection] {
		if filter.Matches(doc) {
			docs = append(docs, cloneDocument(doc))
		}
	}
	s.mu.RUnlock()

	return sortAndPage(docs, sort, skip, limit), nil
}

// Upsertor starts a mutation on the collection.
func (s *MemoryStore) Upsertor(collection, id string, version int64) Upsertor {
	return &memoryUpsertor{store: s, mutation: newMutation(collection, id, version)}
}

// Close is a no-op for the memory driver.
func (*MemoryStore) Close(_ context.Context) error {
	return nil
}

type memoryUpsertor struct {
	store *MemoryStore
	*mutation
}

func (u *memoryUpsertor) Set(key string, value any) Upsertor {
	u.set(key, value)
	return u
}

func (u *memoryUpsertor) SetEncrypted(key string, value []byte) Upsertor {
	u.setEncrypted(key, value)
	return u
}

func (u *memoryUpsertor) Unset(key string) Upsertor {
	u.unset(key)
	return u
}

func (u *memoryUpsertor) Execute(_ context.Context) (string, error) {
	sets, err := u.resolve(u.store.cipher)
	if err != nil {
		return "", err
	}

	s := u.store
	s.mu.Lock()
	defer s.mu.Unlock()

	coll, ok := s.collections[u.collection]
	if !ok {
		coll = make(map[string]Document)
		s.collections[u.collection] = coll
	}

	now := time.Now().UTC()

	if u.version == 0 {
		id := u.id
		if id == "" {
			id = uuid.NewString()
		}
		if _, exists := coll[id]; exists {
			return "", errors.NewConflictError(FieldID, id)
		}
		if err := s.checkUniqueLocked(u.collection, id, sets); err != nil {
			return "", err
		}
		doc := Document{FieldID: id, FieldVersion: int64(1), FieldCreated: now, FieldModified: now}
		for k, v := range sets {
			doc[k] = cloneValue(v)
		}
		coll[id] = doc
		return id, nil
	}

	doc, exists := coll[u.id]
	if !exists {
		return "", errors.NewNotFoundError(fmt.Sprintf("document %q not found in %q", u.id, u.collection), nil)
	}
	if doc.Version() != u.version {
		return "", errors.NewVersionConflictError(
			fmt.Sprintf("document %q version advanced past %d", u.id, u.version), nil)
	}
	if err := s.checkUniqueLocked(u.collection, u.id, sets); err != nil {
		return "", err
	}

	updated := cloneDocument(doc)
	for k, v := range sets {
		updated[k] = cloneValue(v)
	}
	for _, k := range u.unsets {
		delete(updated, k)
	}
	updated[FieldVersion] = u.version + 1
	updated[FieldModified] = now
	coll[u.id] = updated
	return u.id, nil
}

// checkUniqueLocked enforces the declared unique indexes. Callers hold the
// write lock.
func (s *MemoryStore) checkUniqueLocked(collection string, id string, sets map[string]any) error {
	coll := s.collections[collection]
	for _, field := range s.indexes[collection] {
		value, ok := sets[field]
		if !ok || value == nil {
			continue
		}
		for otherID, other := range coll {
			if otherID == id {
				continue
			}
			if v, ok := other.Lookup(field); ok && looseEqual(v, value) {
				return errors.NewConflictError(field, fmt.Sprintf("%v", value))
			}
		}
	}
	return nil
}
