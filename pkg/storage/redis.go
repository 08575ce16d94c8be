// SPDX-FileCopyrightText: Copyright 2026 Authgate Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/authgate/authgate/pkg/crypto"
	"github.com/authgate/authgate/pkg/errors"
)

// Default timeouts for Redis operations.
const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second
)

// RedisStore implements the Store interface on Redis. Documents are stored
// as JSON values under "{prefix}{collection}:doc:{id}" with the id recorded
// in a per-collection set, enabling horizontal scaling of stateless API
// replicas against a shared store.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
	cipher    *crypto.FieldCipher
	indexes   Indexes
}

// RedisStoreOption configures a RedisStore instance.
type RedisStoreOption func(*RedisStore)

// WithRedisFieldCipher sets the cipher used for encrypt-on-set fields.
func WithRedisFieldCipher(cipher *crypto.FieldCipher) RedisStoreOption {
	return func(s *RedisStore) {
		s.cipher = cipher
	}
}

// WithRedisIndexes declares the unique indexes enforced on writes.
func WithRedisIndexes(indexes Indexes) RedisStoreOption {
	return func(s *RedisStore) {
		s.indexes = indexes
	}
}

// NewRedisStore connects to Redis and verifies connectivity before
// returning.
func NewRedisStore(ctx context.Context, addr, password string, db int, keyPrefix string, opts ...RedisStoreOption) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  DefaultDialTimeout,
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisStoreWithClient(client, keyPrefix, opts...), nil
}

// NewRedisStoreWithClient creates a RedisStore with a pre-configured client.
// This is useful for testing with miniredis.
func NewRedisStoreWithClient(client redis.UniversalClient, keyPrefix string, opts ...RedisStoreOption) *RedisStore {
	s := &RedisStore{
		client:    client,
		keyPrefix: keyPrefix,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) docKey(collection, id string) string {
	return fmt.Sprintf("%s%s:doc:%s", s.keyPrefix, collection, id)
}

func (s *RedisStore) idsKey(collection string) string {
	return fmt.Sprintf("%s%s:ids", s.keyPrefix, collection)
}

// Get loads a document by id.
func (s *RedisStore) Get(ctx context.Context, collection, id string) (Document, error) {
	data, err := s.client.Get(ctx, s.docKey(collection, id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, errors.NewNotFoundError(fmt.Sprintf("document %q not found in %q", id, collection), nil)
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return decodeDocument(data)
}

// GetBy loads the first document whose field equals value. The redis driver
// scans the collection; callers on hot paths look up by id instead.
func (s *RedisStore) GetBy(ctx context.Context, collection, field string, value any) (Document, error) {
	filter := Eq(field, value)
	docs, err := s.Iterate(ctx, collection, filter, Sort{}, 0, 1)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, errors.NewNotFoundError(fmt.Sprintf("no document in %q with %s matching", collection, field), nil)
	}
	return docs[0], nil
}

// Delete removes a document by id.
func (s *RedisStore) Delete(ctx context.Context, collection, id string) (bool, error) {
	removed, err := s.client.Del(ctx, s.docKey(collection, id)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to delete document: %w", err)
	}
	if err := s.client.SRem(ctx, s.idsKey(collection), id).Err(); err != nil {
		return false, fmt.Errorf("failed to unregister document id: %w", err)
	}
	return removed > 0, nil
}

// Count returns the number of documents matching the filter.
func (s *RedisStore) Count(ctx context.Context, collection string, filter Filter) (int64, error) {
	docs, err := s.scan(ctx, collection, filter)
	if err != nil {
		return 0, err
	}
	return int64(len(docs)), nil
}

// Iterate returns the documents matching the filter.
func (s *RedisStore) Iterate(
	ctx context.Context, collection string, filter Filter, sort Sort, skip, limit int64,
) ([]Document, error) {
	docs, err := s.scan(ctx, collection, filter)
	if err != nil {
		return nil, err
	}
	return sortAndPage(docs, sort, skip, limit), nil
}

func (s *RedisStore) scan(ctx context.Context, collection string, filter Filter) ([]Document, error) {
	ids, err := s.client.SMembers(ctx, s.idsKey(collection)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list document ids: %w", err)
	}

	var docs []Document
	for _, id := range ids {
		data, err := s.client.Get(ctx, s.docKey(collection, id)).Bytes()
		if err != nil {
			if err == redis.Nil {
				// Expired or raced with a delete; drop the stale id.
				_ = s.client.SRem(ctx, s.idsKey(collection), id).Err()
				continue
			}
			return nil, fmt.Errorf("failed to get document: %w", err)
		}
		doc, err := decodeDocument(data)
		if err != nil {
			return nil, err
		}
		if filter.Matches(doc) {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

// Upsertor starts a mutation on the collection.
func (s *RedisStore) Upsertor(collection, id string, version int64) Upsertor {
	return &redisUpsertor{store: s, mutation: newMutation(collection, id, version)}
}

// Close closes the Redis client connection.
func (s *RedisStore) Close(_ context.Context) error {
	return s.client.Close()
}

type redisUpsertor struct {
	store *RedisStore
	*mutation
}

func (u *redisUpsertor) Set(key string, value any) Upsertor {
	u.set(key, value)
	return u
}

func (u *redisUpsertor) SetEncrypted(key string, value []byte) Upsertor {
	u.setEncrypted(key, value)
	return u
}

func (u *redisUpsertor) Unset(key string) Upsertor {
	u.unset(key)
	return u
}

func (u *redisUpsertor) Execute(ctx context.Context) (string, error) {
	sets, err := u.resolve(u.store.cipher)
	if err != nil {
		return "", err
	}

	s := u.store
	id := u.id
	if u.version == 0 && id == "" {
		id = uuid.NewString()
	}
	key := s.docKey(u.collection, id)
	now := time.Now().UTC()

	// WATCH-based optimistic transaction: the write aborts when the document
	// changes between the read and the pipelined commit.
	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		exists := err == nil
		if err != nil && err != redis.Nil {
			return fmt.Errorf("failed to get document: %w", err)
		}

		var doc Document
		if u.version == 0 {
			if exists {
				return errors.NewConflictError(FieldID, id)
			}
			doc = Document{FieldID: id, FieldVersion: int64(1), FieldCreated: now, FieldModified: now}
			for k, v := range sets {
				doc[k] = v
			}
		} else {
			if !exists {
				return errors.NewNotFoundError(fmt.Sprintf("document %q not found in %q", id, u.collection), nil)
			}
			doc, err = decodeDocument(data)
			if err != nil {
				return err
			}
			if doc.Version() != u.version {
				return errors.NewVersionConflictError(
					fmt.Sprintf("document %q version advanced past %d", id, u.version), nil)
			}
			for k, v := range sets {
				doc[k] = v
			}
			for _, k := range u.unsets {
				delete(doc, k)
			}
			doc[FieldVersion] = u.version + 1
			doc[FieldModified] = now
		}

		if err := s.checkUnique(ctx, u.collection, id, sets); err != nil {
			return err
		}

		encoded, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("failed to marshal document: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			pipe.SAdd(ctx, s.idsKey(u.collection), id)
			return nil
		})
		return err
	}

	if err := s.client.Watch(ctx, txn, key); err != nil {
		if err == redis.TxFailedErr {
			return "", errors.NewVersionConflictError(
				fmt.Sprintf("document %q changed during the write", id), err)
		}
		return "", err
	}
	return id, nil
}

// checkUnique enforces the declared unique indexes by scanning the
// collection. Index cardinality is small (client ids, usernames), so the
// scan stays cheap.
func (s *RedisStore) checkUnique(ctx context.Context, collection, id string, sets map[string]any) error {
	fields := s.indexes[collection]
	if len(fields) == 0 {
		return nil
	}
	for _, field := range fields {
		value, ok := sets[field]
		if !ok || value == nil {
			continue
		}
		docs, err := s.scan(ctx, collection, Eq(field, value))
		if err != nil {
			return err
		}
		for _, other := range docs {
			if other.ID() != id {
				return errors.NewConflictError(field, fmt.Sprintf("%v", value))
			}
		}
	}
	return nil
}

func decodeDocument(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal document: %w", err)
	}
	return doc, nil
}
