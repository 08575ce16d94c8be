// SPDX-FileCopyrightText: Copyright 2026 Authgate Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/authgate/authgate/pkg/crypto"
	"github.com/authgate/authgate/pkg/errors"
)

// DefaultConnectTimeout bounds the initial MongoDB connection attempt,
// including retries for cold starts.
const DefaultConnectTimeout = 30 * time.Second

// MongoStore implements the Store interface on MongoDB. Unlike the memory
// and redis drivers it compiles filters to native queries and enforces
// unique indexes server-side.
type MongoStore struct {
	client  *mongo.Client
	db      *mongo.Database
	cipher  *crypto.FieldCipher
	indexes Indexes
}

// MongoStoreOption configures a MongoStore instance.
type MongoStoreOption func(*MongoStore)

// WithMongoFieldCipher sets the cipher used for encrypt-on-set fields.
func WithMongoFieldCipher(cipher *crypto.FieldCipher) MongoStoreOption {
	return func(s *MongoStore) {
		s.cipher = cipher
	}
}

// WithMongoIndexes declares the unique indexes created at connect time.
func WithMongoIndexes(indexes Indexes) MongoStoreOption {
	return func(s *MongoStore) {
		s.indexes = indexes
	}
}

// NewMongoStore connects to MongoDB, verifies connectivity and ensures the
// declared unique indexes exist. Connection attempts retry with exponential
// backoff to ride out cold starts and brief network interruptions.
func NewMongoStore(ctx context.Context, uri, database string, opts ...MongoStoreOption) (*MongoStore, error) {
	s := &MongoStore{}
	for _, opt := range opts {
		opt(s)
	}

	client, err := backoff.Retry(ctx, func() (*mongo.Client, error) {
		c, err := mongo.Connect(options.Client().ApplyURI(uri))
		if err != nil {
			return nil, err
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := c.Ping(pingCtx, nil); err != nil {
			_ = c.Disconnect(ctx)
			return nil, err
		}
		return c, nil
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxElapsedTime(DefaultConnectTimeout))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	s.client = client
	s.db = client.Database(database)

	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	for collection, fields := range s.indexes {
		models := make([]mongo.IndexModel, 0, len(fields))
		for _, field := range fields {
			models = append(models, mongo.IndexModel{
				Keys:    bson.D{{Key: field, Value: 1}},
				Options: options.Index().SetUnique(true).SetSparse(true),
			})
		}
		if len(models) == 0 {
			continue
		}
		if _, err := s.db.Collection(collection).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("failed to create indexes on %q: %w", collection, err)
		}
	}
	return nil
}

// Get loads a document by id.
func (s *MongoStore) Get(ctx context.Context, collection, id string) (Document, error) {
	var doc Document
	err := s.db.Collection(collection).FindOne(ctx, bson.M{FieldID: id}).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, errors.NewNotFoundError(fmt.Sprintf("document %q not found in %q", id, collection), nil)
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return doc, nil
}

// GetBy loads the first document whose field equals value.
func (s *MongoStore) GetBy(ctx context.Context, collection, field string, value any) (Document, error) {
	var doc Document
	err := s.db.Collection(collection).FindOne(ctx, bson.M{field: value}).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, errors.NewNotFoundError(fmt.Sprintf("no document in %q with %s matching", collection, field), nil)
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return doc, nil
}

// Delete removes a document by id.
func (s *MongoStore) Delete(ctx context.Context, collection, id string) (bool, error) {
	res, err := s.db.Collection(collection).DeleteOne(ctx, bson.M{FieldID: id})
	if err != nil {
		return false, fmt.Errorf("failed to delete document: %w", err)
	}
	return res.DeletedCount > 0, nil
}

// Count returns the number of documents matching the filter.
func (s *MongoStore) Count(ctx context.Context, collection string, filter Filter) (int64, error) {
	n, err := s.db.Collection(collection).CountDocuments(ctx, compileFilter(filter))
	if err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return n, nil
}

// Iterate returns the documents matching the filter.
func (s *MongoStore) Iterate(
	ctx context.Context, collection string, filter Filter, sort Sort, skip, limit int64,
) ([]Document, error) {
	opts := options.Find()
	if sort.Field != "" {
		dir := 1
		if sort.Descending {
			dir = -1
		}
		opts.SetSort(bson.D{{Key: sort.Field, Value: dir}})
	}
	if skip > 0 {
		opts.SetSkip(skip)
	}
	if limit > 0 {
		opts.SetLimit(limit)
	}

	cursor, err := s.db.Collection(collection).Find(ctx, compileFilter(filter), opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []Document
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode documents: %w", err)
	}
	return docs, nil
}

// Upsertor starts a mutation on the collection.
func (s *MongoStore) Upsertor(collection, id string, version int64) Upsertor {
	return &mongoUpsertor{store: s, mutation: newMutation(collection, id, version)}
}

// Close disconnects from MongoDB.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

type mongoUpsertor struct {
	store *MongoStore
	*mutation
}

func (u *mongoUpsertor) Set(key string, value any) Upsertor {
	u.set(key, value)
	return u
}

func (u *mongoUpsertor) SetEncrypted(key string, value []byte) Upsertor {
	u.setEncrypted(key, value)
	return u
}

func (u *mongoUpsertor) Unset(key string) Upsertor {
	u.unset(key)
	return u
}

func (u *mongoUpsertor) Execute(ctx context.Context) (string, error) {
	sets, err := u.resolve(u.store.cipher)
	if err != nil {
		return "", err
	}

	coll := u.store.db.Collection(u.collection)
	now := time.Now().UTC()

	if u.version == 0 {
		id := u.id
		if id == "" {
			id = uuid.NewString()
		}
		doc := bson.M{FieldID: id, FieldVersion: int64(1), FieldCreated: now, FieldModified: now}
		for k, v := range sets {
			doc[k] = v
		}
		if _, err := coll.InsertOne(ctx, doc); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return "", duplicateKeyConflict(err, id, sets)
			}
			return "", fmt.Errorf("failed to insert document: %w", err)
		}
		return id, nil
	}

	update := bson.M{
		"$set": mergeSets(sets, bson.M{FieldModified: now}),
		"$inc": bson.M{FieldVersion: 1},
	}
	if len(u.unsets) > 0 {
		unset := bson.M{}
		for _, k := range u.unsets {
			unset[k] = ""
		}
		update["$unset"] = unset
	}

	res, err := coll.UpdateOne(ctx, bson.M{FieldID: u.id, FieldVersion: u.version}, update)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return "", duplicateKeyConflict(err, u.id, sets)
		}
		return "", fmt.Errorf("failed to update document: %w", err)
	}
	if res.MatchedCount == 0 {
		// Distinguish a missing document from a lost version race.
		n, err := coll.CountDocuments(ctx, bson.M{FieldID: u.id})
		if err == nil && n == 0 {
			return "", errors.NewNotFoundError(fmt.Sprintf("document %q not found in %q", u.id, u.collection), nil)
		}
		return "", errors.NewVersionConflictError(
			fmt.Sprintf("document %q version advanced past %d", u.id, u.version), nil)
	}
	return u.id, nil
}

func mergeSets(sets map[string]any, extra bson.M) bson.M {
	out := bson.M{}
	for k, v := range sets {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// duplicateKeyConflict maps a mongo duplicate-key error to the conflict
// taxonomy, recovering the offending field from the server message.
func duplicateKeyConflict(err error, id string, sets map[string]any) error {
	if m := indexNameRe.FindStringSubmatch(err.Error()); m != nil {
		field := m[1]
		if field == FieldID+"_" {
			return errors.NewConflictError(FieldID, id)
		}
		field = field[:len(field)-2] // strip the "_1" direction suffix
		if v, ok := sets[field]; ok {
			return errors.NewConflictError(field, fmt.Sprintf("%v", v))
		}
		return errors.NewConflictError(field, "")
	}
	return errors.NewConflictError(FieldID, id)
}

var indexNameRe = regexp.MustCompile(`index: (\S+) dup key`)

// compileFilter translates the driver-independent filter into a native
// MongoDB query.
func compileFilter(f Filter) bson.M {
	switch f.Op {
	case OpAll:
		return bson.M{}
	case OpEq:
		return bson.M{f.Field: f.Value}
	case OpLt:
		return bson.M{f.Field: bson.M{"$lt": f.Value}}
	case OpExists:
		return bson.M{f.Field: bson.M{"$exists": true}}
	case OpPrefix:
		s, _ := f.Value.(string)
		return bson.M{f.Field: bson.M{"$regex": "^" + regexp.QuoteMeta(s)}}
	case OpContainsFold:
		s, _ := f.Value.(string)
		return bson.M{f.Field: bson.M{"$regex": regexp.QuoteMeta(s), "$options": "i"}}
	case OpAnd:
		sub := make([]bson.M, 0, len(f.Sub))
		for _, g := range f.Sub {
			sub = append(sub, compileFilter(g))
		}
		return bson.M{"$and": sub}
	case OpOr:
		sub := make([]bson.M, 0, len(f.Sub))
		for _, g := range f.Sub {
			sub = append(sub, compileFilter(g))
		}
		return bson.M{"$or": sub}
	}
	return bson.M{}
}
