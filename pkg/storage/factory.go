// SPDX-FileCopyrightText: Copyright 2026 Authgate Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"fmt"

	"github.com/authgate/authgate/pkg/crypto"
	"github.com/authgate/authgate/pkg/logger"
)

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendMongo  = "mongo"
	BackendRedis  = "redis"
)

// Config selects and parameterizes the storage backend.
type Config struct {
	// Backend is one of "memory", "mongo" or "redis".
	Backend string

	// MongoURI and MongoDatabase configure the mongo backend.
	MongoURI      string
	MongoDatabase string

	// RedisAddr, RedisPassword, RedisDB and RedisKeyPrefix configure the
	// redis backend.
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisKeyPrefix string
}

// Open constructs the configured storage backend. The cipher enables
// encrypt-on-set fields; indexes declares the unique indexes every backend
// enforces.
func Open(ctx context.Context, cfg Config, cipher *crypto.FieldCipher, indexes Indexes) (Store, error) {
	switch cfg.Backend {
	case BackendMemory, "":
		logger.Warn("Using in-memory storage; all data is lost on restart")
		return NewMemoryStore(WithMemoryFieldCipher(cipher), WithMemoryIndexes(indexes)), nil
	case BackendMongo:
		return NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDatabase,
			WithMongoFieldCipher(cipher), WithMongoIndexes(indexes))
	case BackendRedis:
		return NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisKeyPrefix,
			WithRedisFieldCipher(cipher), WithRedisIndexes(indexes))
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
