// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agents

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const cacheKeyPrefix = "resp/"

// CacheConfig configures the on-disk response cache.
type CacheConfig struct {
	// Dir holds the BadgerDB files. Ignored when InMemory is set.
	Dir string `yaml:"dir" json:"dir"`

	// InMemory keeps entries in RAM only.
	InMemory bool `yaml:"in_memory" json:"in_memory"`

	// TTL expires entries. Zero keeps them forever.
	TTL time.Duration `yaml:"ttl" json:"ttl"`

	// Logger receives BadgerDB's internal logs. Nil silences them.
	Logger *slog.Logger `yaml:"-" json:"-"`
}

// Cache stores agent responses in BadgerDB keyed by agent, configuration,
// query and context. Re-running an evaluation against a paid API then costs
// nothing for repeated inputs.
//
// Thread Safety: Safe for concurrent use.
type Cache struct {
	db  *badger.DB
	ttl time.Duration
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// OpenCache opens or creates a response cache.
//
// Outputs:
//   - *Cache: Caller must Close it.
//   - error: Non-nil if Dir is missing for a persistent cache or BadgerDB
//     cannot be opened.
func OpenCache(cfg CacheConfig) (*Cache, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Dir == "" {
			return nil, errors.New("cache dir is required for a persistent cache")
		}
		if err := os.MkdirAll(cfg.Dir, 0750); err != nil {
			return nil, fmt.Errorf("create cache directory %s: %w", cfg.Dir, err)
		}
		opts = badger.DefaultOptions(cfg.Dir)
	}
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open response cache: %w", err)
	}
	return &Cache{db: db, ttl: cfg.TTL}, nil
}

// Get returns the cached response for key, or ok=false on a miss.
func (c *Cache) Get(key string) (resp *Response, ok bool, err error) {
	err = c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(cacheKeyPrefix + key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			resp = &Response{}
			return json.Unmarshal(val, resp)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read cache entry: %w", err)
	}
	return resp, true, nil
}

// Put stores resp under key.
func (c *Cache) Put(key string, resp *Response) error {
	val, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}
	return c.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(cacheKeyPrefix+key), val)
		if c.ttl > 0 {
			e = e.WithTTL(c.ttl)
		}
		return txn.SetEntry(e)
	})
}

// Close releases the database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// CacheKey derives a stable key from everything that determines a response.
// json.Marshal sorts map keys, so equal configurations hash equally.
func CacheKey(agent, query, contextText string, config map[string]any) (string, error) {
	b, err := json.Marshal(struct {
		Agent   string         `json:"agent"`
		Config  map[string]any `json:"config"`
		Query   string         `json:"query"`
		Context string         `json:"context"`
	}{agent, config, query, contextText})
	if err != nil {
		return "", fmt.Errorf("derive cache key: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// cached serves responses from a Cache before calling the wrapped Agent.
type cached struct {
	Agent
	cache *Cache
}

// WithCache wraps agent with cache. Cache failures are logged and the call
// falls through to the agent.
func WithCache(agent Agent, cache *Cache) Agent {
	if cache == nil {
		return agent
	}
	return &cached{Agent: agent, cache: cache}
}

func (c *cached) GenerateResponse(ctx context.Context, query, contextText string) (*Response, error) {
	key, err := CacheKey(c.Agent.Name(), query, contextText, c.Agent.Config())
	if err != nil {
		slog.Warn("Response cache disabled for request", "error", err)
		return c.Agent.GenerateResponse(ctx, query, contextText)
	}

	if resp, ok, err := c.cache.Get(key); err != nil {
		slog.Warn("Response cache read failed", "error", err)
	} else if ok {
		if resp.Metadata == nil {
			resp.Metadata = map[string]any{}
		}
		resp.Metadata["cache_hit"] = true
		return resp, nil
	}

	resp, err := c.Agent.GenerateResponse(ctx, query, contextText)
	if err != nil {
		return nil, err
	}
	if err := c.cache.Put(key, resp); err != nil {
		slog.Warn("Response cache write failed", "error", err)
	}
	return resp, nil
}
