// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2022-2023 Intel Corporation, or its subsidiaries.
// Copyright (C) 2023 Nordix Foundation.

// Package storage opens the key value store the controller keeps its
// batch journal in
package storage

import (
	"fmt"

	"github.com/philippgille/gokv"
	"github.com/philippgille/gokv/encoding"
	"github.com/philippgille/gokv/gomap"
	"github.com/philippgille/gokv/redis"
)

// Supported backends
const (
	BackendGomap = "gomap"
	BackendRedis = "redis"
)

// Storage wraps a gokv store. Values are stored as JSON.
type Storage struct {
	store gokv.Store
}

// NewStore creates a new Storage instance based on the specified backend.
// Supported backends: "gomap" (in process) and "redis".
func NewStore(backend, address string) (*Storage, error) {
	var store gokv.Store
	var err error

	switch backend {
	case BackendRedis:
		options := redis.DefaultOptions
		options.Address = address
		options.Codec = encoding.JSON
		store, err = redis.NewClient(options)
	case BackendGomap:
		options := gomap.DefaultOptions
		options.Codec = encoding.JSON
		store = gomap.NewStore(options)
	default:
		return nil, fmt.Errorf("unsupported backend: %s", backend)
	}

	if err != nil {
		return nil, fmt.Errorf("opening %s store at %s: %w", backend, address, err)
	}
	return &Storage{store: store}, nil
}

// Set stores the key-value pair in the store.
func (s *Storage) Set(key string, value interface{}) error {
	return s.store.Set(key, value)
}

// Get retrieves the value associated with the given key.
func (s *Storage) Get(key string, value interface{}) (bool, error) {
	return s.store.Get(key, value)
}

// Delete removes the key-value pair from the store.
func (s *Storage) Delete(key string) error {
	return s.store.Delete(key)
}

// Close releases any resources held by the store.
func (s *Storage) Close() error {
	return s.store.Close()
}
