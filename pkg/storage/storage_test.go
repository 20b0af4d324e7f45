// SPDX-License-Identifier: Apache-2.0
// Copyright (C) 2023 Nordix Foundation.

package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	Target   string `json:"target"`
	Inserted int    `json:"inserted"`
}

func TestNewStore(t *testing.T) {
	tests := map[string]struct {
		backend   string
		expectErr bool
	}{
		"gomap":           {backend: BackendGomap},
		"unknown backend": {backend: "etcd", expectErr: true},
		"empty backend":   {backend: "", expectErr: true},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			s, err := NewStore(tt.backend, "")
			if tt.expectErr {
				assert.Error(t, err)
				assert.Nil(t, s)
				return
			}
			require.NoError(t, err)
			assert.NoError(t, s.Close())
		})
	}
}

func TestSetGetDelete(t *testing.T) {
	s, err := NewStore(BackendGomap, "")
	require.NoError(t, err)
	defer s.Close()

	var got record
	found, err := s.Get("report/s1", &got)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.Set("report/s1", record{Target: "s1", Inserted: 8}))
	found, err = s.Get("report/s1", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, record{Target: "s1", Inserted: 8}, got)

	require.NoError(t, s.Delete("report/s1"))
	found, err = s.Get("report/s1", &got)
	require.NoError(t, err)
	assert.False(t, found)
}
