// SPDX-FileCopyrightText: 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

package secret

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvironment(t *testing.T) {
	t.Setenv("GTFS_TEST_KEY", "  direct\n")
	v, err := FromEnvironment("GTFS_TEST_KEY")
	require.NoError(t, err)
	assert.Equal(t, "direct", v)

	path := filepath.Join(t.TempDir(), "key")
	require.NoError(t, os.WriteFile(path, []byte("from-file\n"), 0o600))
	t.Setenv("GTFS_FILE_KEY_FILE", path)
	v, err = FromEnvironment("GTFS_FILE_KEY")
	require.NoError(t, err)
	assert.Equal(t, "from-file", v)

	_, err = FromEnvironment("GTFS_UNSET_KEY")
	assert.Equal(t, MissingEnvironmentKey("GTFS_UNSET_KEY"), err)
}

func TestHeader(t *testing.T) {
	h, err := Header("", "X-Api-Key")
	require.NoError(t, err)
	assert.Nil(t, h)

	t.Setenv("GTFS_HEADER_KEY", "abc")
	h, err = Header("GTFS_HEADER_KEY", "X-Api-Key")
	require.NoError(t, err)
	assert.Equal(t, "abc", h.Get("X-Api-Key"))

	h, err = Header("GTFS_HEADER_KEY", "")
	require.NoError(t, err)
	assert.Equal(t, "abc", h.Get("Authorization"))
}
