package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAssignments(t *testing.T) {
	got, err := parseAssignments([]string{"db1=/nix/store/abc-system", "web1=/nix/store/def-system"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"db1": "/nix/store/abc-system", "web1": "/nix/store/def-system"}, got)

	for _, bad := range []string{"db1", "=/nix/store/x", "db1="} {
		_, err := parseAssignments([]string{bad})
		assert.Error(t, err, bad)
	}
}

func TestShortPath(t *testing.T) {
	path := "/nix/store/0123456789abcdef-nixos-system-db1"
	assert.Equal(t, "01234567", shortPath(path, false))
	assert.Equal(t, path, shortPath(path, true))
	assert.Equal(t, "short", shortPath("/nix/store/short", false))
}
