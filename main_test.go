package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseParams(t *testing.T) {
	got, err := parseParams([]string{"fast=10", "threshold=0.5", "long_only=true", "mode= trend "})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"fast":      10,
		"threshold": 0.5,
		"long_only": true,
		"mode":      "trend",
	}, got)

	for _, bad := range []string{"fast", "=10"} {
		t.Run(bad, func(t *testing.T) {
			_, err := parseParams([]string{bad})
			assert.Error(t, err)
		})
	}
}
