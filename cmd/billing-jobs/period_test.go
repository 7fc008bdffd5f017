package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePeriod(t *testing.T) {
	now := time.Date(2026, 1, 15, 8, 0, 0, 0, time.UTC)

	t.Run("vacío es el mes anterior", func(t *testing.T) {
		p, err := parsePeriod("", now)
		require.NoError(t, err)
		assert.Equal(t, 2025, p.Year)
		assert.Equal(t, 12, p.Month)
	})

	t.Run("año y mes explícitos", func(t *testing.T) {
		p, err := parsePeriod("2026-02", now)
		require.NoError(t, err)
		assert.Equal(t, 2026, p.Year)
		assert.Equal(t, 2, p.Month)
	})

	t.Run("formato inválido", func(t *testing.T) {
		_, err := parsePeriod("02/2026", now)
		assert.Error(t, err)
	})
}
