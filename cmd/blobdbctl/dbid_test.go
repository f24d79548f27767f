package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/smartwatch/blobdb/internal/blobdb"
)

func TestParseDatabaseIDMatchesNameCaseInsensitively(t *testing.T) {
	id, err := parseDatabaseID("pins")
	require.NoError(t, err)
	require.Equal(t, blobdb.Pins, id)
}

func TestParseDatabaseIDMatchesNumeric(t *testing.T) {
	id, err := parseDatabaseID("2")
	require.NoError(t, err)
	require.Equal(t, blobdb.DatabaseID(2), id)
}

func TestParseDatabaseIDRejectsOutOfRangeNumeric(t *testing.T) {
	_, err := parseDatabaseID("999")
	require.Error(t, err)
}

func TestParseDatabaseIDRejectsUnknownName(t *testing.T) {
	_, err := parseDatabaseID("nonexistent")
	require.Error(t, err)
}
