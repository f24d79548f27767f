package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/smartwatch/blobdb/internal/blobdb"
)

// parseDatabaseID accepts either a namespace name ("Pins", case
// insensitive) or a numeric id, matching the names blobdb.DatabaseID
// prints via String().
func parseDatabaseID(s string) (blobdb.DatabaseID, error) {
	for id := blobdb.DatabaseID(0); id < blobdb.NumDatabases; id++ {
		if strings.EqualFold(id.String(), s) {
			return id, nil
		}
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 0 && blobdb.DatabaseID(n) < blobdb.NumDatabases {
		return blobdb.DatabaseID(n), nil
	}
	return 0, fmt.Errorf("unknown database %q", s)
}
