package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithDBName(t *testing.T) {
	tests := []struct {
		name, dsn, db, want string
	}{
		{"replace path", "postgres://u:p@host:5432/postgres?sslmode=disable", "berlin_20230601", "postgres://u:p@host:5432/berlin_20230601?sslmode=disable"},
		{"postgresql scheme", "postgresql://host/old", "/new", "postgresql://host/new"},
		{"no scheme", "u@host:5432/old", "new", "postgres://u@host:5432/new"},
		{"no path", "postgres://host", "gtfs", "postgres://host/gtfs"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := WithDBName(tc.dsn, tc.db)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestWithDBNameErrors(t *testing.T) {
	_, err := WithDBName("", "x")
	assert.Error(t, err)

	_, err = WithDBName("mysql://host/db", "x")
	assert.Error(t, err)
}
