package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/easybet?sslmode=disable",
		DSN(ClientConfig{Host: "db", Database: "easybet", User: "u", Password: "p"}))
	assert.Equal(t, "postgres://u:p@db:6543/easybet?sslmode=require",
		DSN(ClientConfig{Host: "db", Port: 6543, Database: "easybet", User: "u", Password: "p", SSLMode: "require"}))
	assert.Equal(t, "postgres://explicit", DSN(ClientConfig{DSN: "postgres://explicit", Host: "ignored"}))
}

func TestMigrationNames_Embedded(t *testing.T) {
	names, err := migrationNames()
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, "001_ledger_events.sql", names[0])
	assert.IsNonDecreasing(t, names)
}
