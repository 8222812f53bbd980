package db

import (
	"context"
	"testing"

	"github.com/Skotchmaster/dailyquiz/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_EmptyDSN(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), "")
	assert.Error(t, err)
}

func TestOpen_SQLiteAndMigrate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	gdb, err := Open(ctx, "sqlite::memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(gdb) })

	require.NoError(t, Migrate(gdb))
	for _, m := range models.All() {
		assert.True(t, gdb.Migrator().HasTable(m))
	}
	assert.True(t, gdb.Migrator().HasTable("access_token_blocklist"))
	assert.NoError(t, Ping(ctx, gdb))
}
