package database

import (
	"context"
	"testing"

	"readaddicts/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestConfigurePool(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	cfg := &config.Config{
		DBMaxOpenConns:           10,
		DBMaxIdleConns:           5,
		DBConnMaxLifetimeMinutes: 15,
	}
	require.NoError(t, configurePool(db, cfg))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	assert.Equal(t, 10, sqlDB.Stats().MaxOpenConnections)
}

func TestSchemaPolicy(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.Config
		runSQL  bool
		runAuto bool
		wantErr bool
	}{
		{"hybrid dev", config.Config{Env: "development", DBSchemaMode: "hybrid"}, true, true, false},
		{"hybrid prod", config.Config{Env: "production", DBSchemaMode: "hybrid"}, true, false, false},
		{"empty mode defaults to hybrid", config.Config{Env: "development"}, true, true, false},
		{"sql only", config.Config{Env: "development", DBSchemaMode: "sql"}, true, false, false},
		{"auto dev", config.Config{Env: "development", DBSchemaMode: "auto"}, false, true, false},
		{"auto prod refused", config.Config{Env: "production", DBSchemaMode: "auto"}, false, false, true},
		{"sqlite ignores sql", config.Config{Env: "development", DBDriver: "sqlite", DBSchemaMode: "sql"}, false, true, false},
		{"unknown mode", config.Config{Env: "development", DBSchemaMode: "nope"}, false, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runSQL, runAuto, err := schemaPolicy(&tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.runSQL, runSQL)
			assert.Equal(t, tt.runAuto, runAuto)
		})
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	migs, err := Migrations()
	require.NoError(t, err)
	require.NotEmpty(t, migs)

	first := migs[0]
	assert.Equal(t, 1, first.Version)
	assert.Equal(t, "000001_init", first.String())
	assert.Contains(t, first.Up, "CREATE TABLE IF NOT EXISTS comments")
	assert.Contains(t, first.Up, "REFERENCES comments (id) ON DELETE CASCADE")
	assert.Contains(t, first.Down, "DROP TABLE IF EXISTS messages")
	assert.Len(t, first.Checksum, 64)
}

func TestApplySchema_SQLiteAutoMigrates(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// every :memory: connection is its own database
	sqlDB.SetMaxOpenConns(1)

	cfg := &config.Config{Env: "test", DBDriver: "sqlite"}
	require.NoError(t, ApplySchema(context.Background(), db, cfg))

	for _, table := range []string{"users", "posts", "comments", "messages"} {
		assert.True(t, db.Migrator().HasTable(table), table)
	}

	status, err := GetSchemaStatus(context.Background(), db, cfg)
	require.NoError(t, err)
	assert.False(t, status.WillRunSQL)
	assert.True(t, status.WillRunAutoMigrate)
}
