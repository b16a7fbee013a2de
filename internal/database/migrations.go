package database

import (
	"context"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"readaddicts/internal/middleware"

	"gorm.io/gorm"
)

// Versioned SQL lives in migrations/NNNNNN_name.{up,down}.sql. Every applied
// version is recorded in schema_migrations together with a checksum of its up
// script, so a migration edited after it shipped stops Up before anything runs.

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

var migrationFile = regexp.MustCompile(`^(\d{6})_([a-z0-9_]+)\.(up|down)\.sql$`)

// Migration is one versioned schema change.
type Migration struct {
	Version  int
	Name     string
	Up       string
	Down     string
	Checksum string
}

func (m Migration) String() string {
	return fmt.Sprintf("%06d_%s", m.Version, m.Name)
}

// MigrationState is a migration as seen against one database.
type MigrationState struct {
	Migration
	Applied   bool
	AppliedAt time.Time
	// Drifted means the recorded checksum no longer matches the script.
	Drifted bool
}

type appliedMigration struct {
	Version   int       `gorm:"primaryKey;autoIncrement:false"`
	Name      string    `gorm:"size:255;not null"`
	Checksum  string    `gorm:"size:64;not null"`
	AppliedAt time.Time `gorm:"not null"`
}

func (appliedMigration) TableName() string { return "schema_migrations" }

func checksum(script string) string {
	sum := sha256.Sum256([]byte(script))
	return hex.EncodeToString(sum[:])
}

// LoadMigrations reads every up/down pair at the root of fsys. Unknown files,
// a version with two names, or a missing half of a pair are errors.
func LoadMigrations(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}

	byVersion := make(map[int]*Migration)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		parts := migrationFile.FindStringSubmatch(entry.Name())
		if parts == nil {
			return nil, fmt.Errorf("unexpected file %q in migrations", entry.Name())
		}
		version, _ := strconv.Atoi(parts[1])
		body, err := fs.ReadFile(fsys, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", entry.Name(), err)
		}

		m, ok := byVersion[version]
		if !ok {
			m = &Migration{Version: version, Name: parts[2]}
			byVersion[version] = m
		}
		if m.Name != parts[2] {
			return nil, fmt.Errorf("migration %06d has two names: %q and %q", version, m.Name, parts[2])
		}
		if parts[3] == "up" {
			m.Up = string(body)
		} else {
			m.Down = string(body)
		}
	}

	out := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		if strings.TrimSpace(m.Up) == "" || strings.TrimSpace(m.Down) == "" {
			return nil, fmt.Errorf("migration %s needs both an up and a down script", m)
		}
		m.Checksum = checksum(m.Up)
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

var (
	embeddedOnce sync.Once
	embeddedSet  []Migration
	embeddedErr  error
)

// Migrations returns the migrations compiled into the binary.
func Migrations() ([]Migration, error) {
	embeddedOnce.Do(func() {
		sub, err := fs.Sub(embeddedMigrations, "migrations")
		if err != nil {
			embeddedErr = err
			return
		}
		embeddedSet, embeddedErr = LoadMigrations(sub)
	})
	return embeddedSet, embeddedErr
}

// Migrator applies a fixed set of migrations to one database.
type Migrator struct {
	db         *gorm.DB
	migrations []Migration
}

func NewMigrator(db *gorm.DB, migrations []Migration) *Migrator {
	return &Migrator{db: db, migrations: migrations}
}

func (m *Migrator) find(version int) (Migration, bool) {
	for _, mig := range m.migrations {
		if mig.Version == version {
			return mig, true
		}
	}
	return Migration{}, false
}

// applied returns the recorded versions, oldest first. A database that never
// ran a migration has no tracking table and reports nothing applied.
func (m *Migrator) applied(ctx context.Context) ([]appliedMigration, error) {
	db := m.db.WithContext(ctx)
	if !db.Migrator().HasTable(&appliedMigration{}) {
		return nil, nil
	}
	var rows []appliedMigration
	if err := db.Order("version ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	return rows, nil
}

// verify rejects recorded versions this binary does not know and scripts
// that changed since they were applied.
func (m *Migrator) verify(rows []appliedMigration) error {
	var problems []string
	for _, row := range rows {
		mig, ok := m.find(row.Version)
		switch {
		case !ok:
			problems = append(problems, fmt.Sprintf("%06d_%s is not in this build", row.Version, row.Name))
		case mig.Checksum != row.Checksum:
			problems = append(problems, fmt.Sprintf("%s changed after it was applied", mig))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("schema_migrations out of sync: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Status reports every known migration and whether it has been applied.
func (m *Migrator) Status(ctx context.Context) ([]MigrationState, error) {
	rows, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}
	recorded := make(map[int]appliedMigration, len(rows))
	for _, row := range rows {
		recorded[row.Version] = row
	}

	states := make([]MigrationState, 0, len(m.migrations))
	for _, mig := range m.migrations {
		st := MigrationState{Migration: mig}
		if row, ok := recorded[mig.Version]; ok {
			st.Applied = true
			st.AppliedAt = row.AppliedAt
			st.Drifted = row.Checksum != mig.Checksum
		}
		states = append(states, st)
	}
	return states, nil
}

// Up applies every pending migration in version order, each in its own
// transaction, and returns the ones it applied.
func (m *Migrator) Up(ctx context.Context) ([]Migration, error) {
	db := m.db.WithContext(ctx)
	if err := db.AutoMigrate(&appliedMigration{}); err != nil {
		return nil, fmt.Errorf("create schema_migrations: %w", err)
	}
	rows, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}
	if err := m.verify(rows); err != nil {
		return nil, err
	}

	done := make(map[int]bool, len(rows))
	for _, row := range rows {
		done[row.Version] = true
	}

	var ran []Migration
	for _, mig := range m.migrations {
		if done[mig.Version] {
			continue
		}
		err := db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Exec(mig.Up).Error; err != nil {
				return err
			}
			return tx.Create(&appliedMigration{
				Version:   mig.Version,
				Name:      mig.Name,
				Checksum:  mig.Checksum,
				AppliedAt: time.Now().UTC(),
			}).Error
		})
		if err != nil {
			return ran, fmt.Errorf("apply %s: %w", mig, err)
		}
		middleware.Logger.Info("migration applied", slog.String("migration", mig.String()))
		ran = append(ran, mig)
	}
	return ran, nil
}

// Down reverts the newest applied migration. version must name it, so a
// rollback can never skip over a later change.
func (m *Migrator) Down(ctx context.Context, version int) error {
	rows, err := m.applied(ctx)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return errors.New("no migrations have been applied")
	}
	newest := rows[len(rows)-1]
	if newest.Version != version {
		return fmt.Errorf("can only roll back the newest applied migration %06d, not %06d", newest.Version, version)
	}
	mig, ok := m.find(version)
	if !ok {
		return fmt.Errorf("migration %06d is not in this build", version)
	}

	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(mig.Down).Error; err != nil {
			return err
		}
		return tx.Delete(&appliedMigration{}, "version = ?", version).Error
	})
	if err != nil {
		return fmt.Errorf("roll back %s: %w", mig, err)
	}
	middleware.Logger.Info("migration rolled back", slog.String("migration", mig.String()))
	return nil
}

// RunMigrations applies the embedded migrations.
func RunMigrations(ctx context.Context, db *gorm.DB) error {
	migs, err := Migrations()
	if err != nil {
		return err
	}
	_, err = NewMigrator(db, migs).Up(ctx)
	return err
}

// RollbackMigration reverts the newest embedded migration, which must be version.
func RollbackMigration(ctx context.Context, db *gorm.DB, version int) error {
	migs, err := Migrations()
	if err != nil {
		return err
	}
	return NewMigrator(db, migs).Down(ctx, version)
}
