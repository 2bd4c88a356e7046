// Package migrations embeds and applies the membership database schema.
package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

//go:embed sql/*.sql
var embedded embed.FS

// Files returns the embedded migration files.
func Files() fs.FS {
	sub, err := fs.Sub(embedded, "sql")
	if err != nil {
		panic(err)
	}
	return sub
}

// Direction selects the up or down script of a migration.
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

// Migration represents a database migration file.
type Migration struct {
	Version   string
	Name      string
	Direction Direction
	Path      string
}

// String returns the migration identifier.
func (m Migration) String() string {
	return fmt.Sprintf("%s_%s.%s.sql", m.Version, m.Name, m.Direction)
}

// Load lists the migrations of one direction, sorted by version.
// File names follow 000001_name.up.sql; anything else is skipped.
func Load(fsys fs.FS, direction Direction) ([]Migration, error) {
	suffix := fmt.Sprintf(".%s.sql", direction)

	var migrations []Migration
	err := fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), suffix) {
			return nil
		}

		parts := strings.SplitN(strings.TrimSuffix(d.Name(), suffix), "_", 2)
		if len(parts) != 2 {
			return nil
		}
		migrations = append(migrations, Migration{
			Version:   parts[0],
			Name:      parts[1],
			Direction: direction,
			Path:      path,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan migrations: %w", err)
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// Versions returns the versions of a list of migrations.
func Versions(migrations []Migration) []string {
	versions := make([]string, len(migrations))
	for i, m := range migrations {
		versions[i] = m.Version
	}
	return versions
}
