// Package migrations registers the embedded changefeed schema with a
// persistence client, one filesystem per SQL dialect.
package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"

	changefeed "github.com/goliatone/go-changefeed"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"

	defaultSourceLabel = "go-changefeed"
	migrationsDir      = "data/sql/migrations"
)

// dialectDirs maps each dialect to its directory below the migrations root.
var dialectDirs = []struct {
	dialect string
	dir     string
}{
	{dialect: DialectPostgres, dir: "."},
	{dialect: DialectSQLite, dir: "sqlite"},
}

type FilesystemSpec struct {
	Dialect string
	Path    string
	FS      fs.FS
	// Names lists migration names (file names without .up.sql) in apply order.
	Names []string
}

type Registration struct {
	SourceLabel       string
	ValidationTargets []string
	Filesystems       []FilesystemSpec
}

type RegisterFunc func(ctx context.Context, dialect string, sourceLabel string, fsys fs.FS) error

type Option func(*Registration)

func WithDialectSourceLabel(label string) Option {
	return func(r *Registration) {
		if label = strings.TrimSpace(label); label != "" {
			r.SourceLabel = label
		}
	}
}

// WithValidationTargets limits registration to the given dialects.
func WithValidationTargets(targets ...string) Option {
	return func(r *Registration) {
		if normalized := normalizeDialects(targets); len(normalized) > 0 {
			r.ValidationTargets = normalized
		}
	}
}

// Filesystems resolves the per-dialect migration trees from the embedded
// schema, or from the given root when one is passed. Each dialect must carry
// an up and a down file per migration, and all dialects must carry the same
// migration names.
func Filesystems(sources ...fs.FS) ([]FilesystemSpec, error) {
	root := changefeed.GetMigrationsFS()
	if len(sources) > 0 && sources[0] != nil {
		root = sources[0]
	}
	base, err := fs.Sub(root, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve %s: %w", migrationsDir, err)
	}

	specs := make([]FilesystemSpec, 0, len(dialectDirs))
	for _, entry := range dialectDirs {
		sub := base
		if entry.dir != "." {
			if sub, err = fs.Sub(base, entry.dir); err != nil {
				return nil, fmt.Errorf("migrations: resolve %s filesystem: %w", entry.dialect, err)
			}
		}
		spec := FilesystemSpec{
			Dialect: entry.dialect,
			Path:    path.Join(migrationsDir, entry.dir),
			FS:      sub,
		}
		if spec.Names, err = migrationNames(spec); err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}

	reference := specs[0]
	for _, spec := range specs[1:] {
		if !slices.Equal(reference.Names, spec.Names) {
			return nil, fmt.Errorf(
				"migrations: %s migrations %v do not match %s migrations %v",
				spec.Dialect, spec.Names, reference.Dialect, reference.Names,
			)
		}
	}
	return specs, nil
}

func migrationNames(spec FilesystemSpec) ([]string, error) {
	ups, err := fs.Glob(spec.FS, "*.up.sql")
	if err != nil {
		return nil, fmt.Errorf("migrations: glob %s %s: %w", spec.Dialect, spec.Path, err)
	}
	if len(ups) == 0 {
		return nil, fmt.Errorf("migrations: %s filesystem %q has no *.up.sql files", spec.Dialect, spec.Path)
	}
	names := make([]string, 0, len(ups))
	for _, up := range ups {
		name := strings.TrimSuffix(up, ".up.sql")
		if _, err := fs.Stat(spec.FS, name+".down.sql"); err != nil {
			return nil, fmt.Errorf("migrations: %s migration %s has no down file", spec.Dialect, name)
		}
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

// Register hands each targeted dialect filesystem to registerFn, usually a
// thin wrapper around the persistence client's RegisterSQLMigrations.
func Register(ctx context.Context, registerFn RegisterFunc, opts ...Option) (Registration, error) {
	reg := Registration{
		SourceLabel:       defaultSourceLabel,
		ValidationTargets: []string{DialectPostgres, DialectSQLite},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&reg)
		}
	}
	if registerFn == nil {
		return reg, fmt.Errorf("migrations: register function is required")
	}

	filesystems, err := Filesystems()
	if err != nil {
		return reg, err
	}
	reg.Filesystems = filesystems

	for _, spec := range reg.Filesystems {
		if !slices.Contains(reg.ValidationTargets, spec.Dialect) {
			continue
		}
		if err := registerFn(ctx, spec.Dialect, reg.SourceLabel, spec.FS); err != nil {
			return reg, fmt.Errorf("migrations: register %s (%s): %w", spec.Dialect, spec.Path, err)
		}
	}
	return reg, nil
}

func normalizeDialects(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.ToLower(strings.TrimSpace(value))
		if value == "" || slices.Contains(out, value) {
			continue
		}
		out = append(out, value)
	}
	return out
}
