// Package migrations applies the embedded PostgreSQL and ClickHouse schema
// files. Each applied version is recorded in a schema_migrations table, so
// running the migrations again only applies new files.
package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
)

// Schema directories inside the embedded filesystem.
const (
	dialectPostgres   = "postgres"
	dialectClickhouse = "clickhouse"
)

//go:embed postgres/*.sql clickhouse/*.sql
var files embed.FS

// Migration is one embedded SQL file named <version>_<name>.sql.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// Load returns the migrations of a dialect ordered by version.
func Load(dialect string) ([]Migration, error) {
	names, err := fs.Glob(files, dialect+"/*.sql")
	if err != nil {
		return nil, fmt.Errorf("list %s migrations: %w", dialect, err)
	}

	migs := make([]Migration, 0, len(names))
	seen := make(map[int]string, len(names))
	for _, p := range names {
		base := strings.TrimSuffix(path.Base(p), ".sql")
		prefix, name, ok := strings.Cut(base, "_")
		if !ok {
			return nil, fmt.Errorf("migration %s: want <version>_<name>.sql", p)
		}
		version, err := strconv.Atoi(prefix)
		if err != nil || version <= 0 {
			return nil, fmt.Errorf("migration %s: bad version %q", p, prefix)
		}
		if other, dup := seen[version]; dup {
			return nil, fmt.Errorf("migrations %s and %s share version %d", other, p, version)
		}
		seen[version] = p

		data, err := fs.ReadFile(files, p)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", p, err)
		}
		migs = append(migs, Migration{Version: version, Name: name, SQL: string(data)})
	}

	sort.Slice(migs, func(i, j int) bool { return migs[i].Version < migs[j].Version })
	return migs, nil
}

// statements splits a script into single statements for drivers without
// multi-statement support. Semicolons inside single-quoted literals and
// -- comments do not split.
func statements(script string) []string {
	var (
		out      []string
		cur      strings.Builder
		inString bool
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			out = append(out, s)
		}
		cur.Reset()
	}

	for i := 0; i < len(script); i++ {
		ch := script[i]
		switch {
		case inString:
			cur.WriteByte(ch)
			if ch == '\'' {
				if i+1 < len(script) && script[i+1] == '\'' {
					cur.WriteByte('\'')
					i++
					continue
				}
				inString = false
			}
		case ch == '\'':
			inString = true
			cur.WriteByte(ch)
		case ch == '-' && i+1 < len(script) && script[i+1] == '-':
			for i < len(script) && script[i] != '\n' {
				i++
			}
			cur.WriteByte('\n')
		case ch == ';':
			flush()
		default:
			cur.WriteByte(ch)
		}
	}
	flush()
	return out
}
