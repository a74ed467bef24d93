// Package migrations embeds the fact table DDL for both databases.
package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
)

//go:embed postgres/*.sql
var postgresFS embed.FS

//go:embed clickhouse/*.sql
var clickhouseFS embed.FS

// Migration is one embedded SQL file split into statements.
type Migration struct {
	Name       string
	Statements []string
}

// Postgres returns the PostgreSQL migrations in apply order.
func Postgres() ([]Migration, error) {
	return load(postgresFS, "postgres")
}

// Clickhouse returns the ClickHouse migrations in apply order.
func Clickhouse() ([]Migration, error) {
	return load(clickhouseFS, "clickhouse")
}

func load(fsys fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read embedded %s migrations: %w", dir, err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	out := make([]Migration, 0, len(names))
	for _, name := range names {
		data, err := fs.ReadFile(fsys, path.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		stmts, err := splitStatements(string(data))
		if err != nil {
			return nil, fmt.Errorf("migration %s: %w", name, err)
		}
		if len(stmts) == 0 {
			continue
		}
		out = append(out, Migration{Name: name, Statements: stmts})
	}
	return out, nil
}

// splitStatements splits SQL on semicolons outside single-quoted literals and
// drops -- line comments. The ClickHouse native protocol runs one statement
// per Exec, so both runners apply statements one at a time.
func splitStatements(sql string) ([]string, error) {
	var (
		stmts    []string
		current  strings.Builder
		inString bool
	)
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			stmts = append(stmts, s)
		}
		current.Reset()
	}

	for i := 0; i < len(sql); i++ {
		ch := sql[i]
		switch {
		case inString:
			current.WriteByte(ch)
			if ch == '\'' {
				if i+1 < len(sql) && sql[i+1] == '\'' {
					current.WriteByte('\'')
					i++
					continue
				}
				inString = false
			}
		case ch == '\'':
			inString = true
			current.WriteByte(ch)
		case ch == '-' && i+1 < len(sql) && sql[i+1] == '-':
			for i < len(sql) && sql[i] != '\n' {
				i++
			}
			current.WriteByte('\n')
		case ch == ';':
			flush()
		default:
			current.WriteByte(ch)
		}
	}
	if inString {
		return nil, fmt.Errorf("unterminated string literal")
	}
	flush()
	return stmts, nil
}
