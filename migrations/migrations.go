// Package migrations embeds the SQL schema and applies it statement by statement.
package migrations

import (
	"bufio"
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed *.sql
var files embed.FS

// Files returns the embedded migration names in apply order.
func Files() ([]string, error) {
	names, err := fs.Glob(files, "*.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// Statements returns the executable statements of one migration file.
func Statements(name string) ([]string, error) {
	content, err := files.ReadFile(name)
	if err != nil {
		return nil, err
	}
	return SplitSQL(StripComments(string(content))), nil
}

// Apply runs every migration. Statements are idempotent, so Apply may run
// on every start.
func Apply(ctx context.Context, db *pgxpool.Pool) error {
	names, err := Files()
	if err != nil {
		return err
	}
	for _, name := range names {
		stmts, err := Statements(name)
		if err != nil {
			return err
		}
		for _, stmt := range stmts {
			if _, err := db.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("migration %s: %w", name, err)
			}
		}
	}
	return nil
}

// StripComments drops blank lines and full-line "--" comments.
func StripComments(input string) string {
	var b strings.Builder
	scanner := bufio.NewScanner(strings.NewReader(input))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}
		b.WriteString(scanner.Text())
		b.WriteString("\n")
	}
	return b.String()
}

// SplitSQL splits on semicolons outside of $$-quoted function bodies.
func SplitSQL(input string) []string {
	var out []string
	var cur strings.Builder
	inDollar := false
	for i := 0; i < len(input); i++ {
		if strings.HasPrefix(input[i:], "$$") {
			inDollar = !inDollar
			cur.WriteString("$$")
			i++
			continue
		}
		if input[i] == ';' && !inDollar {
			if stmt := strings.TrimSpace(cur.String()); stmt != "" {
				out = append(out, stmt)
			}
			cur.Reset()
			continue
		}
		cur.WriteByte(input[i])
	}
	if stmt := strings.TrimSpace(cur.String()); stmt != "" {
		out = append(out, stmt)
	}
	return out
}

// Tables lists the table names created by the embedded migrations.
func Tables() ([]string, error) {
	names, err := Files()
	if err != nil {
		return nil, err
	}
	var tables []string
	for _, name := range names {
		stmts, err := Statements(name)
		if err != nil {
			return nil, err
		}
		for _, stmt := range stmts {
			fields := strings.Fields(stmt)
			if len(fields) < 3 || !strings.EqualFold(fields[0], "CREATE") || !strings.EqualFold(fields[1], "TABLE") {
				continue
			}
			idx := 2
			if len(fields) > 5 && strings.EqualFold(fields[2], "IF") {
				idx = 5
			}
			tables = append(tables, strings.TrimSuffix(fields[idx], "("))
		}
	}
	return tables, nil
}
