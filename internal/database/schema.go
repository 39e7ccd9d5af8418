package database

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/JonMunkholm/helios/internal/core"
	"github.com/jackc/pgx/v5/pgxpool"
)

// columnType maps a field type to its PostgreSQL column type.
func columnType(spec core.FieldSpec) string {
	switch spec.Type {
	case core.FieldInt:
		return "bigint"
	case core.FieldNumeric:
		return "double precision"
	case core.FieldBool:
		return "boolean"
	case core.FieldTime:
		return "timestamptz"
	}
	if spec.MaxLen > 0 {
		return fmt.Sprintf("varchar(%d)", spec.MaxLen)
	}
	return "text"
}

// SchemaDDL renders CREATE statements for every registered table. Tables are
// emitted in registry order, which places referenced tables first.
func SchemaDDL() []string {
	var stmts []string
	for _, def := range core.All() {
		stmts = append(stmts, tableDDL(def)...)
	}
	return stmts
}

func tableDDL(def core.TableDefinition) []string {
	name := string(def.Info.Key)
	lines := []string{"seq bigserial NOT NULL"}
	for _, f := range def.FieldSpecs {
		line := quoteIdentifier(f.Name) + " " + columnType(f)
		if f.Key {
			line += " NOT NULL"
		}
		lines = append(lines, line)
	}
	lines = append(lines,
		"created_at timestamptz NOT NULL DEFAULT now()",
		"updated_at timestamptz NOT NULL DEFAULT now()",
		fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(quoteColumns(def.KeyColumns()), ", ")),
	)
	for _, fk := range def.ForeignKeys {
		target := core.MustGet(fk.Target)
		lines = append(lines, fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s (%s)",
			strings.Join(quoteColumns(fk.Columns), ", "),
			quoteIdentifier(string(fk.Target)),
			strings.Join(quoteColumns(target.KeyColumns()), ", "),
		))
	}

	stmts := []string{
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", quoteIdentifier(name), strings.Join(lines, ",\n\t")),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (seq)", quoteIdentifier(name+"_seq_idx"), quoteIdentifier(name)),
	}
	for _, fk := range def.ForeignKeys {
		idx := name + "_" + strings.Join(fk.Columns, "_") + "_idx"
		stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
			quoteIdentifier(idx), quoteIdentifier(name), strings.Join(quoteColumns(fk.Columns), ", ")))
	}
	if def.NameColumn != "" {
		idx := name + "_" + def.NameColumn + "_idx"
		stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
			quoteIdentifier(idx), quoteIdentifier(name), quoteIdentifier(def.NameColumn)))
	}
	return stmts
}

// Migrate creates any missing tables and indexes in one transaction.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer tx.Rollback(ctx)

	stmts := SchemaDDL()
	for _, stmt := range stmts {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w\n%s", err, stmt)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}

	slog.Info("schema migrated", "statements", len(stmts))
	return nil
}
