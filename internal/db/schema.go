package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// gooseVersionTable is migration bookkeeping, never part of a prompt.
const gooseVersionTable = "goose_db_version"

const postgresColumnsQuery = `SELECT table_name, column_name
	FROM information_schema.columns
	WHERE table_schema = $1
	ORDER BY table_name, ordinal_position`

const sqliteColumnsQuery = `SELECT m.name, p.name
	FROM sqlite_master AS m
	JOIN pragma_table_info(m.name) AS p
	WHERE m.type = 'table' AND m.name NOT LIKE 'sqlite_%'
	ORDER BY m.name, p.cid`

// DescribeSchema lists every table with its columns in declaration order, one
// "table: col1, col2" line per table. schema selects the PostgreSQL schema and
// is ignored for SQLite.
func DescribeSchema(ctx context.Context, db *sql.DB, driver, schema string) (string, error) {
	var rows *sql.Rows
	var err error
	switch driver {
	case DriverPostgres:
		if schema == "" {
			schema = "public"
		}
		rows, err = db.QueryContext(ctx, postgresColumnsQuery, schema)
	case DriverSQLite:
		rows, err = db.QueryContext(ctx, sqliteColumnsQuery)
	default:
		return "", fmt.Errorf("unsupported database driver %q", driver)
	}
	if err != nil {
		return "", fmt.Errorf("query columns: %w", err)
	}
	defer rows.Close()

	var tables []string
	columns := map[string][]string{}
	for rows.Next() {
		var table, column string
		if err := rows.Scan(&table, &column); err != nil {
			return "", fmt.Errorf("scan column: %w", err)
		}
		if table == gooseVersionTable {
			continue
		}
		if _, ok := columns[table]; !ok {
			tables = append(tables, table)
		}
		columns[table] = append(columns[table], column)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("read columns: %w", err)
	}

	lines := make([]string, 0, len(tables))
	for _, table := range tables {
		lines = append(lines, table+": "+strings.Join(columns[table], ", "))
	}
	return strings.Join(lines, "\n"), nil
}
