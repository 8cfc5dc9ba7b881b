package main

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

var inspectLimit int

// inspectCmd opens the database read-only through the pure-Go driver, so it
// works without cgo and without touching the runtime's own connection.
var inspectCmd = &cobra.Command{
	Use:   "inspect [db-path] [table]",
	Short: "Dump tables from a hivemind database",
	Long: `Low-level view of the SQLite store for debugging. Without a table
argument it lists all tables with row counts; with one it samples rows.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: inspectDB,
}

func init() {
	inspectCmd.Flags().IntVar(&inspectLimit, "limit", 10, "rows to sample")
	rootCmd.AddCommand(inspectCmd)
}

func inspectDB(cmd *cobra.Command, args []string) error {
	db, err := sql.Open("sqlite", "file:"+args[0]+"?mode=ro")
	if err != nil {
		return err
	}
	defer db.Close()

	if len(args) == 1 {
		rows, err := db.Query(`SELECT name FROM sqlite_master WHERE type='table' ORDER BY name`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				return err
			}
			var count int
			if err := db.QueryRow(`SELECT COUNT(*) FROM ` + quoteIdent(name)).Scan(&count); err != nil {
				return err
			}
			fmt.Printf("%-24s %d rows\n", name, count)
		}
		return rows.Err()
	}

	table := quoteIdent(args[1])
	rows, err := db.Query(fmt.Sprintf(`SELECT * FROM %s ORDER BY rowid DESC LIMIT %d`, table, inspectLimit))
	if err != nil {
		return err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return err
	}
	fmt.Println(strings.Join(cols, " | "))
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return err
		}
		parts := make([]string, len(values))
		for i, v := range values {
			switch x := v.(type) {
			case nil:
				parts[i] = "NULL"
			case []byte:
				parts[i] = truncateCell(string(x))
			default:
				parts[i] = truncateCell(fmt.Sprint(x))
			}
		}
		fmt.Println(strings.Join(parts, " | "))
	}
	return rows.Err()
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func truncateCell(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) > 60 {
		return s[:57] + "..."
	}
	return s
}
