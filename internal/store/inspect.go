package store

import (
	"context"
	"fmt"
	"sort"
)

// Table inspection backs the debug API. Only the known schema tables are
// exposed; the row limit is clamped to keep responses bounded.

const (
	minInspectLimit = 1
	maxInspectLimit = 50
)

var inspectableTables = map[string]bool{
	"prompt_cache": true,
	"votes":        true,
	"history":      true,
	"learning":     true,
}

// preferred ordering column per table, newest first. history additionally
// falls back to the rowid for same-second inserts.
var inspectOrder = map[string]string{
	"prompt_cache": "created_at DESC",
	"votes":        "updated_at DESC",
	"history":      "played_at DESC, id DESC",
	"learning":     "updated_at DESC",
}

// ListTables returns the inspectable table names in stable order.
func (s *Store) ListTables() []string {
	names := make([]string, 0, len(inspectableTables))
	for name := range inspectableTables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TableRows returns up to limit newest rows of the named table, starting
// offset rows in, as generic column→value maps. Unknown tables are rejected.
func (s *Store) TableRows(ctx context.Context, table string, limit, offset int) ([]map[string]any, error) {
	if !inspectableTables[table] {
		return nil, fmt.Errorf("unknown table %q", table)
	}
	if limit < minInspectLimit {
		limit = minInspectLimit
	}
	if limit > maxInspectLimit {
		limit = maxInspectLimit
	}
	if offset < 0 {
		offset = 0
	}

	// table and order come from fixed maps above, never from the caller.
	query := fmt.Sprintf("SELECT * FROM %s ORDER BY %s LIMIT ? OFFSET ?;", table, inspectOrder[table])
	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query table %s: %w", table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns of %s: %w", table, err)
	}

	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row of %s: %w", table, err)
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			v := values[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			row[col] = v
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
