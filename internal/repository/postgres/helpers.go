package postgres

import (
	"database/sql"
	"fmt"
	"strings"
)

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// whereClause builds "WHERE a = $1 AND b = $2" from the non-empty pairs,
// returning the clause and its args. Column names are trusted constants.
func whereClause(pairs ...[2]string) (string, []any) {
	var conds []string
	var args []any
	for _, p := range pairs {
		if p[1] == "" {
			continue
		}
		args = append(args, p[1])
		conds = append(conds, fmt.Sprintf("%s = $%d", p[0], len(args)))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

func pageArgs(limit, offset int) (int, int) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
