package store

import (
	"strconv"

	"github.com/jmoiron/sqlx"
)

func placeholder(n int) string {
	return "$" + strconv.Itoa(n)
}

func inQuery(query string, args ...any) (string, []any, error) {
	return sqlx.In(query, args...)
}
