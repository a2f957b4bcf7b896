package repositories

import (
	sq "github.com/Masterminds/squirrel"
)

// rowScanner is satisfied by pgx.Row and pgx.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// psql builds Postgres-flavoured statements with $n placeholders
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
