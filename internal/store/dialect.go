package store

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	sqlite "modernc.org/sqlite"

	"tasklane/api/internal/position"
)

// dialect papers over the two backends: queries are written with `?`
// placeholders and rebound for postgres, and driver-specific failure codes
// are translated into the engine's error taxonomy.
type dialect struct {
	name     string
	postgres bool
}

var (
	dialectPostgres = dialect{name: "postgres", postgres: true}
	dialectSQLite   = dialect{name: "sqlite"}
)

func (d dialect) rebind(query string) string {
	if !d.postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// translate maps driver failures onto the position package sentinels so the
// engine can tell a retryable conflict from a broken invariant.
func (d dialect) translate(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", position.ErrConstraint, pgErr.Message)
		case "40001", "40P01":
			return fmt.Errorf("%w: %s", position.ErrConcurrent, pgErr.Message)
		}
		return err
	}

	var sqErr *sqlite.Error
	if errors.As(err, &sqErr) {
		switch sqErr.Code() & 0xff {
		case 19: // SQLITE_CONSTRAINT
			return fmt.Errorf("%w: %v", position.ErrConstraint, err)
		case 5, 6: // SQLITE_BUSY, SQLITE_LOCKED
			return fmt.Errorf("%w: %v", position.ErrConcurrent, err)
		}
	}
	return err
}

// placeholders builds "?, ?, ?" for IN clauses; rebind renumbers as needed.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
