package errors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// Report is a log-friendly view of an error chain, including Postgres diagnostics when present.
type Report struct {
	Message string
	Code    Code
	Chain   []string

	PGCode       string
	PGConstraint string
	PGTable      string
	PGColumn     string
	PGDetail     string
	PGMessage    string
}

// Inspect walks err's chain. pgx errors win over lib/pq ones when both are present.
func Inspect(err error) Report {
	if err == nil {
		return Report{}
	}

	r := Report{Message: err.Error(), Code: CodeOf(err)}
	for e := err; e != nil; e = errors.Unwrap(e) {
		r.Chain = append(r.Chain, fmt.Sprintf("%T: %v", e, e))
	}

	var pgxErr *pgconn.PgError
	var pqErr *pq.Error
	switch {
	case errors.As(err, &pgxErr):
		r.PGCode = pgxErr.Code
		r.PGConstraint = pgxErr.ConstraintName
		r.PGTable = pgxErr.TableName
		r.PGColumn = pgxErr.ColumnName
		r.PGDetail = pgxErr.Detail
		r.PGMessage = pgxErr.Message
	case errors.As(err, &pqErr):
		r.PGCode = string(pqErr.Code)
		r.PGConstraint = pqErr.Constraint
		r.PGTable = pqErr.Table
		r.PGColumn = pqErr.Column
		r.PGDetail = pqErr.Detail
		r.PGMessage = pqErr.Message
	}
	return r
}

// Fields flattens the report into logger fields, leaving out empty Postgres columns.
func (r Report) Fields() map[string]any {
	fields := map[string]any{
		"error":       r.Message,
		"error_code":  r.Code,
		"error_chain": r.Chain,
	}
	pg := map[string]string{
		"pg_code":       r.PGCode,
		"pg_constraint": r.PGConstraint,
		"pg_table":      r.PGTable,
		"pg_column":     r.PGColumn,
		"pg_detail":     r.PGDetail,
		"pg_message":    r.PGMessage,
	}
	for k, v := range pg {
		if v != "" {
			fields[k] = v
		}
	}
	return fields
}
