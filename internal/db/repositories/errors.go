// Package repositories implements the data access layer for Sentinel.
// Each repository type encapsulates the queries for one table. Handlers and
// services never issue SQL directly. Every repository wraps a sqlx.ExtContext so
// the same methods run against the pool or, via WithTx, inside a caller's
// transaction.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/sentinelops/sentinel/internal/apperrors"
	"github.com/sentinelops/sentinel/internal/authz"
)

// mapWriteErr translates constraint violations into the application error taxonomy.
func mapWriteErr(err error, resource string) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Name() {
		case "unique_violation":
			return &apperrors.ConflictError{Resource: resource, Constraint: pqErr.Constraint}
		case "foreign_key_violation":
			field := strings.TrimSuffix(strings.TrimPrefix(pqErr.Constraint, pqErr.Table+"_"), "_fkey")
			if field == "" {
				field = resource
			}
			return apperrors.Invalid(field, "does not exist")
		}
	}
	return fmt.Errorf("write %s: %w", resource, err)
}

// mapReadErr turns sql.ErrNoRows into a NotFoundError.
func mapReadErr(err error, resource string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.NotFound(resource)
	}
	return fmt.Errorf("read %s: %w", resource, err)
}

// expectAffected returns a NotFoundError when an update touched no rows.
func expectAffected(res sql.Result, err error, resource string) error {
	if err != nil {
		return mapWriteErr(err, resource)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("write %s: %w", resource, err)
	}
	if n == 0 {
		return apperrors.NotFound(resource)
	}
	return nil
}

// conditions accumulates WHERE clauses with positional parameters. A "?" in a
// clause is replaced with the next $N placeholder; all "?" in one clause share it.
type conditions struct {
	clauses []string
	args    []any
}

func (c *conditions) add(clause string, arg any) {
	c.args = append(c.args, arg)
	c.clauses = append(c.clauses, strings.ReplaceAll(clause, "?", fmt.Sprintf("$%d", len(c.args))))
}

func (c *conditions) raw(clause string) {
	c.clauses = append(c.clauses, clause)
}

// scope restricts column to the scope's organization unless the scope is global.
func (c *conditions) scope(s authz.Scope, column string) {
	if !s.Global {
		c.add(column+" = ?", s.OrganizationID)
	}
}

func (c *conditions) where() string {
	if len(c.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(c.clauses, " AND ")
}

// countGrouped runs a "SELECT <key> AS k, COUNT(*) AS n ... GROUP BY" query.
func countGrouped(ctx context.Context, db sqlx.QueryerContext, query string, args []any) (map[string]int, error) {
	var rows []struct {
		K string `db:"k"`
		N int    `db:"n"`
	}
	if err := sqlx.SelectContext(ctx, db, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make(map[string]int, len(rows))
	for _, row := range rows {
		out[row.K] = row.N
	}
	return out, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsPattern returns an ILIKE pattern that matches s literally anywhere in
// the column. Clauses using it must declare ESCAPE '\'.
func containsPattern(s string) string {
	return "%" + likeEscaper.Replace(s) + "%"
}

// page appends LIMIT/OFFSET placeholders and returns the clause and full arg list.
func (c *conditions) page(limit, offset int) (string, []any) {
	n := len(c.args)
	args := append(append([]any{}, c.args...), limit, offset)
	return fmt.Sprintf(" LIMIT $%d OFFSET $%d", n+1, n+2), args
}
