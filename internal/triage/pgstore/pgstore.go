// Package pgstore provides a PostgreSQL implementation of triage.Store.
package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/arbiter/internal/triage"
)

var tracer = otel.Tracer("github.com/linnemanlabs/arbiter/internal/triage/pgstore")

//go:embed schema.sql
var schema string

// Store persists verdicts in PostgreSQL so fingerprints classified in past
// runs are never sent to the model again.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on the given pool and returns a ready Store. The
// pool's lifecycle stays with the caller.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

const verdictColumns = `status, confidence, reasoning, suggestion, cwe, model,
	input_tokens, output_tokens, created_at`

// Get retrieves the verdict for a fingerprint.
func (s *Store) Get(ctx context.Context, fingerprint string) (*triage.Verdict, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Get", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + verdictColumns + ` FROM verdicts WHERE fingerprint = $1`

	var v triage.Verdict
	err := s.pool.QueryRow(ctx, query, fingerprint).Scan(
		&v.Status, &v.Confidence, &v.Reasoning, &v.Suggestion, &v.CWE,
		&v.Model, &v.InputTokens, &v.OutputTokens, &v.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	return &v, true, nil
}

// Put upserts the verdict for a fingerprint. The first writer wins; a
// concurrent run that already stored a verdict for the fingerprint keeps it.
func (s *Store) Put(ctx context.Context, fingerprint string, v *triage.Verdict) error {
	ctx, span := tracer.Start(ctx, "pgstore.Put", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "INSERT"),
	))
	defer span.End()

	query := `
		INSERT INTO verdicts (fingerprint, ` + verdictColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (fingerprint) DO NOTHING`

	_, err := s.pool.Exec(ctx, query, fingerprint,
		v.Status, v.Confidence, v.Reasoning, v.Suggestion, v.CWE,
		v.Model, v.InputTokens, v.OutputTokens, v.CreatedAt,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("insert verdict: %w", err)
	}
	return nil
}
