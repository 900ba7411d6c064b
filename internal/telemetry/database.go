package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	"github.com/XSAM/otelsql"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// OpenDB opens an instrumented pool whose connections all resolve unqualified
// table names against schema.
func OpenDB(ctx context.Context, driverName, dsn, schema string) (*sql.DB, error) {
	dsn, err := WithSearchPath(dsn, schema)
	if err != nil {
		return nil, err
	}

	db, err := otelsql.Open(driverName, dsn,
		otelsql.WithAttributes(semconv.DBSystemPostgreSQL),
		otelsql.WithSpanOptions(otelsql.SpanOptions{OmitConnResetSession: true}),
	)
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return db, nil
}

// WithSearchPath adds search_path as a connection parameter. lib/pq forwards
// unknown parameters to the server, so every pooled connection gets it. A SET
// statement would only reach one of them.
func WithSearchPath(dsn, schema string) (string, error) {
	if schema == "" {
		return dsn, nil
	}

	if !strings.HasPrefix(dsn, "postgres://") && !strings.HasPrefix(dsn, "postgresql://") {
		return dsn + " search_path=" + schema, nil
	}

	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse postgres url: %w", err)
	}
	q := u.Query()
	q.Set("search_path", schema)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
