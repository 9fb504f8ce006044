// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package export

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/Thermoquad/sensoplex/pkg/pdi"
)

// Schema creates the sample table
const Schema = `
CREATE TABLE IF NOT EXISTS sensor_samples (
    id          BIGSERIAL PRIMARY KEY,
    capture_id  UUID NOT NULL,
    device_id   TEXT NOT NULL,
    seq         INTEGER NOT NULL,
    options     INTEGER NOT NULL,
    received_at TIMESTAMPTZ NOT NULL,
    data        JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS sensor_samples_capture_idx ON sensor_samples (capture_id, seq);`

const insertSample = `
        INSERT INTO sensor_samples (
            capture_id, device_id, seq, options, received_at, data
        ) VALUES ($1, $2, $3, $4, $5, $6)`

// execer is the subset of *sql.DB and *sql.Tx used by PostgresSink
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// sqlTx is the subset of *sql.Tx used by InsertAll
type sqlTx interface {
	execer
	Commit() error
	Rollback() error
}

// PostgresSink stores captured samples in PostgreSQL, keyed by capture ID
type PostgresSink struct {
	db      *sql.DB
	exec    execer
	beginTx func(ctx context.Context) (sqlTx, error)
}

// NewPostgresSink opens and pings the database
func NewPostgresSink(dsn string) (*PostgresSink, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &PostgresSink{
		db:   db,
		exec: db,
		beginTx: func(ctx context.Context) (sqlTx, error) {
			tx, err := db.BeginTx(ctx, nil)
			if err != nil {
				return nil, err
			}
			return tx, nil
		},
	}, nil
}

// Migrate creates the sample table if it does not exist
func (p *PostgresSink) Migrate(ctx context.Context) error {
	if _, err := p.exec.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Insert stores one sample at position seq of the capture
func (p *PostgresSink) Insert(ctx context.Context, captureID uuid.UUID, deviceID string, seq int, s *pdi.SensorSample) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal sample: %w", err)
	}
	_, err = p.exec.ExecContext(ctx, insertSample,
		captureID, deviceID, seq, int(s.Options), s.ReceivedAt, data,
	)
	return err
}

// InsertAll stores a capture in one transaction. A failed insert rolls
// back the whole capture.
func (p *PostgresSink) InsertAll(ctx context.Context, captureID uuid.UUID, deviceID string, samples []*pdi.SensorSample) error {
	if p.beginTx == nil {
		return insertAll(ctx, p, captureID, deviceID, samples)
	}

	tx, err := p.beginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := insertAll(ctx, &PostgresSink{exec: tx}, captureID, deviceID, samples); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rerr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func insertAll(ctx context.Context, sink *PostgresSink, captureID uuid.UUID, deviceID string, samples []*pdi.SensorSample) error {
	for i, s := range samples {
		if err := sink.Insert(ctx, captureID, deviceID, i, s); err != nil {
			return fmt.Errorf("insert sample %d: %w", i, err)
		}
	}
	return nil
}

// Close closes the database connection
func (p *PostgresSink) Close() error {
	if p.db == nil {
		return nil
	}
	return p.db.Close()
}
