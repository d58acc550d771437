/*
 * Copyright 2025 Edge2LoRa Project.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package db

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Edge2LoRa/e2l-as/pkg/logger"
	"github.com/Edge2LoRa/e2l-as/pkg/models"
)

var (
	// ErrExperimentExists is returned when the experiment id already
	// has a table. Each run must use a fresh id so results are never
	// mixed.
	ErrExperimentExists = errors.New("experiment id already in use")

	// ErrInvalidExperimentID is returned for ids that cannot become a
	// table name.
	ErrInvalidExperimentID = errors.New("invalid experiment id")
)

var experimentIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ExperimentStore writes telemetry documents into the experiment's
// table.
type ExperimentStore struct {
	pool   *pgxpool.Pool
	table  string
	logger logger.Logger
}

// NewExperimentStore creates the table for a new experiment. It fails
// with ErrExperimentExists when the id was used before.
func NewExperimentStore(ctx context.Context, pool *pgxpool.Pool, experimentID string, log logger.Logger) (*ExperimentStore, error) {
	if !experimentIDPattern.MatchString(experimentID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidExperimentID, experimentID)
	}

	table := "e2l_experiment_" + sanitizeIdentifier(experimentID)

	var exists bool
	if err := pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)`,
		table,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check experiment table: %w", err)
	}

	if exists {
		return nil, fmt.Errorf("%w: %s", ErrExperimentExists, experimentID)
	}

	createStmt := fmt.Sprintf(`
		CREATE TABLE %q (
			_id        TEXT PRIMARY KEY,
			doc_type   TEXT NOT NULL,
			doc        JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, table)

	if _, err := pool.Exec(ctx, createStmt); err != nil {
		return nil, fmt.Errorf("failed to create experiment table: %w", err)
	}

	log.Info().Str("experiment_id", experimentID).Str("table", table).Msg("Experiment storage ready")

	return &ExperimentStore{pool: pool, table: table, logger: log}, nil
}

// PersistStats writes a statistics delta document.
func (s *ExperimentStore) PersistStats(ctx context.Context, doc *models.StatsDocument) error {
	return s.insert(ctx, doc.ID, doc.Type, doc)
}

// PersistKeyAgreementLog writes a key-agreement log document.
func (s *ExperimentStore) PersistKeyAgreementLog(ctx context.Context, doc *models.KeyAgreementLogDocument) error {
	return s.insert(ctx, doc.ID, doc.Type, doc)
}

// PersistFrameLog writes a per-frame log document.
func (s *ExperimentStore) PersistFrameLog(ctx context.Context, doc *models.FrameLogDocument) error {
	return s.insert(ctx, doc.ID, doc.Type, doc)
}

// PersistGatewayFrames writes a per-gateway frame-count sample.
func (s *ExperimentStore) PersistGatewayFrames(ctx context.Context, doc *models.GatewayFramesDocument) error {
	return s.insert(ctx, doc.ID, doc.Type, doc)
}

// PersistSys writes a host-resource sample.
func (s *ExperimentStore) PersistSys(ctx context.Context, doc *models.SysDocument) error {
	return s.insert(ctx, doc.ID, doc.Type, doc)
}

func (s *ExperimentStore) insert(ctx context.Context, id, docType string, doc interface{}) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode %s document: %w", docType, err)
	}

	stmt := fmt.Sprintf(`INSERT INTO %q (_id, doc_type, doc) VALUES ($1, $2, $3)`, s.table)

	if _, err := s.pool.Exec(ctx, stmt, id, docType, payload); err != nil {
		return fmt.Errorf("failed to insert %s document: %w", docType, err)
	}

	return nil
}

// sanitizeIdentifier maps dashes to underscores so the id can sit
// inside a table name.
func sanitizeIdentifier(id string) string {
	out := make([]byte, len(id))

	for i := 0; i < len(id); i++ {
		c := id[i]
		if c == '-' {
			c = '_'
		}

		out[i] = c
	}

	return string(out)
}
