package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/quatton/catmap-adapter/pkg/catmap"
	"github.com/quatton/catmap-adapter/pkg/db/models"
	"github.com/quatton/catmap-adapter/pkg/qerr"
)

// SQLStore keeps records in the catmap.outcomes table.
type SQLStore struct {
	db *bun.DB
}

func NewSQLStore(db *bun.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Save(ctx context.Context, rec *Record) error {
	row := &models.Outcome{
		RunID:      rec.RunID,
		Name:       rec.Name,
		Status:     string(rec.Status),
		Code:       string(rec.Code),
		ExitStatus: rec.ExitStatus,
		Message:    rec.Message,
		Log:        rec.Log,
		CreatedAt:  rec.CreatedAt,
	}
	if rec.Bundle != nil {
		bundle, err := json.Marshal(rec.Bundle)
		if err != nil {
			return fmt.Errorf("failed to encode result bundle: %w", err)
		}
		row.Bundle = bundle
	}

	_, err := s.db.NewInsert().
		Model(row).
		On("CONFLICT (run_id) DO UPDATE").
		Set("status = EXCLUDED.status").
		Set("code = EXCLUDED.code").
		Set("exit_status = EXCLUDED.exit_status").
		Set("message = EXCLUDED.message").
		Set("log = EXCLUDED.log").
		Set("bundle = EXCLUDED.bundle").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to store outcome: %w", err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, runID string) (*Record, error) {
	row := new(models.Outcome)
	err := s.db.NewSelect().Model(row).Where("run_id = ?", runID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load outcome: %w", err)
	}

	rec := &Record{
		RunID:      row.RunID,
		Name:       row.Name,
		Status:     Status(row.Status),
		Code:       qerr.Code(row.Code),
		ExitStatus: row.ExitStatus,
		Message:    row.Message,
		Log:        row.Log,
		CreatedAt:  row.CreatedAt,
	}
	if len(row.Bundle) > 0 {
		rec.Bundle = new(catmap.ResultBundle)
		if err := json.Unmarshal(row.Bundle, rec.Bundle); err != nil {
			return nil, fmt.Errorf("failed to decode result bundle: %w", err)
		}
	}
	return rec, nil
}

func (s *SQLStore) Delete(ctx context.Context, runID string) error {
	_, err := s.db.NewDelete().Model((*models.Outcome)(nil)).Where("run_id = ?", runID).Exec(ctx)
	return err
}

var _ Store = (*SQLStore)(nil)
