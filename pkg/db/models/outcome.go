package models

import (
	"encoding/json"
	"time"

	"github.com/uptrace/bun"
)

// Outcome is the archived result of one run.
type Outcome struct {
	bun.BaseModel `bun:"table:catmap.outcomes,alias:o"`

	RunID      string          `bun:",pk"`
	Name       string          `bun:",nullzero"`
	Status     string          `bun:",notnull"`
	Code       string          `bun:",nullzero"`
	ExitStatus int             `bun:",notnull"`
	Message    string          `bun:",nullzero"`
	Log        []byte          `bun:"type:bytea"`
	Bundle     json.RawMessage `bun:"type:jsonb"`

	CreatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp"`
}
