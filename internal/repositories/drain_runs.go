package repositories

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/desertthunder/murmur/internal/shared"
)

// DrainRun records the outcome of one drain.
type DrainRun struct {
	ID            string    `json:"id"`
	StartedAt     time.Time `json:"startedAt"`
	FinishedAt    time.Time `json:"finishedAt"`
	PostsSynced   int       `json:"postsSynced"`
	PostsFailed   int       `json:"postsFailed"`
	ItemsReplayed int       `json:"itemsReplayed"`
	ItemsFailed   int       `json:"itemsFailed"`
	ItemsDead     int       `json:"itemsDead"`
	ErrorMessage  string    `json:"error,omitempty"`
}

// Duration returns how long the run took, or 0 while it is unfinished.
func (r DrainRun) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// DrainRunRepository persists drain history in the drain_runs table.
type DrainRunRepository struct {
	db *sql.DB
}

// NewDrainRunRepository creates a new DrainRunRepository with the given database connection
func NewDrainRunRepository(db *sql.DB) *DrainRunRepository {
	return &DrainRunRepository{db: db}
}

// Create inserts run, assigning an ID when it has none.
func (r *DrainRunRepository) Create(run *DrainRun) error {
	if run.ID == "" {
		run.ID = shared.GenerateID()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO drain_runs (
			id, started_at, finished_at, posts_synced, posts_failed,
			items_replayed, items_failed, items_dead, error_message
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.Exec(query,
		run.ID,
		run.StartedAt,
		nullTime(run.FinishedAt),
		run.PostsSynced,
		run.PostsFailed,
		run.ItemsReplayed,
		run.ItemsFailed,
		run.ItemsDead,
		nullString(run.ErrorMessage),
	)
	if err != nil {
		return fmt.Errorf("%w: failed to insert drain run: %v", shared.ErrStorage, err)
	}
	return nil
}

// Recent returns up to limit runs, newest first.
func (r *DrainRunRepository) Recent(limit int) ([]*DrainRun, error) {
	if limit <= 0 {
		limit = 10
	}

	query := `
		SELECT
			id, started_at, finished_at, posts_synced, posts_failed,
			items_replayed, items_failed, items_dead, error_message
		FROM drain_runs
		ORDER BY started_at DESC
		LIMIT ?
	`

	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query drain runs: %v", shared.ErrStorage, err)
	}
	defer rows.Close()

	var runs []*DrainRun
	for rows.Next() {
		var (
			run        DrainRun
			finishedAt sql.NullTime
			errMessage sql.NullString
		)
		err := rows.Scan(
			&run.ID,
			&run.StartedAt,
			&finishedAt,
			&run.PostsSynced,
			&run.PostsFailed,
			&run.ItemsReplayed,
			&run.ItemsFailed,
			&run.ItemsDead,
			&errMessage,
		)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to scan drain run: %v", shared.ErrStorage, err)
		}
		if finishedAt.Valid {
			run.FinishedAt = finishedAt.Time
		}
		run.ErrorMessage = errMessage.String
		runs = append(runs, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to read drain runs: %v", shared.ErrStorage, err)
	}
	return runs, nil
}

// Prune deletes runs started before cutoff and returns how many were removed.
func (r *DrainRunRepository) Prune(cutoff time.Time) (int64, error) {
	result, err := r.db.Exec(`DELETE FROM drain_runs WHERE started_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("%w: failed to prune drain runs: %v", shared.ErrStorage, err)
	}
	return result.RowsAffected()
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
