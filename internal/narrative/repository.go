package narrative

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository appends system annotations to incident narrative logs.
type Repository struct {
	db *sql.DB
}

// NewRepository constructs a narrative repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// AppendNarrative inserts a timestamped narrative line for an incident.
func (r *Repository) AppendNarrative(ctx context.Context, incidentID, text, author string) error {
	if r == nil || r.db == nil {
		return errors.New("narrative: nil db")
	}
	if incidentID == "" {
		return errors.New("narrative: empty incident id")
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO incident_narratives (id, incident_id, body, author, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		"nar-"+uuid.NewString(), incidentID, text, author, time.Now().UTC(),
	)
	return err
}

// ListByIncident returns narrative lines for an incident, oldest first.
func (r *Repository) ListByIncident(ctx context.Context, incidentID string) ([]Entry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, incident_id, body, author, created_at
		FROM incident_narratives
		WHERE incident_id = $1
		ORDER BY created_at ASC`,
		incidentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var entry Entry
		if err := rows.Scan(&entry.ID, &entry.IncidentID, &entry.Body, &entry.Author, &entry.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// Entry is one narrative line.
type Entry struct {
	ID         string    `json:"id"`
	IncidentID string    `json:"incident_id"`
	Body       string    `json:"body"`
	Author     string    `json:"author"`
	CreatedAt  time.Time `json:"created_at"`
}
