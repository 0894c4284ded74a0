package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"dispatch-ops/internal/opstate"
)

// Store reads operational state owned by the surrounding platform. All
// queries are read-only; this core never writes incident or unit rows.
type Store struct {
	db *sql.DB
}

// NewStore constructs a store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// UnitsOnScene returns units with an arrival timestamp and no clear timestamp.
func (s *Store) UnitsOnScene(ctx context.Context) ([]opstate.Unit, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("opstate store: nil db")
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, call_sign, status, COALESCE(incident_id, ''), arrived_at
FROM units
WHERE arrived_at IS NOT NULL AND cleared_at IS NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []opstate.Unit
	for rows.Next() {
		var unit opstate.Unit
		if err := rows.Scan(&unit.ID, &unit.CallSign, &unit.Status, &unit.IncidentID, &unit.ArrivedAt); err != nil {
			return nil, err
		}
		unit.ArrivedAt = unit.ArrivedAt.UTC()
		result = append(result, unit)
	}
	return result, rows.Err()
}

// IncidentsCreatedSince returns incidents created at or after the cutoff.
func (s *Store) IncidentsCreatedSince(ctx context.Context, since time.Time) ([]opstate.Incident, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("opstate store: nil db")
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, number, category, severity, status, COALESCE(location, ''), COALESCE(hold_reason, ''), COALESCE(priority, ''), created_at
FROM incidents
WHERE created_at >= $1
ORDER BY created_at ASC`, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIncidents(rows)
}

// IncidentsByStatus returns incidents whose status is in the given set.
func (s *Store) IncidentsByStatus(ctx context.Context, statuses ...string) ([]opstate.Incident, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("opstate store: nil db")
	}
	if len(statuses) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, number, category, severity, status, COALESCE(location, ''), COALESCE(hold_reason, ''), COALESCE(priority, ''), created_at
FROM incidents
WHERE status = ANY($1)
ORDER BY created_at ASC`, statuses)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIncidents(rows)
}

// HeldIncidents returns incidents on hold.
func (s *Store) HeldIncidents(ctx context.Context) ([]opstate.Incident, error) {
	return s.IncidentsByStatus(ctx, opstate.StatusHeld)
}

// TransportsSince returns unit assignments with a transporting timestamp at
// or after the cutoff.
func (s *Store) TransportsSince(ctx context.Context, since time.Time) ([]opstate.Transport, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("opstate store: nil db")
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT a.unit_id, COALESCE(u.call_sign, a.unit_id), a.incident_id, a.transporting_at, COALESCE(a.destination, '')
FROM unit_assignments a
LEFT JOIN units u ON u.id = a.unit_id
WHERE a.transporting_at IS NOT NULL AND a.transporting_at >= $1
ORDER BY a.transporting_at ASC`, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []opstate.Transport
	for rows.Next() {
		var tr opstate.Transport
		if err := rows.Scan(&tr.UnitID, &tr.CallSign, &tr.IncidentID, &tr.TransportingAt, &tr.Destination); err != nil {
			return nil, err
		}
		tr.TransportingAt = tr.TransportingAt.UTC()
		result = append(result, tr)
	}
	return result, rows.Err()
}

func scanIncidents(rows *sql.Rows) ([]opstate.Incident, error) {
	var result []opstate.Incident
	for rows.Next() {
		var inc opstate.Incident
		if err := rows.Scan(&inc.ID, &inc.Number, &inc.Category, &inc.Severity, &inc.Status,
			&inc.Location, &inc.HoldReason, &inc.Priority, &inc.CreatedAt); err != nil {
			return nil, err
		}
		inc.CreatedAt = inc.CreatedAt.UTC()
		result = append(result, inc)
	}
	return result, rows.Err()
}
