package sqlite

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/wattbound/wattd/internal/domain"
)

// ─── Transition History ─────────────────────────────────────────────────────

// InsertTransition records a committed QoS update.
func (d *DB) InsertTransition(tr domain.Transition) (int64, error) {
	result, err := d.db.Exec(
		`INSERT INTO qos_transitions (session_id, timestamp_ns, value, active_count, reason)
		 VALUES (?, ?, ?, ?, ?)`,
		tr.SessionID, tr.Timestamp.UnixNano(), int64(tr.Value), tr.ActiveCount, tr.Reason,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// RecentTransitions returns up to limit transitions, newest first.
func (d *DB) RecentTransitions(limit int) ([]domain.Transition, error) {
	rows, err := d.db.Query(
		`SELECT id, session_id, timestamp_ns, value, active_count, reason
		 FROM qos_transitions ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transitions []domain.Transition
	for rows.Next() {
		var tr domain.Transition
		var ts, value int64
		if err := rows.Scan(&tr.ID, &tr.SessionID, &ts, &value, &tr.ActiveCount, &tr.Reason); err != nil {
			return nil, err
		}
		tr.Timestamp = time.Unix(0, ts)
		tr.Value = domain.QoSValue(value)
		transitions = append(transitions, tr)
	}
	return transitions, rows.Err()
}

// PruneTransitionsBefore deletes transitions older than cutoff and returns
// how many rows were removed.
func (d *DB) PruneTransitionsBefore(cutoff time.Time) (int64, error) {
	result, err := d.db.Exec(
		`DELETE FROM qos_transitions WHERE timestamp_ns < ?`,
		cutoff.UnixNano(),
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// ─── Overload Periods ───────────────────────────────────────────────────────

// InsertOverloadPeriod records a completed bottleneck interval.
func (d *DB) InsertOverloadPeriod(p domain.OverloadPeriod) (int64, error) {
	result, err := d.db.Exec(
		`INSERT INTO overload_periods (began_ns, ended_ns) VALUES (?, ?)`,
		p.BeganAt.UnixNano(), p.EndedAt.UnixNano(),
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// RecentOverloadPeriods returns up to limit periods, newest first.
func (d *DB) RecentOverloadPeriods(limit int) ([]domain.OverloadPeriod, error) {
	rows, err := d.db.Query(
		`SELECT id, began_ns, ended_ns FROM overload_periods ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var periods []domain.OverloadPeriod
	for rows.Next() {
		var p domain.OverloadPeriod
		var began, ended int64
		if err := rows.Scan(&p.ID, &began, &ended); err != nil {
			return nil, err
		}
		p.BeganAt = time.Unix(0, began)
		p.EndedAt = time.Unix(0, ended)
		periods = append(periods, p)
	}
	return periods, rows.Err()
}

// ─── Node Identity ──────────────────────────────────────────────────────────

// NodeID returns the persistent node identity, generating and storing a
// fresh UUID on first call.
func (d *DB) NodeID() (string, error) {
	var id string
	err := d.db.QueryRow(
		`SELECT value FROM node_info WHERE key = 'node_id'`,
	).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return "", err
	}

	id = "node-" + uuid.NewString()
	_, err = d.db.Exec(
		`INSERT INTO node_info (key, value) VALUES ('node_id', ?)`, id,
	)
	if err != nil {
		return "", err
	}
	return id, nil
}
