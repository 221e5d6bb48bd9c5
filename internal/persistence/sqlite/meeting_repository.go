package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/example/meeting-broker/internal/engine"
	"github.com/example/meeting-broker/internal/meeting"
	"github.com/example/meeting-broker/internal/persistence"
)

// CreateMeeting inserts a meeting with its parties and history.
func (s *Store) CreateMeeting(ctx context.Context, m meeting.Meeting) error {
	if m.ID == "" {
		return fmt.Errorf("sqlite: meeting id is required")
	}

	row, err := encodeMeeting(m)
	if err != nil {
		return err
	}

	return s.withTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO meetings (id, state, constraints_json, candidates_json, bookings_json,
				committed_start, committed_end, committed_json, needs_attention, resolution_attempts,
				created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			row.id, row.state, row.constraints, row.candidates, row.bookings,
			row.committedStart, row.committedEnd, row.committed, row.needsAttention, row.resolutionAttempts,
			row.createdAt, row.updatedAt,
		)
		if err != nil {
			if strings.Contains(err.Error(), "UNIQUE constraint failed") {
				return persistence.ErrDuplicate
			}
			return fmt.Errorf("sqlite: insert meeting: %w", err)
		}

		if err := insertParties(ctx, tx, m.ID, m.Parties); err != nil {
			return err
		}
		return replaceHistory(ctx, tx, m.ID, m.History)
	})
}

// GetMeeting retrieves a meeting by id.
func (s *Store) GetMeeting(ctx context.Context, id string) (meeting.Meeting, error) {
	if id == "" {
		return meeting.Meeting{}, persistence.ErrNotFound
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, state, constraints_json, candidates_json, bookings_json,
			committed_json, needs_attention, resolution_attempts, created_at, updated_at
		FROM meetings WHERE id = ?`, id)

	m, err := scanMeeting(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return meeting.Meeting{}, persistence.ErrNotFound
		}
		return meeting.Meeting{}, err
	}

	if m.Parties, err = s.loadParties(ctx, id); err != nil {
		return meeting.Meeting{}, err
	}
	if m.History, err = s.loadHistory(ctx, id); err != nil {
		return meeting.Meeting{}, err
	}
	return m, nil
}

// UpdateMeeting replaces a meeting's mutable fields, parties, and history.
func (s *Store) UpdateMeeting(ctx context.Context, m meeting.Meeting) error {
	row, err := encodeMeeting(m)
	if err != nil {
		return err
	}

	return s.withTransaction(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE meetings
			SET state = ?, constraints_json = ?, candidates_json = ?, bookings_json = ?,
				committed_start = ?, committed_end = ?, committed_json = ?,
				needs_attention = ?, resolution_attempts = ?, updated_at = ?
			WHERE id = ?`,
			row.state, row.constraints, row.candidates, row.bookings,
			row.committedStart, row.committedEnd, row.committed,
			row.needsAttention, row.resolutionAttempts, row.updatedAt,
			row.id,
		)
		if err != nil {
			return fmt.Errorf("sqlite: update meeting: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("sqlite: rows affected: %w", err)
		}
		if affected == 0 {
			return persistence.ErrNotFound
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM meeting_parties WHERE meeting_id = ?`, m.ID); err != nil {
			return fmt.Errorf("sqlite: clear parties: %w", err)
		}
		if err := insertParties(ctx, tx, m.ID, m.Parties); err != nil {
			return err
		}
		return replaceHistory(ctx, tx, m.ID, m.History)
	})
}

// ListMeetings returns meetings matching the filter ordered by creation time
// then id.
func (s *Store) ListMeetings(ctx context.Context, filter persistence.MeetingFilter) ([]meeting.Meeting, error) {
	query := `
		SELECT DISTINCT m.id, m.state, m.constraints_json, m.candidates_json, m.bookings_json,
			m.committed_json, m.needs_attention, m.resolution_attempts, m.created_at, m.updated_at
		FROM meetings m`
	var conditions []string
	var args []any

	if filter.PartyID != "" {
		query += " JOIN meeting_parties mp ON m.id = mp.meeting_id"
		conditions = append(conditions, "mp.party_id = ?")
		args = append(args, filter.PartyID)
	}
	if len(filter.States) > 0 {
		placeholders := make([]string, len(filter.States))
		for i, state := range filter.States {
			placeholders[i] = "?"
			args = append(args, string(state))
		}
		conditions = append(conditions, fmt.Sprintf("m.state IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.StartsAfter != nil {
		conditions = append(conditions, "m.committed_start > ?")
		args = append(args, filter.StartsAfter.UTC().Format(time.RFC3339Nano))
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY m.created_at ASC, m.id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list meetings: %w", err)
	}
	defer rows.Close()

	var meetings []meeting.Meeting
	for rows.Next() {
		m, err := scanMeeting(rows)
		if err != nil {
			return nil, err
		}
		meetings = append(meetings, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate meetings: %w", err)
	}

	for i := range meetings {
		if meetings[i].Parties, err = s.loadParties(ctx, meetings[i].ID); err != nil {
			return nil, err
		}
		if meetings[i].History, err = s.loadHistory(ctx, meetings[i].ID); err != nil {
			return nil, err
		}
	}
	return meetings, nil
}

type meetingRow struct {
	id                 string
	state              string
	constraints        string
	candidates         string
	bookings           string
	committedStart     sql.NullString
	committedEnd       sql.NullString
	committed          sql.NullString
	needsAttention     bool
	resolutionAttempts int
	createdAt          string
	updatedAt          string
}

func encodeMeeting(m meeting.Meeting) (meetingRow, error) {
	constraints, err := json.Marshal(m.Constraints)
	if err != nil {
		return meetingRow{}, fmt.Errorf("sqlite: encode constraints: %w", err)
	}
	candidates, err := json.Marshal(m.Candidates)
	if err != nil {
		return meetingRow{}, fmt.Errorf("sqlite: encode candidates: %w", err)
	}
	bookings, err := json.Marshal(m.Bookings)
	if err != nil {
		return meetingRow{}, fmt.Errorf("sqlite: encode bookings: %w", err)
	}

	row := meetingRow{
		id:                 m.ID,
		state:              string(m.State),
		constraints:        string(constraints),
		candidates:         string(candidates),
		bookings:           string(bookings),
		needsAttention:     m.NeedsAttention,
		resolutionAttempts: m.ResolutionAttempts,
		createdAt:          m.CreatedAt.UTC().Format(time.RFC3339Nano),
		updatedAt:          m.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}

	if m.CommittedSlot != nil {
		committed, err := json.Marshal(m.CommittedSlot)
		if err != nil {
			return meetingRow{}, fmt.Errorf("sqlite: encode committed slot: %w", err)
		}
		row.committed = sql.NullString{String: string(committed), Valid: true}
		row.committedStart = sql.NullString{String: m.CommittedSlot.Start.UTC().Format(time.RFC3339Nano), Valid: true}
		row.committedEnd = sql.NullString{String: m.CommittedSlot.End.UTC().Format(time.RFC3339Nano), Valid: true}
	}
	return row, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMeeting(scanner rowScanner) (meeting.Meeting, error) {
	var (
		m                  meeting.Meeting
		state              string
		constraintsJSON    string
		candidatesJSON     string
		bookingsJSON       string
		committedJSON      sql.NullString
		createdAt          string
		updatedAt          string
		needsAttention     bool
		resolutionAttempts int
	)

	err := scanner.Scan(&m.ID, &state, &constraintsJSON, &candidatesJSON, &bookingsJSON,
		&committedJSON, &needsAttention, &resolutionAttempts, &createdAt, &updatedAt)
	if err != nil {
		return meeting.Meeting{}, err
	}

	m.State = meeting.State(state)
	m.NeedsAttention = needsAttention
	m.ResolutionAttempts = resolutionAttempts

	if err := json.Unmarshal([]byte(constraintsJSON), &m.Constraints); err != nil {
		return meeting.Meeting{}, fmt.Errorf("sqlite: decode constraints: %w", err)
	}
	if err := json.Unmarshal([]byte(candidatesJSON), &m.Candidates); err != nil {
		return meeting.Meeting{}, fmt.Errorf("sqlite: decode candidates: %w", err)
	}
	if err := json.Unmarshal([]byte(bookingsJSON), &m.Bookings); err != nil {
		return meeting.Meeting{}, fmt.Errorf("sqlite: decode bookings: %w", err)
	}
	if committedJSON.Valid {
		var slot engine.CandidateSlot
		if err := json.Unmarshal([]byte(committedJSON.String), &slot); err != nil {
			return meeting.Meeting{}, fmt.Errorf("sqlite: decode committed slot: %w", err)
		}
		m.CommittedSlot = &slot
	}

	if m.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return meeting.Meeting{}, fmt.Errorf("sqlite: parse created_at: %w", err)
	}
	if m.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return meeting.Meeting{}, fmt.Errorf("sqlite: parse updated_at: %w", err)
	}
	return m, nil
}

func insertParties(ctx context.Context, tx *sql.Tx, meetingID string, parties []string) error {
	for i, party := range parties {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO meeting_parties (meeting_id, party_id, position) VALUES (?, ?, ?)`,
			meetingID, party, i); err != nil {
			return fmt.Errorf("sqlite: insert party %s: %w", party, err)
		}
	}
	return nil
}

// replaceHistory rewrites the append-only history rows for a meeting. History
// only grows, so a full rewrite stays correct under the per-meeting write
// serialization the service enforces.
func replaceHistory(ctx context.Context, tx *sql.Tx, meetingID string, history []meeting.Event) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM meeting_history WHERE meeting_id = ?`, meetingID); err != nil {
		return fmt.Errorf("sqlite: clear history: %w", err)
	}
	for i, event := range history {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO meeting_history (meeting_id, seq, from_state, to_state, at, cause) VALUES (?, ?, ?, ?, ?, ?)`,
			meetingID, i, string(event.From), string(event.To), event.At.UTC().Format(time.RFC3339Nano), event.Cause); err != nil {
			return fmt.Errorf("sqlite: insert history: %w", err)
		}
	}
	return nil
}

func (s *Store) loadParties(ctx context.Context, meetingID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT party_id FROM meeting_parties WHERE meeting_id = ? ORDER BY position ASC`, meetingID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: load parties: %w", err)
	}
	defer rows.Close()

	var parties []string
	for rows.Next() {
		var party string
		if err := rows.Scan(&party); err != nil {
			return nil, fmt.Errorf("sqlite: scan party: %w", err)
		}
		parties = append(parties, party)
	}
	return parties, rows.Err()
}

func (s *Store) loadHistory(ctx context.Context, meetingID string) ([]meeting.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT from_state, to_state, at, cause FROM meeting_history WHERE meeting_id = ? ORDER BY seq ASC`, meetingID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: load history: %w", err)
	}
	defer rows.Close()

	var history []meeting.Event
	for rows.Next() {
		var event meeting.Event
		var from, to, at string
		if err := rows.Scan(&from, &to, &at, &event.Cause); err != nil {
			return nil, fmt.Errorf("sqlite: scan history: %w", err)
		}
		event.From = meeting.State(from)
		event.To = meeting.State(to)
		if event.At, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, fmt.Errorf("sqlite: parse history timestamp: %w", err)
		}
		history = append(history, event)
	}
	return history, rows.Err()
}
