package bbsstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

func normCallsign(c string) string { return strings.ToUpper(strings.TrimSpace(c)) }

// GetUser looks up a user by base callsign (case-insensitive), including
// the uuids of objects it owns. Returns ErrNotFound if absent.
func (tx *Tx) GetUser(callsign string) (User, error) {
	callsign = normCallsign(callsign)
	row := tx.tx.QueryRow(`SELECT callsign, uuid, enabled, hidden, created_at, last_seen,
		bio, status, email, location, socials_json FROM users WHERE callsign = ?`, callsign)
	u, err := scanUser(row)
	if err != nil {
		return User{}, err
	}
	u.ObjectIDs, err = tx.ListOwnedObjectUUIDs(u.UUID)
	if err != nil {
		return User{}, err
	}
	return u, nil
}

func scanUser(row *sql.Row) (User, error) {
	var u User
	var created, seen int64
	var socialsJSON string
	err := row.Scan(&u.Callsign, &u.UUID, &u.Enabled, &u.Hidden, &created, &seen,
		&u.Bio, &u.Status, &u.Email, &u.Location, &socialsJSON)
	if err == sql.ErrNoRows {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("bbsstore: scan user: %w", err)
	}
	u.CreatedAt = time.Unix(created, 0).UTC()
	u.LastSeen = time.Unix(seen, 0).UTC()
	_ = json.Unmarshal([]byte(socialsJSON), &u.Socials)
	return u, nil
}

// EnsureUser returns the existing user for callsign, creating one (enabled,
// not hidden, fresh uuid) if this is the first time the callsign is seen.
// This is the registration path taken on a callsign's first contact.
func (tx *Tx) EnsureUser(callsign string) (User, error) {
	callsign = normCallsign(callsign)
	u, err := tx.GetUser(callsign)
	if err == nil {
		return u, nil
	}
	if err != ErrNotFound {
		return User{}, err
	}
	u = User{
		Callsign:  callsign,
		UUID:      uuid.NewString(),
		Enabled:   callsign != SystemCallsign,
		Hidden:    callsign == SystemCallsign,
		CreatedAt: time.Now().UTC(),
		LastSeen:  time.Now().UTC(),
	}
	if _, err := tx.tx.Exec(
		`INSERT INTO users(callsign, uuid, enabled, hidden, created_at, last_seen, socials_json)
		 VALUES (?, ?, ?, ?, ?, ?, '[]')`,
		u.Callsign, u.UUID, u.Enabled, u.Hidden, u.CreatedAt.Unix(), u.LastSeen.Unix(),
	); err != nil {
		return User{}, fmt.Errorf("bbsstore: insert user: %w", err)
	}
	return u, nil
}

// TouchLastSeen updates a user's last_seen to now.
func (tx *Tx) TouchLastSeen(callsign string) error {
	_, err := tx.tx.Exec(`UPDATE users SET last_seen = ? WHERE callsign = ?`,
		time.Now().UTC().Unix(), normCallsign(callsign))
	return err
}

// UpdateProfile applies partial profile edits; a nil field is left
// unchanged (a non-nil empty string clears it), and socials replaces the
// list wholesale when non-nil.
func (tx *Tx) UpdateProfile(callsign string, bio, status, email, location *string, socials []string) error {
	callsign = normCallsign(callsign)
	u, err := tx.GetUser(callsign)
	if err != nil {
		return err
	}
	if bio != nil {
		u.Bio = truncate(*bio, MaxBioLen)
	}
	if status != nil {
		u.Status = truncate(*status, MaxStatusLen)
	}
	if email != nil {
		u.Email = *email
	}
	if location != nil {
		u.Location = truncate(*location, MaxLocationLen)
	}
	if socials != nil {
		u.Socials = socials
	}
	socialsJSON, _ := json.Marshal(u.Socials)
	_, err = tx.tx.Exec(`UPDATE users SET bio=?, status=?, email=?, location=?, socials_json=? WHERE callsign=?`,
		u.Bio, u.Status, u.Email, u.Location, string(socialsJSON), callsign)
	return err
}

// ListVisibleUsers returns non-hidden users ordered by callsign, optionally
// capped at limit (0 means unlimited).
func (tx *Tx) ListVisibleUsers(limit int) ([]User, error) {
	query := `SELECT callsign FROM users WHERE hidden = 0 ORDER BY callsign ASC`
	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = tx.tx.Query(query+` LIMIT ?`, limit)
	} else {
		rows, err = tx.tx.Query(query)
	}
	if err != nil {
		return nil, fmt.Errorf("bbsstore: list visible users: %w", err)
	}
	defer rows.Close()
	var callsigns []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		callsigns = append(callsigns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]User, 0, len(callsigns))
	for _, c := range callsigns {
		u, err := tx.GetUser(c)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

// SetEnabled toggles a user's enabled flag (admin action / blacklist).
func (tx *Tx) SetEnabled(callsign string, enabled bool) error {
	_, err := tx.tx.Exec(`UPDATE users SET enabled=? WHERE callsign=?`, enabled, normCallsign(callsign))
	return err
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
