package bbsstore

import (
	"database/sql"
	"fmt"
	"time"
)

// NextBulletinID assigns a dense, never-reused bulletin id.
func (tx *Tx) NextBulletinID() (int64, error) { return tx.nextCounter("bulletin") }

// CreateBulletin inserts a bulletin with a pre-assigned id (from
// NextBulletinID, in the same transaction).
func (tx *Tx) CreateBulletin(id int64, author, subject, body string) (Bulletin, error) {
	now := time.Now().UTC()
	b := Bulletin{ID: id, Author: author, Subject: subject, Body: body, CreatedAt: now, UpdatedAt: now}
	_, err := tx.tx.Exec(`INSERT INTO bulletins(id, author, subject, body, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`, b.ID, b.Author, b.Subject, b.Body, now.Unix(), now.Unix())
	if err != nil {
		return Bulletin{}, fmt.Errorf("bbsstore: insert bulletin: %w", err)
	}
	return b, nil
}

// GetBulletin looks up a bulletin by id.
func (tx *Tx) GetBulletin(id int64) (Bulletin, error) {
	var b Bulletin
	var created, updated int64
	err := tx.tx.QueryRow(`SELECT id, author, subject, body, created_at, updated_at
		FROM bulletins WHERE id = ?`, id).Scan(&b.ID, &b.Author, &b.Subject, &b.Body, &created, &updated)
	if err == sql.ErrNoRows {
		return Bulletin{}, ErrNotFound
	}
	if err != nil {
		return Bulletin{}, fmt.Errorf("bbsstore: scan bulletin: %w", err)
	}
	b.CreatedAt = time.Unix(created, 0).UTC()
	b.UpdatedAt = time.Unix(updated, 0).UTC()
	return b, nil
}

// ListBulletins returns bulletins newest-first by updated_at, optionally
// limited to the most recent `limit` (0 means unlimited).
func (tx *Tx) ListBulletins(limit int) ([]Bulletin, error) {
	query := `SELECT id, author, subject, body, created_at, updated_at FROM bulletins ORDER BY updated_at DESC, id DESC`
	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = tx.tx.Query(query+` LIMIT ?`, limit)
	} else {
		rows, err = tx.tx.Query(query)
	}
	if err != nil {
		return nil, fmt.Errorf("bbsstore: list bulletins: %w", err)
	}
	defer rows.Close()
	var out []Bulletin
	for rows.Next() {
		var b Bulletin
		var created, updated int64
		if err := rows.Scan(&b.ID, &b.Author, &b.Subject, &b.Body, &created, &updated); err != nil {
			return nil, err
		}
		b.CreatedAt = time.Unix(created, 0).UTC()
		b.UpdatedAt = time.Unix(updated, 0).UTC()
		out = append(out, b)
	}
	return out, rows.Err()
}

// DeleteBulletin removes a bulletin by id. The id is never reused.
func (tx *Tx) DeleteBulletin(id int64) error {
	_, err := tx.tx.Exec(`DELETE FROM bulletins WHERE id=?`, id)
	return err
}
