package bbsstore

import (
	"database/sql"
	"fmt"
	"time"
)

// GetHttpUser looks up an HTTP-façade account by username.
func (tx *Tx) GetHttpUser(username string) (HttpUser, error) {
	var u HttpUser
	var created, lastLogin int64
	err := tx.tx.QueryRow(`SELECT username, password_hash, http_enabled, created_at, last_login, failed_attempts
		FROM http_users WHERE username=?`, normCallsign(username)).
		Scan(&u.Username, &u.PasswordHash, &u.HTTPEnabled, &created, &lastLogin, &u.FailedAttempts)
	if err == sql.ErrNoRows {
		return HttpUser{}, ErrNotFound
	}
	if err != nil {
		return HttpUser{}, fmt.Errorf("bbsstore: scan http_user: %w", err)
	}
	u.CreatedAt = time.Unix(created, 0).UTC()
	if lastLogin > 0 {
		u.LastLogin = time.Unix(lastLogin, 0).UTC()
	}
	return u, nil
}

// CreateHttpUser inserts a new HTTP account with an already-hashed password.
func (tx *Tx) CreateHttpUser(username, passwordHash string) (HttpUser, error) {
	now := time.Now().UTC()
	u := HttpUser{Username: normCallsign(username), PasswordHash: passwordHash, HTTPEnabled: true, CreatedAt: now}
	_, err := tx.tx.Exec(`INSERT INTO http_users(username, password_hash, http_enabled, created_at)
		VALUES (?, ?, 1, ?)`, u.Username, u.PasswordHash, now.Unix())
	if err != nil {
		return HttpUser{}, fmt.Errorf("bbsstore: insert http_user: %w", err)
	}
	return u, nil
}

// RecordLoginSuccess resets the failed-attempt counter and stamps last_login.
func (tx *Tx) RecordLoginSuccess(username string) error {
	_, err := tx.tx.Exec(`UPDATE http_users SET last_login=?, failed_attempts=0 WHERE username=?`,
		time.Now().UTC().Unix(), normCallsign(username))
	return err
}

// RecordLoginFailure increments the failed-attempt counter.
func (tx *Tx) RecordLoginFailure(username string) error {
	_, err := tx.tx.Exec(`UPDATE http_users SET failed_attempts = failed_attempts + 1 WHERE username=?`,
		normCallsign(username))
	return err
}
