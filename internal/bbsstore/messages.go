package bbsstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// reserveMessageUUID claims a globally unique message uuid, failing if it
// somehow already exists (defence in depth against a uuid collision).
func (tx *Tx) reserveMessageUUID(id string) error {
	_, err := tx.tx.Exec(`INSERT INTO message_uuids(uuid) VALUES (?)`, id)
	return err
}

// SendMessage delivers text (plus attachments, already snapshotted as of
// send time by the caller) to each recipient's mailbox, and a sent-copy in
// the sender's own mailbox. recipients containing RecipientAll fans out to
// every known, enabled, non-hidden user instead of the literal list.
// All copies share one freshly-minted uuid;
// the returned count is the number of mailbox copies written, sender's
// sent-copy included.
func (tx *Tx) SendMessage(sender string, recipients []string, text string, attachments []Attachment) (Message, int, error) {
	id := uuid.NewString()
	if err := tx.reserveMessageUUID(id); err != nil {
		return Message{}, 0, fmt.Errorf("bbsstore: reserve message uuid: %w", err)
	}

	targets := recipients
	broadcast := false
	for _, r := range recipients {
		if r == RecipientAll {
			broadcast = true
			break
		}
	}
	if broadcast {
		all, err := tx.listActiveCallsigns()
		if err != nil {
			return Message{}, 0, err
		}
		targets = all
	}

	now := time.Now().UTC()
	attJSON, err := json.Marshal(attachments)
	if err != nil {
		return Message{}, 0, fmt.Errorf("bbsstore: marshal attachments: %w", err)
	}
	recipJSON, err := json.Marshal(recipients)
	if err != nil {
		return Message{}, 0, fmt.Errorf("bbsstore: marshal recipients: %w", err)
	}

	// One copy per distinct mailbox; a broadcast that includes the sender
	// must not double-insert the sender's copy.
	mailboxes := []string{sender}
	seen := map[string]bool{sender: true}
	for _, t := range targets {
		if seen[t] {
			continue
		}
		seen[t] = true
		mailboxes = append(mailboxes, t)
	}
	for _, mbox := range mailboxes {
		delivered := mbox != sender
		if _, err := tx.tx.Exec(`INSERT INTO messages(msg_uuid, mailbox_of, sent_at, text,
			recipients_json, sender, retrieved, delivered, attachments_json)
			VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)`,
			id, mbox, now.Unix(), text, string(recipJSON), sender, delivered, string(attJSON)); err != nil {
			return Message{}, 0, fmt.Errorf("bbsstore: insert message copy: %w", err)
		}
	}

	return Message{
		UUID: id, MailboxOf: sender, SentAt: now, Text: text,
		Recipients: recipients, Sender: sender, Delivered: false, Attachments: attachments,
	}, len(mailboxes), nil
}

func (tx *Tx) listActiveCallsigns() ([]string, error) {
	rows, err := tx.tx.Query(`SELECT callsign FROM users WHERE enabled = 1 AND hidden = 0`)
	if err != nil {
		return nil, fmt.Errorf("bbsstore: list active users: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListMailbox returns the messages in callsign's mailbox, newest first.
func (tx *Tx) ListMailbox(callsign string) ([]Message, error) {
	rows, err := tx.tx.Query(`SELECT msg_uuid, mailbox_of, sent_at, text, recipients_json,
		sender, retrieved, delivered, attachments_json
		FROM messages WHERE mailbox_of = ? ORDER BY sent_at DESC`, normCallsign(callsign))
	if err != nil {
		return nil, fmt.Errorf("bbsstore: list mailbox: %w", err)
	}
	defer rows.Close()
	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetMailboxMessage fetches one mailbox copy by (uuid, mailbox).
func (tx *Tx) GetMailboxMessage(msgUUID, mailbox string) (Message, error) {
	row := tx.tx.QueryRow(`SELECT msg_uuid, mailbox_of, sent_at, text, recipients_json,
		sender, retrieved, delivered, attachments_json
		FROM messages WHERE msg_uuid = ? AND mailbox_of = ?`, msgUUID, normCallsign(mailbox))
	var m Message
	var sentAt int64
	var recipJSON, attJSON string
	err := row.Scan(&m.UUID, &m.MailboxOf, &sentAt, &m.Text, &recipJSON, &m.Sender,
		&m.Retrieved, &m.Delivered, &attJSON)
	if err == sql.ErrNoRows {
		return Message{}, ErrNotFound
	}
	if err != nil {
		return Message{}, fmt.Errorf("bbsstore: scan message: %w", err)
	}
	m.SentAt = time.Unix(sentAt, 0).UTC()
	_ = json.Unmarshal([]byte(recipJSON), &m.Recipients)
	_ = json.Unmarshal([]byte(attJSON), &m.Attachments)
	return m, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (Message, error) {
	var m Message
	var sentAt int64
	var recipJSON, attJSON string
	if err := row.Scan(&m.UUID, &m.MailboxOf, &sentAt, &m.Text, &recipJSON, &m.Sender,
		&m.Retrieved, &m.Delivered, &attJSON); err != nil {
		return Message{}, fmt.Errorf("bbsstore: scan message: %w", err)
	}
	m.SentAt = time.Unix(sentAt, 0).UTC()
	_ = json.Unmarshal([]byte(recipJSON), &m.Recipients)
	_ = json.Unmarshal([]byte(attJSON), &m.Attachments)
	return m, nil
}

// MarkRetrieved flags a mailbox copy as read.
func (tx *Tx) MarkRetrieved(msgUUID, mailbox string) error {
	_, err := tx.tx.Exec(`UPDATE messages SET retrieved=1 WHERE msg_uuid=? AND mailbox_of=?`,
		msgUUID, normCallsign(mailbox))
	return err
}

// DeleteMailboxMessage removes one mailbox's copy (not other recipients').
func (tx *Tx) DeleteMailboxMessage(msgUUID, mailbox string) error {
	_, err := tx.tx.Exec(`DELETE FROM messages WHERE msg_uuid=? AND mailbox_of=?`,
		msgUUID, normCallsign(mailbox))
	return err
}
