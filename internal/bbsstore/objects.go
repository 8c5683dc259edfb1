package bbsstore

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ListOwnedObjectUUIDs returns the uuids of objects owned by ownerUUID, in
// creation order.
func (tx *Tx) ListOwnedObjectUUIDs(ownerUUID string) ([]string, error) {
	rows, err := tx.tx.Query(`SELECT uuid FROM objects WHERE owner = ? ORDER BY created_at ASC, uuid ASC`, ownerUUID)
	if err != nil {
		return nil, fmt.Errorf("bbsstore: list owned objects: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetObject looks up an object by uuid. ErrNotFound if absent.
func (tx *Tx) GetObject(objUUID string) (Object, error) {
	var o Object
	var created, modified int64
	err := tx.tx.QueryRow(`SELECT uuid, name, data, binary, private, owner, created_at, modified_at
		FROM objects WHERE uuid = ?`, objUUID).
		Scan(&o.UUID, &o.Name, &o.Data, &o.Binary, &o.Private, &o.Owner, &created, &modified)
	if err == sql.ErrNoRows {
		return Object{}, ErrNotFound
	}
	if err != nil {
		return Object{}, fmt.Errorf("bbsstore: scan object: %w", err)
	}
	o.CreatedAt = time.Unix(created, 0).UTC()
	o.ModifiedAt = time.Unix(modified, 0).UTC()
	return o, nil
}

// CreateObject inserts a new object owned by ownerUUID and returns it.
func (tx *Tx) CreateObject(ownerUUID, name string, data []byte, binary, private bool) (Object, error) {
	now := time.Now().UTC()
	o := Object{
		UUID: uuid.NewString(), Name: truncate(name, MaxNameLen), Data: data,
		Binary: binary, Private: private, Owner: ownerUUID, CreatedAt: now, ModifiedAt: now,
	}
	_, err := tx.tx.Exec(`INSERT INTO objects(uuid, name, data, binary, private, owner, created_at, modified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		o.UUID, o.Name, o.Data, o.Binary, o.Private, o.Owner, o.CreatedAt.Unix(), o.ModifiedAt.Unix())
	if err != nil {
		return Object{}, fmt.Errorf("bbsstore: insert object: %w", err)
	}
	return o, nil
}

// UpdateObject overwrites an existing object's content/name, bumping
// modified_at; the binary flag follows the latest data assignment. Caller
// is responsible for the ownership check.
func (tx *Tx) UpdateObject(objUUID string, name string, data []byte, binary bool) error {
	_, err := tx.tx.Exec(`UPDATE objects SET name=?, data=?, binary=?, modified_at=? WHERE uuid=?`,
		truncate(name, MaxNameLen), data, binary, time.Now().UTC().Unix(), objUUID)
	return err
}

// DeleteObject removes an object by uuid.
func (tx *Tx) DeleteObject(objUUID string) error {
	_, err := tx.tx.Exec(`DELETE FROM objects WHERE uuid=?`, objUUID)
	return err
}
