package bbsstore

import "testing"

// newMemStore opens an in-memory SQLite database, runs migrations, and
// returns the store. The database is discarded when the test process exits.
func newMemStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMigrationsApplied(t *testing.T) {
	s := newMemStore(t)
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&count); err != nil {
		t.Fatalf("query schema_migrations: %v", err)
	}
	if count != len(migrations) {
		t.Errorf("expected %d migrations recorded, got %d", len(migrations), count)
	}
}

func TestEnsureUserCreatesOnce(t *testing.T) {
	s := newMemStore(t)

	var uuid1, uuid2 string
	if err := s.Transaction(func(tx *Tx) error {
		u, err := tx.EnsureUser("w1aw")
		uuid1 = u.UUID
		return err
	}); err != nil {
		t.Fatalf("first ensure: %v", err)
	}
	if err := s.Transaction(func(tx *Tx) error {
		u, err := tx.EnsureUser("W1AW")
		uuid2 = u.UUID
		return err
	}); err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	if uuid1 != uuid2 {
		t.Fatalf("expected same uuid for re-contact, got %s and %s", uuid1, uuid2)
	}
}

func TestTransactionRollsBackOnError(t *testing.T) {
	s := newMemStore(t)
	sentinelErr := errSentinel{}

	err := s.Transaction(func(tx *Tx) error {
		if _, err := tx.EnsureUser("KQ4PEC"); err != nil {
			t.Fatalf("ensure user: %v", err)
		}
		return sentinelErr
	})
	if err != sentinelErr {
		t.Fatalf("expected sentinel error, got %v", err)
	}

	err = s.Transaction(func(tx *Tx) error {
		_, err := tx.GetUser("KQ4PEC")
		return err
	})
	if err != ErrNotFound {
		t.Fatalf("expected rollback to discard the user, got %v", err)
	}
}

type errSentinel struct{}

func (errSentinel) Error() string { return "sentinel" }

func TestBulletinIDsDenseAndNeverReused(t *testing.T) {
	s := newMemStore(t)
	var first, second int64
	s.Transaction(func(tx *Tx) error {
		id, err := tx.NextBulletinID()
		if err != nil {
			return err
		}
		first = id
		_, err = tx.CreateBulletin(id, "W1AW", "hello", "body")
		return err
	})
	s.Transaction(func(tx *Tx) error { return tx.DeleteBulletin(first) })
	s.Transaction(func(tx *Tx) error {
		id, err := tx.NextBulletinID()
		second = id
		return err
	})
	if first != 0 {
		t.Fatalf("expected the first bulletin id on an empty store to be 0, got %d", first)
	}
	if second != first+1 {
		t.Fatalf("expected dense sequential ids, got %d then %d", first, second)
	}
}

func TestSystemUserSeededAndPermanentlyBlacklisted(t *testing.T) {
	s := newMemStore(t)
	s.Transaction(func(tx *Tx) error {
		u, err := tx.GetUser(SystemCallsign)
		if err != nil {
			return err
		}
		if u.Enabled || !u.Hidden {
			t.Fatalf("SYSTEM must be disabled and hidden, got %+v", u)
		}
		blocked, err := tx.IsBlacklisted(SystemCallsign)
		if err != nil {
			return err
		}
		if !blocked {
			t.Fatal("SYSTEM must be blacklisted on a fresh store")
		}
		// Attempting to clear the blacklist re-adds SYSTEM.
		cfg, err := tx.GetConfig()
		if err != nil {
			return err
		}
		cfg.Blacklist = nil
		if err := tx.SetConfig(cfg); err != nil {
			return err
		}
		blocked, err = tx.IsBlacklisted(SystemCallsign)
		if err != nil {
			return err
		}
		if !blocked {
			t.Fatal("SYSTEM must survive blacklist rewrites")
		}
		return nil
	})
}

func TestSendMessageBroadcastFansOutToAllActiveUsers(t *testing.T) {
	s := newMemStore(t)
	s.Transaction(func(tx *Tx) error {
		if _, err := tx.EnsureUser("AAA"); err != nil {
			return err
		}
		if _, err := tx.EnsureUser("BBB"); err != nil {
			return err
		}
		_, _, err := tx.SendMessage("SYSOP", []string{RecipientAll}, "welcome", nil)
		return err
	})

	var aaaCount, sysopCount int
	s.Transaction(func(tx *Tx) error {
		msgs, err := tx.ListMailbox("AAA")
		if err != nil {
			return err
		}
		aaaCount = len(msgs)
		msgs, err = tx.ListMailbox("SYSOP")
		if err != nil {
			return err
		}
		sysopCount = len(msgs)
		return nil
	})
	if aaaCount != 1 {
		t.Fatalf("expected broadcast to land in AAA's mailbox, got %d messages", aaaCount)
	}
	if sysopCount != 1 {
		t.Fatalf("expected sender to keep a sent-copy, got %d messages", sysopCount)
	}
}

func TestJobQueueIsFIFO(t *testing.T) {
	s := newMemStore(t)
	var ids []int64
	s.Transaction(func(tx *Tx) error {
		for i := 0; i < 3; i++ {
			j, err := tx.CreateJob("W1AW", []string{"echo", "hi"}, nil, nil)
			if err != nil {
				return err
			}
			ids = append(ids, j.ID)
		}
		return nil
	})

	var dequeued []int64
	s.Transaction(func(tx *Tx) error {
		for {
			id, ok, err := tx.DequeueJob()
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			dequeued = append(dequeued, id)
		}
		return nil
	})
	if len(dequeued) != 3 {
		t.Fatalf("expected 3 jobs dequeued, got %d", len(dequeued))
	}
	for i, id := range dequeued {
		if id != ids[i] {
			t.Fatalf("expected FIFO order %v, got %v", ids, dequeued)
		}
	}
}

func TestObjectOwnershipRoundTrip(t *testing.T) {
	s := newMemStore(t)
	var objUUID, ownerUUID string
	s.Transaction(func(tx *Tx) error {
		u, err := tx.EnsureUser("N0CALL")
		if err != nil {
			return err
		}
		ownerUUID = u.UUID
		o, err := tx.CreateObject(ownerUUID, "note.txt", []byte("hi"), false, true)
		objUUID = o.UUID
		return err
	})

	s.Transaction(func(tx *Tx) error {
		u, err := tx.GetUser("N0CALL")
		if err != nil {
			return err
		}
		if len(u.ObjectIDs) != 1 || u.ObjectIDs[0] != objUUID {
			t.Fatalf("expected owner's object list to contain %s, got %v", objUUID, u.ObjectIDs)
		}
		o, err := tx.GetObject(objUUID)
		if err != nil {
			return err
		}
		if o.Owner != ownerUUID || !o.Private {
			t.Fatalf("object round-trip mismatch: %+v", o)
		}
		return nil
	})
}

func TestConfigBlacklistRoundTrip(t *testing.T) {
	s := newMemStore(t)
	s.Transaction(func(tx *Tx) error {
		c, err := tx.GetConfig()
		if err != nil {
			return err
		}
		c.Blacklist = []string{"BADOP"}
		c.JobsEnabled = true
		return tx.SetConfig(c)
	})

	s.Transaction(func(tx *Tx) error {
		blocked, err := tx.IsBlacklisted("badop")
		if err != nil {
			return err
		}
		if !blocked {
			t.Fatal("expected badop to be blacklisted case-insensitively")
		}
		c, err := tx.GetConfig()
		if err != nil {
			return err
		}
		if !c.JobsEnabled {
			t.Fatal("expected jobs_enabled to round-trip true")
		}
		return nil
	})
}
