package handlers

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"strconv"
	"time"

	"github.com/packetbbs/core/internal/bbsstore"
	"github.com/packetbbs/core/internal/dispatch"
	"github.com/packetbbs/core/internal/wireproto"
)

// quickWaitTimeout and quickWaitPoll bound the synchronous "quick" wait:
// the job completes in the orchestrator's own goroutine, which commits
// directly to the store, so the handler just re-reads the store rather
// than waiting on a condition variable.
const (
	quickWaitTimeout = 30 * time.Second
	quickWaitPoll    = 1 * time.Second
)

// Job routes POST/GET /job, /job/<id> and /job/user.
func Job(req wireproto.Request, conn *dispatch.Connection, store *bbsstore.Store) (wireproto.Response, error) {
	jobsEnabled := false
	err := store.Transaction(func(tx *bbsstore.Tx) error {
		cfg, err := tx.GetConfig()
		if err != nil {
			return err
		}
		jobsEnabled = cfg.JobsEnabled
		return nil
	})
	if err != nil {
		return wireproto.NewResponse(500, wireproto.Null())
	}
	if !jobsEnabled {
		return wireproto.NewResponse(400, wireproto.Null())
	}

	switch req.Method {
	case wireproto.MethodPOST:
		return jobPost(req, conn, store)
	case wireproto.MethodGET:
		return jobGet(req, conn, store)
	default:
		return wireproto.NewResponse(404, wireproto.Null())
	}
}

func commandFromBody(body wireproto.Value) []string {
	if v, ok := bodyField(body, "cmd"); ok {
		if s, ok := v.AsString(); ok {
			return []string{s}
		}
		if list, ok := v.AsList(); ok {
			out := make([]string, 0, len(list))
			for _, item := range list {
				if s, ok := item.AsString(); ok {
					out = append(out, s)
				}
			}
			return out
		}
	}
	return nil
}

func envFromBody(body wireproto.Value) map[string]string {
	v, ok := bodyField(body, "env")
	if !ok {
		return nil
	}
	m, ok := v.AsMap()
	if !ok {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, val := range m {
		if s, ok := val.AsString(); ok {
			out[k] = s
		}
	}
	return out
}

func filesFromBody(body wireproto.Value) []bbsstore.InputFile {
	v, ok := bodyField(body, "files")
	if !ok {
		return nil
	}
	m, ok := v.AsMap()
	if !ok {
		return nil
	}
	out := make([]bbsstore.InputFile, 0, len(m))
	for name, val := range m {
		data, _ := val.AsBytes()
		out = append(out, bbsstore.InputFile{Name: name, Data: data})
	}
	return out
}

// snapshotUserDB builds the gzipped JSON snapshot of the caller's slice of
// the store, injected as input file user-db.json.gz when the request body
// includes `db`.
func snapshotUserDB(tx *bbsstore.Tx, callsign string) ([]byte, error) {
	caller, err := tx.GetUser(callsign)
	if err != nil {
		return nil, err
	}
	objects := make([]bbsstore.Object, 0, len(caller.ObjectIDs))
	for _, id := range caller.ObjectIDs {
		o, err := tx.GetObject(id)
		if err == nil {
			objects = append(objects, o)
		}
	}
	messages, err := tx.ListMailbox(callsign)
	if err != nil {
		return nil, err
	}
	bulletins, err := tx.ListBulletins(0)
	if err != nil {
		return nil, err
	}
	jobs, err := tx.ListJobsByOwner(callsign)
	if err != nil {
		return nil, err
	}

	snapshot := struct {
		Objects   []bbsstore.Object   `json:"objects"`
		Messages  []bbsstore.Message  `json:"messages"`
		Bulletins []bbsstore.Bulletin `json:"bulletins"`
		Jobs      []bbsstore.Job      `json:"jobs"`
	}{objects, messages, bulletins, jobs}

	raw, err := json.Marshal(snapshot)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(raw); err != nil {
		return nil, err
	}
	if err := gw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func jobPost(req wireproto.Request, conn *dispatch.Connection, store *bbsstore.Store) (wireproto.Response, error) {
	cmd := commandFromBody(req.Body)
	env := envFromBody(req.Body)
	files := filesFromBody(req.Body)

	if _, wantsDB := bodyField(req.Body, "db"); wantsDB {
		var dbFile bbsstore.InputFile
		err := store.Transaction(func(tx *bbsstore.Tx) error {
			data, err := snapshotUserDB(tx, conn.Callsign)
			if err != nil {
				return err
			}
			dbFile = bbsstore.InputFile{Name: "user-db.json.gz", Data: data}
			return nil
		})
		if err != nil {
			return wireproto.NewResponse(500, wireproto.Null())
		}
		files = append(files, dbFile)
	}

	var jobID int64
	err := store.Transaction(func(tx *bbsstore.Tx) error {
		j, err := tx.CreateJob(conn.Callsign, cmd, env, files)
		if err != nil {
			return err
		}
		jobID = j.ID
		return nil
	})
	if err != nil {
		return wireproto.NewResponse(500, wireproto.Null())
	}

	if quick, ok := varStr(req, "quick"); ok && quick == "y" {
		deadline := time.Now().Add(quickWaitTimeout)
		for time.Now().Before(deadline) {
			var j bbsstore.Job
			var found bool
			_ = store.Transaction(func(tx *bbsstore.Tx) error {
				var err error
				j, err = tx.GetJob(jobID)
				if err != nil {
					return err
				}
				found = j.Status.IsTerminal()
				return nil
			})
			if found {
				return wireproto.NewResponse(200, jobToValue(j))
			}
			time.Sleep(quickWaitPoll)
		}
		return wireproto.NewResponse(202, wireproto.Map(map[string]wireproto.Value{
			"job_id": wireproto.Int(jobID),
		}))
	}

	return wireproto.NewResponse(201, wireproto.Map(map[string]wireproto.Value{
		"job_id": wireproto.Int(jobID),
	}))
}

func jobGet(req wireproto.Request, conn *dispatch.Connection, store *bbsstore.Store) (wireproto.Response, error) {
	tail := pathTail(req.Path, "job")
	if tail == "user" {
		idOnly := false
		if v, ok := varStr(req, "id_only"); ok {
			idOnly = v == "y" || v == "yes"
		}
		var out []wireproto.Value
		err := store.Transaction(func(tx *bbsstore.Tx) error {
			jobs, err := tx.ListJobsByOwner(conn.Callsign)
			if err != nil {
				return err
			}
			out = make([]wireproto.Value, len(jobs))
			for i, j := range jobs {
				if idOnly {
					out[i] = wireproto.Int(j.ID)
				} else {
					out[i] = jobToValue(j)
				}
			}
			return nil
		})
		if err != nil {
			return wireproto.NewResponse(500, wireproto.Null())
		}
		return wireproto.NewResponse(200, wireproto.List(out...))
	}

	id, err := strconv.ParseInt(tail, 10, 64)
	if err != nil {
		return wireproto.NewResponse(404, wireproto.Null())
	}
	var body wireproto.Value
	status := 200
	txErr := store.Transaction(func(tx *bbsstore.Tx) error {
		j, err := tx.GetJob(id)
		if err == bbsstore.ErrNotFound {
			status = 404
			return nil
		}
		if err != nil {
			return err
		}
		if j.Owner != conn.Callsign {
			status = 403
			return nil
		}
		body = jobToValue(j)
		return nil
	})
	if txErr != nil {
		return wireproto.NewResponse(500, wireproto.Null())
	}
	return wireproto.NewResponse(status, body)
}
