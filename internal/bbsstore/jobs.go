package bbsstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// CreateJob assigns the next dense job id, inserts the job as CREATED, and
// enqueues it at the tail of the FIFO queue, all within the caller's
// transaction.
func (tx *Tx) CreateJob(owner string, command []string, env map[string]string, files []InputFile) (Job, error) {
	id, err := tx.nextCounter("job")
	if err != nil {
		return Job{}, err
	}
	now := time.Now().UTC()
	cmdJSON, _ := json.Marshal(command)
	envJSON, _ := json.Marshal(env)
	filesJSON, _ := json.Marshal(files)

	j := Job{ID: id, Owner: owner, Command: command, Env: env, Files: files, CreatedAt: now, Status: JobCreated}
	if _, err := tx.tx.Exec(`INSERT INTO jobs(id, owner, command_json, env_json, files_json, created_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)`, j.ID, j.Owner, string(cmdJSON), string(envJSON), string(filesJSON),
		now.Unix(), string(JobCreated)); err != nil {
		return Job{}, fmt.Errorf("bbsstore: insert job: %w", err)
	}
	if err := tx.EnqueueJob(j.ID); err != nil {
		return Job{}, err
	}
	if err := tx.SetJobStatus(j.ID, JobQueued); err != nil {
		return Job{}, err
	}
	j.Status = JobQueued
	return j, nil
}

// EnqueueJob appends jobID to the tail of the FIFO runner queue.
func (tx *Tx) EnqueueJob(jobID int64) error {
	_, err := tx.tx.Exec(`INSERT INTO job_queue(job_id) VALUES (?)`, jobID)
	return err
}

// DequeueJob pops and returns the oldest queued job id, or (0, false) if
// the queue is empty.
func (tx *Tx) DequeueJob() (int64, bool, error) {
	var seq, jobID int64
	err := tx.tx.QueryRow(`SELECT seq, job_id FROM job_queue ORDER BY seq ASC LIMIT 1`).Scan(&seq, &jobID)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("bbsstore: dequeue: %w", err)
	}
	if _, err := tx.tx.Exec(`DELETE FROM job_queue WHERE seq = ?`, seq); err != nil {
		return 0, false, fmt.Errorf("bbsstore: remove from queue: %w", err)
	}
	return jobID, true, nil
}

// QueueDepth returns the number of jobs currently waiting in the FIFO.
func (tx *Tx) QueueDepth() (int, error) {
	var n int
	err := tx.tx.QueryRow(`SELECT COUNT(*) FROM job_queue`).Scan(&n)
	return n, err
}

// GetJob looks up a job by id.
func (tx *Tx) GetJob(id int64) (Job, error) {
	var j Job
	var cmdJSON, envJSON, filesJSON, status string
	var created, started, finished int64
	err := tx.tx.QueryRow(`SELECT id, owner, command_json, env_json, files_json, created_at,
		started_at, finished_at, status, return_code, stdout, stderr, artifact FROM jobs WHERE id=?`, id).
		Scan(&j.ID, &j.Owner, &cmdJSON, &envJSON, &filesJSON, &created, &started, &finished,
			&status, &j.ReturnCode, &j.Stdout, &j.Stderr, &j.Artifact)
	if err == sql.ErrNoRows {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, fmt.Errorf("bbsstore: scan job: %w", err)
	}
	_ = json.Unmarshal([]byte(cmdJSON), &j.Command)
	_ = json.Unmarshal([]byte(envJSON), &j.Env)
	_ = json.Unmarshal([]byte(filesJSON), &j.Files)
	j.CreatedAt = time.Unix(created, 0).UTC()
	if started > 0 {
		j.StartedAt = time.Unix(started, 0).UTC()
	}
	if finished > 0 {
		j.FinishedAt = time.Unix(finished, 0).UTC()
	}
	j.Status = JobStatus(status)
	return j, nil
}

// ListJobsByOwner returns an owner's jobs, newest first.
func (tx *Tx) ListJobsByOwner(owner string) ([]Job, error) {
	rows, err := tx.tx.Query(`SELECT id FROM jobs WHERE owner=? ORDER BY id DESC`, owner)
	if err != nil {
		return nil, fmt.Errorf("bbsstore: list jobs by owner: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]Job, 0, len(ids))
	for _, id := range ids {
		j, err := tx.GetJob(id)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, nil
}

// ListActiveJobs returns every job not yet in a terminal status, oldest
// first.
func (tx *Tx) ListActiveJobs() ([]Job, error) {
	rows, err := tx.tx.Query(`SELECT id FROM jobs WHERE status NOT IN (?, ?, ?) ORDER BY id ASC`,
		string(JobSuccessful), string(JobFailed), string(JobTimedOut))
	if err != nil {
		return nil, fmt.Errorf("bbsstore: list active jobs: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]Job, 0, len(ids))
	for _, id := range ids {
		j, err := tx.GetJob(id)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, nil
}

// SetJobStatus transitions a job's status.
func (tx *Tx) SetJobStatus(id int64, status JobStatus) error {
	_, err := tx.tx.Exec(`UPDATE jobs SET status=? WHERE id=?`, string(status), id)
	return err
}

// MarkJobStarted records the start time and RUNNING status.
func (tx *Tx) MarkJobStarted(id int64) error {
	_, err := tx.tx.Exec(`UPDATE jobs SET status=?, started_at=? WHERE id=?`,
		string(JobRunning), time.Now().UTC().Unix(), id)
	return err
}

// FinishJob records the terminal status, exit code and captured output.
func (tx *Tx) FinishJob(id int64, status JobStatus, returnCode int, stdout, stderr, artifact []byte) error {
	// The output columns are NOT NULL; a nil slice would bind as NULL.
	if stdout == nil {
		stdout = []byte{}
	}
	if stderr == nil {
		stderr = []byte{}
	}
	if artifact == nil {
		artifact = []byte{}
	}
	_, err := tx.tx.Exec(`UPDATE jobs SET status=?, finished_at=?, return_code=?, stdout=?, stderr=?, artifact=?
		WHERE id=?`, string(status), time.Now().UTC().Unix(), returnCode, stdout, stderr, artifact, id)
	return err
}
