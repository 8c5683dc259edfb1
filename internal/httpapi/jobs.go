package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/packetbbs/core/internal/bbsstore"
)

// JobResponse is the JSON shape of a job, including its captured output
// once finished.
type JobResponse struct {
	ID         int64             `json:"id"`
	Owner      string            `json:"owner"`
	Command    []string          `json:"command"`
	Env        map[string]string `json:"env,omitempty"`
	Status     string            `json:"status"`
	CreatedAt  int64             `json:"created_at"`
	StartedAt  int64             `json:"started_at,omitempty"`
	FinishedAt int64             `json:"finished_at,omitempty"`
	ReturnCode int               `json:"return_code,omitempty"`
	Stdout     string            `json:"stdout,omitempty"`
	Stderr     string            `json:"stderr,omitempty"`
}

func jobResponse(j bbsstore.Job) JobResponse {
	r := JobResponse{
		ID: j.ID, Owner: j.Owner, Command: j.Command, Env: j.Env,
		Status: string(j.Status), CreatedAt: j.CreatedAt.Unix(), ReturnCode: j.ReturnCode,
	}
	if !j.StartedAt.IsZero() {
		r.StartedAt = j.StartedAt.Unix()
	}
	if !j.FinishedAt.IsZero() {
		r.FinishedAt = j.FinishedAt.Unix()
	}
	if j.Status.IsTerminal() {
		r.Stdout = string(j.Stdout)
		r.Stderr = string(j.Stderr)
	}
	return r
}

// handleListJobs returns the authenticated account's own jobs, newest
// first; the HTTP façade never exposes other owners' job output.
func (s *Server) handleListJobs(c echo.Context) error {
	owner := httpUserFromContext(c).Username
	var jobs []bbsstore.Job
	err := s.store.Transaction(func(tx *bbsstore.Tx) error {
		var err error
		jobs, err = tx.ListJobsByOwner(owner)
		return err
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]JobResponse, len(jobs))
	for i, j := range jobs {
		out[i] = jobResponse(j)
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleGetJob(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid job id")
	}
	owner := httpUserFromContext(c).Username

	var j bbsstore.Job
	notFound := false
	txErr := s.store.Transaction(func(tx *bbsstore.Tx) error {
		var err error
		j, err = tx.GetJob(id)
		if err == bbsstore.ErrNotFound {
			notFound = true
			return nil
		}
		return err
	})
	if txErr != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, txErr.Error())
	}
	if notFound || j.Owner != owner {
		return echo.NewHTTPError(http.StatusNotFound, "job not found")
	}
	return c.JSON(http.StatusOK, jobResponse(j))
}
