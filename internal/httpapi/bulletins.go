package httpapi

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/packetbbs/core/internal/bbsstore"
)

// BulletinResponse is the JSON shape of a bulletin.
type BulletinResponse struct {
	ID        int64  `json:"id"`
	Author    string `json:"author"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

func bulletinResponse(b bbsstore.Bulletin) BulletinResponse {
	return BulletinResponse{
		ID: b.ID, Author: b.Author, Subject: b.Subject, Body: b.Body,
		CreatedAt: b.CreatedAt.Unix(), UpdatedAt: b.UpdatedAt.Unix(),
	}
}

func (s *Server) handleListBulletins(c echo.Context) error {
	limit := 0
	if l := c.QueryParam("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil {
			limit = n
		}
	}
	var list []bbsstore.Bulletin
	err := s.store.Transaction(func(tx *bbsstore.Tx) error {
		var err error
		list, err = tx.ListBulletins(limit)
		return err
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]BulletinResponse, len(list))
	for i, b := range list {
		out[i] = bulletinResponse(b)
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleGetBulletin(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid bulletin id")
	}
	var b bbsstore.Bulletin
	notFound := false
	txErr := s.store.Transaction(func(tx *bbsstore.Tx) error {
		var err error
		b, err = tx.GetBulletin(id)
		if err == bbsstore.ErrNotFound {
			notFound = true
			return nil
		}
		return err
	})
	if txErr != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, txErr.Error())
	}
	if notFound {
		return echo.NewHTTPError(http.StatusNotFound, "bulletin not found")
	}
	return c.JSON(http.StatusOK, bulletinResponse(b))
}

// BulletinRequest is the body for POST /api/bulletins.
type BulletinRequest struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func (s *Server) handlePostBulletin(c echo.Context) error {
	var req BulletinRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	author := httpUserFromContext(c).Username
	var id int64
	err := s.store.Transaction(func(tx *bbsstore.Tx) error {
		var err error
		id, err = tx.NextBulletinID()
		if err != nil {
			return err
		}
		_, err = tx.CreateBulletin(id, author, req.Subject, req.Body)
		return err
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, map[string]int64{"bulletin_id": id})
}

func (s *Server) handleDeleteBulletin(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid bulletin id")
	}
	author := httpUserFromContext(c).Username

	status := http.StatusNoContent
	txErr := s.store.Transaction(func(tx *bbsstore.Tx) error {
		b, err := tx.GetBulletin(id)
		if err == bbsstore.ErrNotFound {
			status = http.StatusNotFound
			return nil
		}
		if err != nil {
			return err
		}
		if b.Author != author {
			status = http.StatusForbidden
			return nil
		}
		return tx.DeleteBulletin(id)
	})
	if txErr != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, txErr.Error())
	}
	if status != http.StatusNoContent {
		return echo.NewHTTPError(status, "")
	}
	return c.NoContent(http.StatusNoContent)
}
