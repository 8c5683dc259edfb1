package httpapi

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/packetbbs/core/internal/bbsstore"
)

// UserResponse is the JSON shape of a user's public profile.
type UserResponse struct {
	Callsign string   `json:"callsign"`
	Enabled  bool     `json:"enabled"`
	Bio      string   `json:"bio"`
	Status   string   `json:"status"`
	Location string   `json:"location"`
	Socials  []string `json:"socials"`
	LastSeen int64    `json:"last_seen"`
}

func userResponse(u bbsstore.User) UserResponse {
	socials := u.Socials
	if socials == nil {
		socials = []string{}
	}
	return UserResponse{
		Callsign: u.Callsign, Enabled: u.Enabled, Bio: u.Bio, Status: u.Status,
		Location: u.Location, Socials: socials, LastSeen: u.LastSeen.Unix(),
	}
}

func (s *Server) handleListUsers(c echo.Context) error {
	limit := 0
	if l := c.QueryParam("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil {
			limit = n
		}
	}
	var users []bbsstore.User
	err := s.store.Transaction(func(tx *bbsstore.Tx) error {
		var err error
		users, err = tx.ListVisibleUsers(limit)
		return err
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]UserResponse, len(users))
	for i, u := range users {
		out[i] = userResponse(u)
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleGetUser(c echo.Context) error {
	callsign := c.Param("callsign")
	var u bbsstore.User
	notFound := false
	err := s.store.Transaction(func(tx *bbsstore.Tx) error {
		var err error
		u, err = tx.GetUser(callsign)
		if err == bbsstore.ErrNotFound {
			notFound = true
			return nil
		}
		return err
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if notFound {
		return echo.NewHTTPError(http.StatusNotFound, "user not found")
	}
	return c.JSON(http.StatusOK, userResponse(u))
}
