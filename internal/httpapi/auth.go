package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/packetbbs/core/internal/bbsstore"
)

const httpUserContextKey = "httpapi.user"

// AuthRequest is the body shared by POST /api/auth/register and
// POST /api/auth/login.
type AuthRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleRegister(c echo.Context) error {
	var req AuthRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Username == "" || req.Password == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "username and password are required")
	}
	hash, err := HashPassword(req.Password, s.params)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	status := http.StatusCreated
	err = s.store.Transaction(func(tx *bbsstore.Tx) error {
		if _, err := tx.GetHttpUser(req.Username); err == nil {
			status = http.StatusConflict
			return nil
		} else if err != bbsstore.ErrNotFound {
			return err
		}
		_, err := tx.CreateHttpUser(req.Username, hash)
		return err
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if status == http.StatusConflict {
		return echo.NewHTTPError(http.StatusConflict, "username already registered")
	}
	return c.JSON(status, map[string]string{"username": req.Username})
}

func (s *Server) handleLogin(c echo.Context) error {
	var req AuthRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	var u bbsstore.HttpUser
	notFound := false
	err := s.store.Transaction(func(tx *bbsstore.Tx) error {
		var err error
		u, err = tx.GetHttpUser(req.Username)
		if err == bbsstore.ErrNotFound {
			notFound = true
			return nil
		}
		return err
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if notFound || !u.HTTPEnabled {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
	}

	ok, err := VerifyPassword(req.Password, u.PasswordHash)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	recordErr := s.store.Transaction(func(tx *bbsstore.Tx) error {
		if ok {
			return tx.RecordLoginSuccess(u.Username)
		}
		return tx.RecordLoginFailure(u.Username)
	})
	if recordErr != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, recordErr.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
	}
	return c.JSON(http.StatusOK, map[string]string{"username": u.Username})
}

// AccountResponse is the payload for GET /api/auth/me. RFEnabled is
// derived, not stored: an account may use the radio side iff its username
// is absent from the blacklist.
type AccountResponse struct {
	Username    string `json:"username"`
	HTTPEnabled bool   `json:"http_enabled"`
	RFEnabled   bool   `json:"rf_enabled"`
	CreatedAt   int64  `json:"created_at"`
	LastLogin   int64  `json:"last_login,omitempty"`
}

func (s *Server) handleMe(c echo.Context) error {
	u := httpUserFromContext(c)
	rfEnabled := false
	err := s.store.Transaction(func(tx *bbsstore.Tx) error {
		blocked, err := tx.IsBlacklisted(u.Username)
		rfEnabled = !blocked
		return err
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	resp := AccountResponse{
		Username: u.Username, HTTPEnabled: u.HTTPEnabled, RFEnabled: rfEnabled,
		CreatedAt: u.CreatedAt.Unix(),
	}
	if !u.LastLogin.IsZero() {
		resp.LastLogin = u.LastLogin.Unix()
	}
	return c.JSON(http.StatusOK, resp)
}

// requireHTTPUser enforces HTTP Basic Auth against the http_users table:
// verify once, then stash the account on the echo.Context for downstream
// handlers.
func (s *Server) requireHTTPUser(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		username, password, ok := c.Request().BasicAuth()
		if !ok {
			return echo.NewHTTPError(http.StatusUnauthorized, "basic auth required")
		}

		var u bbsstore.HttpUser
		notFound := false
		err := s.store.Transaction(func(tx *bbsstore.Tx) error {
			var err error
			u, err = tx.GetHttpUser(username)
			if err == bbsstore.ErrNotFound {
				notFound = true
				return nil
			}
			return err
		})
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		if notFound || !u.HTTPEnabled {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
		}

		valid, err := VerifyPassword(password, u.PasswordHash)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		recordErr := s.store.Transaction(func(tx *bbsstore.Tx) error {
			if valid {
				return tx.RecordLoginSuccess(u.Username)
			}
			return tx.RecordLoginFailure(u.Username)
		})
		if recordErr != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, recordErr.Error())
		}
		if !valid {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
		}

		c.Set(httpUserContextKey, u)
		return next(c)
	}
}

// httpUserFromContext retrieves the account requireHTTPUser authenticated.
func httpUserFromContext(c echo.Context) bbsstore.HttpUser {
	u, _ := c.Get(httpUserContextKey).(bbsstore.HttpUser)
	return u
}
