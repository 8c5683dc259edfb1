package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/packetbbs/core/internal/bbsstore"
	"github.com/packetbbs/core/internal/config"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store, err := bbsstore.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cfg := &config.HTTPConfig{Argon2Time: 1, Argon2Memory: 8192, Argon2Threads: 1}
	return New(store, cfg)
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	c := s.echo.NewContext(req, rec)

	if err := s.handleHealth(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestRegisterAndLogin(t *testing.T) {
	s := newTestServer(t)

	body, _ := json.Marshal(AuthRequest{Username: "w1aw", Password: "hunter2"})
	req := httptest.NewRequest(http.MethodPost, "/api/auth/register", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	c := s.echo.NewContext(req, rec)

	if err := s.handleRegister(c); err != nil {
		t.Fatalf("register error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d, want 201", rec.Code)
	}

	loginReq := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(body))
	loginReq.Header.Set("Content-Type", "application/json")
	loginRec := httptest.NewRecorder()
	loginCtx := s.echo.NewContext(loginReq, loginRec)

	if err := s.handleLogin(loginCtx); err != nil {
		t.Fatalf("login error: %v", err)
	}
	if loginRec.Code != http.StatusOK {
		t.Fatalf("login status = %d, want 200", loginRec.Code)
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	s := newTestServer(t)

	body, _ := json.Marshal(AuthRequest{Username: "w1aw", Password: "hunter2"})
	req := httptest.NewRequest(http.MethodPost, "/api/auth/register", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	if err := s.handleRegister(s.echo.NewContext(req, rec)); err != nil {
		t.Fatalf("register error: %v", err)
	}

	wrong, _ := json.Marshal(AuthRequest{Username: "w1aw", Password: "nope"})
	loginReq := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(wrong))
	loginReq.Header.Set("Content-Type", "application/json")
	loginRec := httptest.NewRecorder()

	err := s.handleLogin(s.echo.NewContext(loginReq, loginRec))
	if err == nil {
		t.Fatal("expected an error for wrong password")
	}
}

func TestBulletinRequiresAuthForPost(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/bulletins", bytes.NewReader(nil))
	rec := httptest.NewRecorder()
	c := s.echo.NewContext(req, rec)

	err := s.requireHTTPUser(s.handlePostBulletin)(c)
	if err == nil {
		t.Fatal("expected requireHTTPUser to reject a request with no credentials")
	}
}

func TestMeReportsDerivedRFEnabled(t *testing.T) {
	s := newTestServer(t)

	body, _ := json.Marshal(AuthRequest{Username: "w1aw", Password: "hunter2"})
	req := httptest.NewRequest(http.MethodPost, "/api/auth/register", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	if err := s.handleRegister(s.echo.NewContext(req, rec)); err != nil {
		t.Fatalf("register error: %v", err)
	}

	meReq := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	meReq.SetBasicAuth("w1aw", "hunter2")
	meRec := httptest.NewRecorder()
	s.echo.ServeHTTP(meRec, meReq)

	if meRec.Code != http.StatusOK {
		t.Fatalf("me status = %d, want 200", meRec.Code)
	}
	var got AccountResponse
	if err := json.Unmarshal(meRec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Username != "W1AW" {
		t.Errorf("username = %q, want W1AW", got.Username)
	}
	if !got.RFEnabled {
		t.Error("expected rf_enabled true for a non-blacklisted username")
	}

	// Blacklisting the callsign flips the derived flag without touching
	// the HTTP account.
	if err := s.store.Transaction(func(tx *bbsstore.Tx) error {
		cfg, err := tx.GetConfig()
		if err != nil {
			return err
		}
		cfg.Blacklist = append(cfg.Blacklist, "W1AW")
		return tx.SetConfig(cfg)
	}); err != nil {
		t.Fatalf("blacklist: %v", err)
	}
	meRec = httptest.NewRecorder()
	s.echo.ServeHTTP(meRec, meReq)
	if err := json.Unmarshal(meRec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.RFEnabled {
		t.Error("expected rf_enabled false once the username is blacklisted")
	}
	if !got.HTTPEnabled {
		t.Error("blacklisting must not disable the HTTP account")
	}
}

func TestListBulletinsEmpty(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/bulletins", nil)
	rec := httptest.NewRecorder()
	c := s.echo.NewContext(req, rec)

	if err := s.handleListBulletins(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got []BulletinResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no bulletins, got %d", len(got))
	}
}
