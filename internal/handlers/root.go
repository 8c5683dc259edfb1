package handlers

import (
	"fmt"

	"github.com/packetbbs/core/internal/bbsstore"
	"github.com/packetbbs/core/internal/dispatch"
	"github.com/packetbbs/core/internal/wireproto"
)

// Root answers GET / — the handshake request every client sends first.
func Root(req wireproto.Request, conn *dispatch.Connection, store *bbsstore.Store) (wireproto.Response, error) {
	var body wireproto.Value
	err := store.Transaction(func(tx *bbsstore.Tx) error {
		cfg, err := tx.GetConfig()
		if err != nil {
			return err
		}
		u, err := tx.GetUser(conn.Callsign)
		if err != nil {
			return err
		}
		status := "not enabled"
		if u.Enabled {
			status = "enabled"
		}
		body = wireproto.Map(map[string]wireproto.Value{
			"operator":        wireproto.Str(cfg.Operator),
			"motd":            wireproto.Str(cfg.MOTD),
			"user":            wireproto.Str(fmt.Sprintf("User %s is %s", u.Callsign, status)),
			"accepts_jobs":    wireproto.Bool(cfg.JobsEnabled),
			"server_callsign": wireproto.Str(cfg.ServerCallsign),
			"server_name":     wireproto.Str(cfg.ServerName),
		})
		return nil
	})
	if err != nil {
		return wireproto.NewResponse(500, wireproto.Null())
	}
	return wireproto.NewResponse(200, body)
}
