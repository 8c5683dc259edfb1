package handlers

import (
	"net/mail"
	"strings"

	"github.com/packetbbs/core/internal/bbsstore"
	"github.com/packetbbs/core/internal/dispatch"
	"github.com/packetbbs/core/internal/wireproto"
)

// User routes GET/UPDATE /user[/<callsign>].
func User(req wireproto.Request, conn *dispatch.Connection, store *bbsstore.Store) (wireproto.Response, error) {
	switch req.Method {
	case wireproto.MethodGET:
		return userGet(req, store)
	case wireproto.MethodUPDATE:
		return userUpdate(req, conn, store)
	default:
		return wireproto.NewResponse(404, wireproto.Null())
	}
}

func pathTail(path, root string) string {
	rest := strings.TrimPrefix(path, "/"+root)
	return strings.Trim(rest, "/")
}

func userGet(req wireproto.Request, store *bbsstore.Store) (wireproto.Response, error) {
	target := pathTail(req.Path, "user")
	if target == "" {
		target, _ = varStr(req, "username")
	}

	var body wireproto.Value
	err := store.Transaction(func(tx *bbsstore.Tx) error {
		if target != "" {
			u, err := tx.GetUser(target)
			if err == bbsstore.ErrNotFound {
				body = wireproto.Null()
				return nil
			}
			if err != nil {
				return err
			}
			body = userToValue(u)
			return nil
		}
		limit := 0
		if n, ok := varInt(req, "limit"); ok {
			limit = int(n)
		}
		users, err := tx.ListVisibleUsers(limit)
		if err != nil {
			return err
		}
		vals := make([]wireproto.Value, len(users))
		for i, u := range users {
			vals[i] = userToValue(u)
		}
		body = wireproto.List(vals...)
		return nil
	})
	if err != nil {
		return wireproto.NewResponse(500, wireproto.Null())
	}
	if target != "" && body.Kind == wireproto.KindNull {
		return wireproto.NewResponse(404, wireproto.Null())
	}
	return wireproto.NewResponse(200, body)
}

func userUpdate(req wireproto.Request, conn *dispatch.Connection, store *bbsstore.Store) (wireproto.Response, error) {
	var status int
	err := store.Transaction(func(tx *bbsstore.Tx) error {
		caller, err := tx.GetUser(conn.Callsign)
		if err != nil {
			return err
		}
		if !caller.Enabled {
			status = 401
			return nil
		}

		var bio, statusF, email, location *string
		var socials []string
		if v, ok := bodyField(req.Body, "bio"); ok {
			if s, ok := v.AsString(); ok {
				bio = &s
			}
		}
		if v, ok := bodyField(req.Body, "status"); ok {
			if s, ok := v.AsString(); ok {
				statusF = &s
			}
		}
		if v, ok := bodyField(req.Body, "email"); ok {
			if s, ok := v.AsString(); ok {
				if _, err := mail.ParseAddress(s); err != nil {
					status = 400
					return nil
				}
				email = &s
			}
		}
		if v, ok := bodyField(req.Body, "location"); ok {
			if s, ok := v.AsString(); ok {
				location = &s
			}
		}
		if v, ok := bodyField(req.Body, "socials"); ok {
			if list, ok := v.AsList(); ok {
				for _, item := range list {
					if s, ok := item.AsString(); ok {
						socials = append(socials, truncate(s, bbsstore.MaxSocialLen))
					}
				}
			}
		}
		if err := tx.UpdateProfile(conn.Callsign, bio, statusF, email, location, socials); err != nil {
			return err
		}
		status = 200
		return nil
	})
	if err != nil {
		return wireproto.NewResponse(500, wireproto.Null())
	}
	return wireproto.NewResponse(status, wireproto.Null())
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
