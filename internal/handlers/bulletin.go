package handlers

import (
	"strconv"

	"github.com/packetbbs/core/internal/bbsstore"
	"github.com/packetbbs/core/internal/dispatch"
	"github.com/packetbbs/core/internal/wireproto"
)

// Bulletin routes GET/POST/DELETE /bulletin[/<id>].
func Bulletin(req wireproto.Request, conn *dispatch.Connection, store *bbsstore.Store) (wireproto.Response, error) {
	switch req.Method {
	case wireproto.MethodGET:
		return bulletinGet(req, store)
	case wireproto.MethodPOST:
		return bulletinPost(req, conn, store)
	case wireproto.MethodDELETE:
		return bulletinDelete(req, conn, store)
	default:
		return wireproto.NewResponse(404, wireproto.Null())
	}
}

func bulletinGet(req wireproto.Request, store *bbsstore.Store) (wireproto.Response, error) {
	idStr := pathTail(req.Path, "bulletin")
	if idStr == "" {
		if n, ok := varInt(req, "id"); ok {
			idStr = strconv.FormatInt(n, 10)
		}
	}

	var body wireproto.Value
	notFound := false
	err := store.Transaction(func(tx *bbsstore.Tx) error {
		if idStr != "" {
			id, err := strconv.ParseInt(idStr, 10, 64)
			if err != nil {
				notFound = true
				return nil
			}
			b, err := tx.GetBulletin(id)
			if err == bbsstore.ErrNotFound {
				notFound = true
				return nil
			}
			if err != nil {
				return err
			}
			body = bulletinToValue(b)
			return nil
		}
		limit := 0
		if n, ok := varInt(req, "limit"); ok {
			limit = int(n)
		}
		list, err := tx.ListBulletins(limit)
		if err != nil {
			return err
		}
		vals := make([]wireproto.Value, len(list))
		for i, b := range list {
			vals[i] = bulletinToValue(b)
		}
		body = wireproto.List(vals...)
		return nil
	})
	if err != nil {
		return wireproto.NewResponse(500, wireproto.Null())
	}
	if notFound {
		return wireproto.NewResponse(404, wireproto.Null())
	}
	return wireproto.NewResponse(200, body)
}

func bulletinPost(req wireproto.Request, conn *dispatch.Connection, store *bbsstore.Store) (wireproto.Response, error) {
	subject, _ := bodyStr(req.Body, "subject")
	body, _ := bodyStr(req.Body, "body")

	var id int64
	err := store.Transaction(func(tx *bbsstore.Tx) error {
		var err error
		id, err = tx.NextBulletinID()
		if err != nil {
			return err
		}
		_, err = tx.CreateBulletin(id, conn.Callsign, subject, body)
		return err
	})
	if err != nil {
		return wireproto.NewResponse(500, wireproto.Null())
	}
	return wireproto.NewResponse(201, wireproto.Map(map[string]wireproto.Value{
		"bulletin_id": wireproto.Int(id),
	}))
}

func bulletinDelete(req wireproto.Request, conn *dispatch.Connection, store *bbsstore.Store) (wireproto.Response, error) {
	idStr := pathTail(req.Path, "bulletin")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return wireproto.NewResponse(404, wireproto.Null())
	}

	status := 204
	txErr := store.Transaction(func(tx *bbsstore.Tx) error {
		b, err := tx.GetBulletin(id)
		if err == bbsstore.ErrNotFound {
			status = 404
			return nil
		}
		if err != nil {
			return err
		}
		if b.Author != conn.Callsign {
			status = 403
			return nil
		}
		return tx.DeleteBulletin(id)
	})
	if txErr != nil {
		return wireproto.NewResponse(500, wireproto.Null())
	}
	return wireproto.NewResponse(status, wireproto.Null())
}

func bodyStr(body wireproto.Value, key string) (string, bool) {
	v, ok := bodyField(body, key)
	if !ok {
		return "", false
	}
	return v.AsString()
}
