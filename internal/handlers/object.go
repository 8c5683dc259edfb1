package handlers

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/packetbbs/core/internal/bbsstore"
	"github.com/packetbbs/core/internal/dispatch"
	"github.com/packetbbs/core/internal/wireproto"
)

// Object routes POST/GET/UPDATE/DELETE /object.
func Object(req wireproto.Request, conn *dispatch.Connection, store *bbsstore.Store) (wireproto.Response, error) {
	switch req.Method {
	case wireproto.MethodPOST:
		return objectPost(req, conn, store)
	case wireproto.MethodGET:
		return objectGet(req, conn, store)
	case wireproto.MethodUPDATE:
		return objectUpdate(req, conn, store)
	case wireproto.MethodDELETE:
		return objectDelete(req, conn, store)
	default:
		return wireproto.NewResponse(404, wireproto.Null())
	}
}

func objectPost(req wireproto.Request, conn *dispatch.Connection, store *bbsstore.Store) (wireproto.Response, error) {
	name, _ := bodyStr(req.Body, "name")
	data, _ := bodyBytes(req.Body, "data")
	binary, _ := bodyBool(req.Body, "binary")
	private, _ := bodyBool(req.Body, "private")
	if len(name) > bbsstore.MaxNameLen {
		return wireproto.NewResponse(400, wireproto.Str("object name too long"))
	}

	var uuid string
	err := store.Transaction(func(tx *bbsstore.Tx) error {
		caller, err := tx.GetUser(conn.Callsign)
		if err != nil {
			return err
		}
		o, err := tx.CreateObject(caller.UUID, name, data, binary, private)
		if err != nil {
			return err
		}
		uuid = o.UUID
		return nil
	})
	if err != nil {
		return wireproto.NewResponse(500, wireproto.Null())
	}
	return wireproto.NewResponse(201, wireproto.Str(uuid))
}

func objectGet(req wireproto.Request, conn *dispatch.Connection, store *bbsstore.Store) (wireproto.Response, error) {
	fetch := false
	if v, ok := varStr(req, "fetch"); ok {
		fetch = v == "y" || v == "yes"
	}

	if uuid, ok := varStr(req, "uuid"); ok && uuid != "" {
		var body wireproto.Value
		status := 200
		err := store.Transaction(func(tx *bbsstore.Tx) error {
			o, err := tx.GetObject(uuid)
			if err == bbsstore.ErrNotFound {
				status = 404
				return nil
			}
			if err != nil {
				return err
			}
			if o.Private {
				caller, err := tx.GetUser(conn.Callsign)
				if err != nil {
					return err
				}
				if caller.UUID != o.Owner {
					status = 403
					return nil
				}
			}
			body = objectToValue(o, fetch)
			return nil
		})
		if err != nil {
			return wireproto.NewResponse(500, wireproto.Null())
		}
		return wireproto.NewResponse(status, body)
	}

	sortKey, _ := varStr(req, "sort")
	reverse := false
	if v, ok := varStr(req, "reverse"); ok {
		reverse = v == "y" || v == "yes"
	}
	search, _ := varStr(req, "search")
	search = strings.ToLower(search)
	limit := 0
	if n, ok := varInt(req, "limit"); ok {
		limit = int(n)
	}

	var out []wireproto.Value
	err := store.Transaction(func(tx *bbsstore.Tx) error {
		caller, err := tx.GetUser(conn.Callsign)
		if err != nil {
			return err
		}
		var objs []bbsstore.Object
		for _, id := range caller.ObjectIDs {
			o, err := tx.GetObject(id)
			if err != nil {
				continue
			}
			if search != "" && !strings.Contains(strings.ToLower(o.Name), search) {
				continue
			}
			objs = append(objs, o)
		}
		switch sortKey {
		case "date":
			sort.Slice(objs, func(i, j int) bool { return objs[i].ModifiedAt.Before(objs[j].ModifiedAt) })
		case "size":
			sort.Slice(objs, func(i, j int) bool { return len(objs[i].Data) < len(objs[j].Data) })
		default: // "name"
			sort.Slice(objs, func(i, j int) bool { return objs[i].Name < objs[j].Name })
		}
		if reverse {
			for i, j := 0, len(objs)-1; i < j; i, j = i+1, j-1 {
				objs[i], objs[j] = objs[j], objs[i]
			}
		}
		if limit > 0 && len(objs) > limit {
			objs = objs[:limit]
		}
		out = make([]wireproto.Value, len(objs))
		for i, o := range objs {
			out[i] = objectToValue(o, fetch)
		}
		return nil
	})
	if err != nil {
		return wireproto.NewResponse(500, wireproto.Null())
	}
	return wireproto.NewResponse(200, wireproto.List(out...))
}

func objectUpdate(req wireproto.Request, conn *dispatch.Connection, store *bbsstore.Store) (wireproto.Response, error) {
	uuid, _ := varStr(req, "uuid")
	status := 200
	err := store.Transaction(func(tx *bbsstore.Tx) error {
		o, err := tx.GetObject(uuid)
		if err == bbsstore.ErrNotFound {
			status = 404
			return nil
		}
		if err != nil {
			return err
		}
		caller, err := tx.GetUser(conn.Callsign)
		if err != nil {
			return err
		}
		if caller.UUID != o.Owner {
			status = 403
			return nil
		}
		name := o.Name
		if n, ok := bodyStr(req.Body, "name"); ok {
			if len(n) > bbsstore.MaxNameLen {
				status = 400
				return nil
			}
			name = n
		}
		data, binary := o.Data, o.Binary
		if d, ok := bodyBytes(req.Body, "data"); ok {
			data = d
			binary = !utf8.Valid(d)
		}
		return tx.UpdateObject(uuid, name, data, binary)
	})
	if err != nil {
		return wireproto.NewResponse(500, wireproto.Null())
	}
	return wireproto.NewResponse(status, wireproto.Null())
}

func objectDelete(req wireproto.Request, conn *dispatch.Connection, store *bbsstore.Store) (wireproto.Response, error) {
	uuid, _ := varStr(req, "uuid")
	status := 200
	err := store.Transaction(func(tx *bbsstore.Tx) error {
		o, err := tx.GetObject(uuid)
		if err == bbsstore.ErrNotFound {
			status = 404
			return nil
		}
		if err != nil {
			return err
		}
		caller, err := tx.GetUser(conn.Callsign)
		if err != nil {
			return err
		}
		if caller.UUID != o.Owner {
			status = 403
			return nil
		}
		return tx.DeleteObject(uuid)
	})
	if err != nil {
		return wireproto.NewResponse(500, wireproto.Null())
	}
	return wireproto.NewResponse(status, wireproto.Null())
}

func bodyBytes(body wireproto.Value, key string) ([]byte, bool) {
	v, ok := bodyField(body, key)
	if !ok {
		return nil, false
	}
	return v.AsBytes()
}

func bodyBool(body wireproto.Value, key string) (bool, bool) {
	v, ok := bodyField(body, key)
	if !ok {
		return false, false
	}
	return v.AsBool()
}
