package handlers

import (
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/packetbbs/core/internal/bbsstore"
	"github.com/packetbbs/core/internal/dispatch"
	"github.com/packetbbs/core/internal/wireproto"
)

// Message routes POST/GET /message.
func Message(req wireproto.Request, conn *dispatch.Connection, store *bbsstore.Store) (wireproto.Response, error) {
	switch req.Method {
	case wireproto.MethodPOST:
		return messagePost(req, conn, store)
	case wireproto.MethodGET:
		return messageGet(req, conn, store)
	default:
		return wireproto.NewResponse(404, wireproto.Null())
	}
}

func resolveAttachments(tx *bbsstore.Tx, body wireproto.Value) ([]bbsstore.Attachment, error) {
	v, ok := bodyField(body, "attachments")
	if !ok {
		return nil, nil
	}
	items, ok := v.AsList()
	if !ok {
		return nil, nil
	}
	out := make([]bbsstore.Attachment, 0, len(items))
	for _, item := range items {
		m, ok := item.AsMap()
		if !ok {
			continue
		}
		if objRef, ok := m["object_uuid"]; ok {
			if uuidStr, ok := objRef.AsString(); ok {
				obj, err := tx.GetObject(uuidStr)
				if err != nil {
					continue
				}
				out = append(out, bbsstore.Attachment{Name: obj.Name, Binary: obj.Binary, Data: obj.Data, Size: int64(len(obj.Data))})
				continue
			}
		}
		name, _ := m["name"].AsString()
		if len(name) > bbsstore.MaxNameLen {
			return nil, errAttachmentName
		}
		binary, _ := m["binary"].AsBool()
		data, _ := m["data"].AsBytes()
		out = append(out, bbsstore.Attachment{Name: name, Binary: binary, Data: data, Size: int64(len(data))})
	}
	return out, nil
}

var errAttachmentName = errors.New("attachment name too long")

func messagePost(req wireproto.Request, conn *dispatch.Connection, store *bbsstore.Store) (wireproto.Response, error) {
	text, _ := bodyStr(req.Body, "text")
	var to []string
	if v, ok := bodyField(req.Body, "to"); ok {
		if list, ok := v.AsList(); ok {
			for _, item := range list {
				if s, ok := item.AsString(); ok {
					to = append(to, strings.ToUpper(strings.TrimSpace(s)))
				}
			}
		}
	}

	var failed []string
	var copies int
	var msgID string
	err := store.Transaction(func(tx *bbsstore.Tx) error {
		attachments, err := resolveAttachments(tx, req.Body)
		if err != nil {
			return err
		}

		valid := make([]string, 0, len(to))
		for _, recip := range to {
			if recip == bbsstore.RecipientAll {
				valid = append(valid, recip)
				continue
			}
			u, err := tx.GetUser(recip)
			if err != nil || !u.Enabled {
				failed = append(failed, recip)
				continue
			}
			valid = append(valid, recip)
		}
		if len(valid) == 0 {
			return nil
		}

		m, n, err := tx.SendMessage(conn.Callsign, valid, text, attachments)
		if err != nil {
			return err
		}
		msgID = m.UUID
		copies = n
		return nil
	})
	if errors.Is(err, errAttachmentName) {
		return wireproto.NewResponse(400, wireproto.Str(err.Error()))
	}
	if err != nil {
		return wireproto.NewResponse(500, wireproto.Null())
	}

	failVals := make([]wireproto.Value, len(failed))
	for i, s := range failed {
		failVals[i] = wireproto.Str(s)
	}
	// successes counts mailbox copies written: one per delivered recipient
	// plus the sender's sent-folder copy.
	return wireproto.NewResponse(201, wireproto.Map(map[string]wireproto.Value{
		"successes": wireproto.Int(int64(copies)),
		"failed":    wireproto.List(failVals...),
		"msg_id":    wireproto.Str(msgID),
	}))
}

func messageGet(req wireproto.Request, conn *dispatch.Connection, store *bbsstore.Store) (wireproto.Response, error) {
	if id, ok := varStr(req, "id"); ok && id != "" {
		var body wireproto.Value
		notFound := false
		err := store.Transaction(func(tx *bbsstore.Tx) error {
			m, err := tx.GetMailboxMessage(id, conn.Callsign)
			if err == bbsstore.ErrNotFound {
				notFound = true
				return nil
			}
			if err != nil {
				return err
			}
			if err := tx.MarkRetrieved(id, conn.Callsign); err != nil {
				return err
			}
			body = messageToValue(m, true, true)
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

	source, _ := varStr(req, "source")
	if source == "" {
		source = "all"
	}
	fetchText := true
	if v, ok := varStr(req, "fetch_text"); ok {
		fetchText = v != "n" && v != "no"
	}
	fetchAttachments := false
	if v, ok := varStr(req, "fetch_attachments"); ok {
		fetchAttachments = v == "y" || v == "yes"
	}
	reverse := false
	if v, ok := varStr(req, "reverse"); ok {
		reverse = v == "y" || v == "yes"
	}
	sortKey, _ := varStr(req, "sort")
	search, _ := varStr(req, "search")
	search = strings.ToLower(search)
	var since time.Time
	if s, ok := varStr(req, "since"); ok && s != "" {
		if t, err := time.Parse("20060102150405", s); err == nil {
			since = t
		}
	}
	limit := 0
	if n, ok := varInt(req, "limit"); ok {
		limit = int(n)
	}

	var out []wireproto.Value
	err := store.Transaction(func(tx *bbsstore.Tx) error {
		msgs, err := tx.ListMailbox(conn.Callsign)
		if err != nil {
			return err
		}
		var filtered []bbsstore.Message
		for _, m := range msgs {
			if source == "sent" && m.Sender != conn.Callsign {
				continue
			}
			if source == "received" && m.Sender == conn.Callsign {
				continue
			}
			if !since.IsZero() && m.SentAt.Before(since) {
				continue
			}
			if search != "" {
				hay := strings.ToLower(m.Text + " " + m.Sender + " " + strings.Join(m.Recipients, " "))
				if !strings.Contains(hay, search) {
					continue
				}
			}
			filtered = append(filtered, m)
		}
		switch sortKey {
		case "from":
			sort.Slice(filtered, func(i, j int) bool { return filtered[i].Sender < filtered[j].Sender })
		case "to":
			sort.Slice(filtered, func(i, j int) bool {
				ri, rj := "", ""
				if len(filtered[i].Recipients) > 0 {
					ri = filtered[i].Recipients[0]
				}
				if len(filtered[j].Recipients) > 0 {
					rj = filtered[j].Recipients[0]
				}
				return ri < rj
			})
		default: // "date"
			sort.Slice(filtered, func(i, j int) bool { return filtered[i].SentAt.Before(filtered[j].SentAt) })
		}
		if reverse {
			for i, j := 0, len(filtered)-1; i < j; i, j = i+1, j-1 {
				filtered[i], filtered[j] = filtered[j], filtered[i]
			}
		}
		if limit > 0 && len(filtered) > limit {
			filtered = filtered[:limit]
		}
		out = make([]wireproto.Value, len(filtered))
		for i, m := range filtered {
			out[i] = messageToValue(m, fetchText, fetchAttachments)
		}
		return nil
	})
	if err != nil {
		return wireproto.NewResponse(500, wireproto.Null())
	}
	return wireproto.NewResponse(200, wireproto.List(out...))
}
