// Package handlers implements the domain handlers the dispatcher routes
// to: root, user, bulletin, message, object and job.
package handlers

import (
	"encoding/base64"

	"github.com/packetbbs/core/internal/bbsstore"
	"github.com/packetbbs/core/internal/wireproto"
)

func varStr(v wireproto.Request, key string) (string, bool) {
	val, ok := v.Vars[key]
	if !ok {
		return "", false
	}
	return val.AsString()
}

func varInt(v wireproto.Request, key string) (int64, bool) {
	val, ok := v.Vars[key]
	if !ok {
		return 0, false
	}
	return val.AsInt()
}

func bodyField(body wireproto.Value, key string) (wireproto.Value, bool) {
	m, ok := body.AsMap()
	if !ok {
		return wireproto.Value{}, false
	}
	val, ok := m[key]
	return val, ok
}

func userToValue(u bbsstore.User) wireproto.Value {
	socials := make([]wireproto.Value, len(u.Socials))
	for i, s := range u.Socials {
		socials[i] = wireproto.Str(s)
	}
	objIDs := make([]wireproto.Value, len(u.ObjectIDs))
	for i, id := range u.ObjectIDs {
		objIDs[i] = wireproto.Str(id)
	}
	return wireproto.Map(map[string]wireproto.Value{
		"callsign": wireproto.Str(u.Callsign),
		"uuid":     wireproto.Str(u.UUID),
		"enabled":  wireproto.Bool(u.Enabled),
		"hidden":   wireproto.Bool(u.Hidden),
		"bio":      wireproto.Str(u.Bio),
		"status":   wireproto.Str(u.Status),
		"email":    wireproto.Str(u.Email),
		"location": wireproto.Str(u.Location),
		"socials":  wireproto.List(socials...),
		"objects":  wireproto.List(objIDs...),
		"last_seen": wireproto.Int(u.LastSeen.Unix()),
	})
}

func bulletinToValue(b bbsstore.Bulletin) wireproto.Value {
	return wireproto.Map(map[string]wireproto.Value{
		"id":         wireproto.Int(b.ID),
		"author":     wireproto.Str(b.Author),
		"subject":    wireproto.Str(b.Subject),
		"body":       wireproto.Str(b.Body),
		"created_at": wireproto.Int(b.CreatedAt.Unix()),
		"updated_at": wireproto.Int(b.UpdatedAt.Unix()),
	})
}

func attachmentToValue(a bbsstore.Attachment) wireproto.Value {
	return wireproto.Map(map[string]wireproto.Value{
		"name":   wireproto.Str(a.Name),
		"binary": wireproto.Bool(a.Binary),
		"data":   wireproto.Bytes(a.Data),
		"size":   wireproto.Int(a.Size),
	})
}

func messageToValue(m bbsstore.Message, includeText, includeAttachments bool) wireproto.Value {
	recips := make([]wireproto.Value, len(m.Recipients))
	for i, r := range m.Recipients {
		recips[i] = wireproto.Str(r)
	}
	out := map[string]wireproto.Value{
		"uuid":      wireproto.Str(m.UUID),
		"sent_at":   wireproto.Int(m.SentAt.Unix()),
		"sender":    wireproto.Str(m.Sender),
		"to":        wireproto.List(recips...),
		"retrieved": wireproto.Bool(m.Retrieved),
		"delivered": wireproto.Bool(m.Delivered),
	}
	if includeText {
		out["text"] = wireproto.Str(m.Text)
	}
	if includeAttachments {
		atts := make([]wireproto.Value, len(m.Attachments))
		for i, a := range m.Attachments {
			atts[i] = attachmentToValue(a)
		}
		out["attachments"] = wireproto.List(atts...)
	}
	return wireproto.Map(out)
}

func objectToValue(o bbsstore.Object, includeData bool) wireproto.Value {
	out := map[string]wireproto.Value{
		"uuid":        wireproto.Str(o.UUID),
		"name":        wireproto.Str(o.Name),
		"binary":      wireproto.Bool(o.Binary),
		"private":     wireproto.Bool(o.Private),
		"owner":       wireproto.Str(o.Owner),
		"created_at":  wireproto.Int(o.CreatedAt.Unix()),
		"modified_at": wireproto.Int(o.ModifiedAt.Unix()),
		"size":        wireproto.Int(int64(len(o.Data))),
	}
	if includeData {
		out["data"] = wireproto.Bytes(o.Data)
	}
	return wireproto.Map(out)
}

func jobToValue(j bbsstore.Job) wireproto.Value {
	cmd := make([]wireproto.Value, len(j.Command))
	for i, c := range j.Command {
		cmd[i] = wireproto.Str(c)
	}
	env := map[string]wireproto.Value{}
	for k, v := range j.Env {
		env[k] = wireproto.Str(v)
	}
	out := map[string]wireproto.Value{
		"id":          wireproto.Int(j.ID),
		"owner":       wireproto.Str(j.Owner),
		"cmd":         wireproto.List(cmd...),
		"env":         wireproto.Map(env),
		"status":      wireproto.Str(string(j.Status)),
		"return_code": wireproto.Int(int64(j.ReturnCode)),
		"output":      wireproto.Str(base64.StdEncoding.EncodeToString(j.Stdout)),
		"stderr":      wireproto.Str(base64.StdEncoding.EncodeToString(j.Stderr)),
		"created_at":  wireproto.Int(j.CreatedAt.Unix()),
	}
	if !j.StartedAt.IsZero() {
		out["started_at"] = wireproto.Int(j.StartedAt.Unix())
	}
	if !j.FinishedAt.IsZero() {
		out["finished_at"] = wireproto.Int(j.FinishedAt.Unix())
	}
	return wireproto.Map(out)
}
