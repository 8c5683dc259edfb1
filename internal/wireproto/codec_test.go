package wireproto

import (
	"bytes"
	"strings"
	"testing"
)

func TestRequestRoundTrip(t *testing.T) {
	cases := []Compression{CompressNone, CompressGZip, CompressDeflate, CompressBZip2}
	for _, c := range cases {
		req := Request{
			Method: MethodPOST,
			Vars:   map[string]Value{"limit": Int(10)},
			Body:   Map(map[string]Value{"subject": Str("Hi"), "body": Str(strings.Repeat("x", 200))}),
		}
		req.SetPath("  /Bulletin ")

		frame := PackRequest(req, c)
		var up Unpacker
		envs, err := up.Feed(frame)
		if err != nil {
			t.Fatalf("feed: %v", err)
		}
		if len(envs) != 1 {
			t.Fatalf("expected 1 envelope, got %d", len(envs))
		}
		got, err := envs[0].AsRequest()
		if err != nil {
			t.Fatalf("as request: %v", err)
		}
		if got.Path != "/bulletin" {
			t.Errorf("path not normalised: %q", got.Path)
		}
		if got.Method != MethodPOST {
			t.Errorf("method mismatch: %v", got.Method)
		}
		subj, _ := got.Body.AsMap()
		s, _ := subj["subject"].AsString()
		if s != "Hi" {
			t.Errorf("body mismatch: %q", s)
		}
	}
}

func TestSmallBodyForcesNoCompression(t *testing.T) {
	req := Request{Method: MethodGET, Vars: map[string]Value{}, Body: Null()}
	req.SetPath("/")
	frame := PackRequest(req, CompressGZip)

	// Decode the outer envelope manually to inspect the c byte.
	r := &byteReader{b: frame}
	n, _ := r.uvarint()
	body := frame[len(frame)-int(n):]
	outer, err := decodeValue(&byteReader{b: body})
	if err != nil {
		t.Fatalf("decode outer: %v", err)
	}
	m, _ := outer.AsMap()
	cI, _ := m["c"].AsInt()
	if Compression(cI) != CompressNone {
		t.Errorf("expected forced NONE for small body, got %d", cI)
	}
}

func TestResponseStatusRangeRejected(t *testing.T) {
	if _, err := NewResponse(0, Null()); err == nil {
		t.Error("expected error for status 0")
	}
	if _, err := NewResponse(600, Null()); err == nil {
		t.Error("expected error for status 600")
	}
	if _, err := NewResponse(200, Null()); err != nil {
		t.Errorf("unexpected error for status 200: %v", err)
	}
}

func TestUnpackerPartialFrames(t *testing.T) {
	req := Request{Method: MethodGET, Vars: map[string]Value{}, Body: Null()}
	req.SetPath("/user")
	frame := PackRequest(req, CompressNone)

	var up Unpacker
	mid := len(frame) / 2
	envs, err := up.Feed(frame[:mid])
	if err != nil {
		t.Fatalf("feed partial: %v", err)
	}
	if len(envs) != 0 {
		t.Fatalf("expected no envelopes from partial frame, got %d", len(envs))
	}
	envs, err = up.Feed(frame[mid:])
	if err != nil {
		t.Fatalf("feed rest: %v", err)
	}
	if len(envs) != 1 {
		t.Fatalf("expected 1 envelope after full frame, got %d", len(envs))
	}
}

func TestUnpackerMultipleFramesInOneChunk(t *testing.T) {
	req1 := Request{Method: MethodGET, Vars: map[string]Value{}, Body: Null()}
	req1.SetPath("/")
	req2 := Request{Method: MethodGET, Vars: map[string]Value{}, Body: Null()}
	req2.SetPath("/bulletin")

	var combined bytes.Buffer
	combined.Write(PackRequest(req1, CompressNone))
	combined.Write(PackRequest(req2, CompressNone))

	var up Unpacker
	envs, err := up.Feed(combined.Bytes())
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	if len(envs) != 2 {
		t.Fatalf("expected 2 envelopes, got %d", len(envs))
	}
}

func TestBadFrameReported(t *testing.T) {
	var up Unpacker
	// A length prefix of 3 followed by three bytes of garbage that don't
	// decode as a tagged value.
	bad := []byte{0x03, 0xFF, 0xFF, 0xFF}
	if _, err := up.Feed(bad); err == nil {
		t.Error("expected bad frame error")
	}
}
