package wireproto

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/flate"
)

// Compression identifies the body codec used for an envelope's payload.
type Compression byte

const (
	CompressNone Compression = iota
	CompressBZip2
	CompressGZip
	CompressDeflate
)

// MsgType distinguishes a Request envelope from a Response envelope.
type MsgType byte

const (
	TypeRequest MsgType = iota
	TypeResponse
)

// Method is the one-byte request method tag.
type Method byte

const (
	MethodGET Method = iota
	MethodPOST
	MethodUPDATE
	MethodDELETE
)

// minCompressSize is the uncompressed-body floor below which compression is
// never attempted — the envelope overhead would dominate.
const minCompressSize = 30

// ErrUnsupportedEncoding is returned for an unknown Compression tag.
var ErrUnsupportedEncoding = errors.New("wireproto: unsupported encoding")

// ErrBadFrame is returned when a length-prefixed frame cannot be decoded.
var ErrBadFrame = errors.New("wireproto: bad frame")

// Request is a parsed REQUEST envelope.
type Request struct {
	Path   string
	Method Method
	Vars   map[string]Value
	Body   Value
}

// SetPath lower-cases and trims the path, per spec.
func (r *Request) SetPath(p string) { r.Path = strings.ToLower(strings.TrimSpace(p)) }

// Response is a parsed RESPONSE envelope.
type Response struct {
	Status int // 1..599
	Body   Value
}

// NewResponse validates the status code range at construction.
func NewResponse(status int, body Value) (Response, error) {
	if status < 1 || status > 599 {
		return Response{}, fmt.Errorf("wireproto: status %d out of range 1..599", status)
	}
	return Response{Status: status, Body: body}, nil
}

// --- tagged-value TLV codec -------------------------------------------------

func putUvarint(buf *bytes.Buffer, n uint64) {
	var tmp [binary.MaxVarintLen64]byte
	l := binary.PutUvarint(tmp[:], n)
	buf.Write(tmp[:l])
}

func encodeValue(buf *bytes.Buffer, v Value) {
	buf.WriteByte(byte(v.Kind))
	switch v.Kind {
	case KindNull:
	case KindBool:
		if v.B {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case KindI64:
		var tmp [8]byte
		binary.BigEndian.PutUint64(tmp[:], uint64(v.I))
		buf.Write(tmp[:])
	case KindBytes:
		putUvarint(buf, uint64(len(v.Buf)))
		buf.Write(v.Buf)
	case KindString:
		putUvarint(buf, uint64(len(v.S)))
		buf.WriteString(v.S)
	case KindList:
		putUvarint(buf, uint64(len(v.L)))
		for _, e := range v.L {
			encodeValue(buf, e)
		}
	case KindMap:
		putUvarint(buf, uint64(len(v.M)))
		for k, e := range v.M {
			putUvarint(buf, uint64(len(k)))
			buf.WriteString(k)
			encodeValue(buf, e)
		}
	}
}

type byteReader struct {
	b   []byte
	pos int
}

func (r *byteReader) readByte() (byte, error) {
	if r.pos >= len(r.b) {
		return 0, io.ErrUnexpectedEOF
	}
	c := r.b[r.pos]
	r.pos++
	return c, nil
}

func (r *byteReader) uvarint() (uint64, error) {
	n, l := binary.Uvarint(r.b[r.pos:])
	if l <= 0 {
		return 0, ErrBadFrame
	}
	r.pos += l
	return n, nil
}

func (r *byteReader) take(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.b) {
		return nil, io.ErrUnexpectedEOF
	}
	out := r.b[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

func decodeValue(r *byteReader) (Value, error) {
	kb, err := r.readByte()
	if err != nil {
		return Value{}, err
	}
	switch Kind(kb) {
	case KindNull:
		return Null(), nil
	case KindBool:
		b, err := r.readByte()
		if err != nil {
			return Value{}, err
		}
		return Bool(b != 0), nil
	case KindI64:
		buf, err := r.take(8)
		if err != nil {
			return Value{}, err
		}
		return Int(int64(binary.BigEndian.Uint64(buf))), nil
	case KindBytes:
		n, err := r.uvarint()
		if err != nil {
			return Value{}, err
		}
		buf, err := r.take(int(n))
		if err != nil {
			return Value{}, err
		}
		cp := make([]byte, len(buf))
		copy(cp, buf)
		return Bytes(cp), nil
	case KindString:
		n, err := r.uvarint()
		if err != nil {
			return Value{}, err
		}
		buf, err := r.take(int(n))
		if err != nil {
			return Value{}, err
		}
		return Str(string(buf)), nil
	case KindList:
		n, err := r.uvarint()
		if err != nil {
			return Value{}, err
		}
		out := make([]Value, 0, n)
		for i := uint64(0); i < n; i++ {
			e, err := decodeValue(r)
			if err != nil {
				return Value{}, err
			}
			out = append(out, e)
		}
		return List(out...), nil
	case KindMap:
		n, err := r.uvarint()
		if err != nil {
			return Value{}, err
		}
		m := make(map[string]Value, n)
		for i := uint64(0); i < n; i++ {
			kl, err := r.uvarint()
			if err != nil {
				return Value{}, err
			}
			kbuf, err := r.take(int(kl))
			if err != nil {
				return Value{}, err
			}
			val, err := decodeValue(r)
			if err != nil {
				return Value{}, err
			}
			m[string(kbuf)] = val
		}
		return Map(m), nil
	default:
		return Value{}, fmt.Errorf("%w: kind %d", ErrBadFrame, kb)
	}
}

// --- inner dictionary helpers -----------------------------------------------

func requestToValue(r Request) Value {
	vars := make(map[string]Value, len(r.Vars))
	for k, v := range r.Vars {
		vars[k] = v
	}
	return Map(map[string]Value{
		"p": Str(r.Path),
		"m": Int(int64(r.Method)),
		"v": Map(vars),
		"d": r.Body,
	})
}

func valueToRequest(v Value) (Request, error) {
	m, ok := v.AsMap()
	if !ok {
		return Request{}, ErrBadFrame
	}
	path, _ := m["p"].AsString()
	methI, _ := m["m"].AsInt()
	vars, _ := m["v"].AsMap()
	req := Request{Method: Method(methI), Vars: vars, Body: m["d"]}
	req.SetPath(path)
	return req, nil
}

func responseToValue(r Response) Value {
	return Map(map[string]Value{
		"c": Int(int64(r.Status)),
		"d": r.Body,
	})
}

func valueToResponse(v Value) (Response, error) {
	m, ok := v.AsMap()
	if !ok {
		return Response{}, ErrBadFrame
	}
	status, _ := m["c"].AsInt()
	return NewResponse(int(status), m["d"])
}

// --- compression -------------------------------------------------------------

func compressBody(body []byte, c Compression) ([]byte, error) {
	var buf bytes.Buffer
	switch c {
	case CompressGZip:
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(body); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	case CompressDeflate:
		w, err := flate.NewWriter(&buf, flate.DefaultCompression)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(body); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	case CompressBZip2:
		w, err := bzip2.NewWriter(&buf, &bzip2.WriterConfig{Level: bzip2.DefaultCompression})
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(body); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	default:
		return nil, ErrUnsupportedEncoding
	}
	return buf.Bytes(), nil
}

func decompressBody(body []byte, c Compression) ([]byte, error) {
	switch c {
	case CompressGZip:
		r, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	case CompressDeflate:
		r := flate.NewReader(bytes.NewReader(body))
		defer r.Close()
		return io.ReadAll(r)
	case CompressBZip2:
		r, err := bzip2.NewReader(bytes.NewReader(body), nil)
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedEncoding, c)
	}
}

// packEnvelope serialises t/c/d into the outer tagged-map bytes. The body
// is emitted uncompressed when it is under minCompressSize or when the
// compressed form would not be smaller.
func packEnvelope(t MsgType, inner Value, preferred Compression) []byte {
	var plain bytes.Buffer
	encodeValue(&plain, inner)
	plainBytes := plain.Bytes()

	c := preferred
	d := plainBytes
	if c != CompressNone && len(plainBytes) >= minCompressSize {
		if compressed, err := compressBody(plainBytes, c); err == nil && len(compressed) < len(plainBytes) {
			d = compressed
		} else {
			c = CompressNone
		}
	} else {
		c = CompressNone
	}

	var out bytes.Buffer
	encodeValue(&out, Map(map[string]Value{
		"t": Int(int64(t)),
		"c": Int(int64(c)),
		"d": Bytes(d),
	}))
	return out.Bytes()
}

// PackRequest serialises a Request as a length-prefixed wire frame.
func PackRequest(r Request, compression Compression) []byte {
	body := packEnvelope(TypeRequest, requestToValue(r), compression)
	return frame(body)
}

// PackResponse serialises a Response as a length-prefixed wire frame.
func PackResponse(r Response, compression Compression) []byte {
	body := packEnvelope(TypeResponse, responseToValue(r), compression)
	return frame(body)
}

// frame prefixes body with a uvarint length, the unit the streaming
// Unpacker below consumes.
func frame(body []byte) []byte {
	var out bytes.Buffer
	putUvarint(&out, uint64(len(body)))
	out.Write(body)
	return out.Bytes()
}

// Envelope is a decoded outer envelope prior to Request/Response typing.
type Envelope struct {
	Type MsgType
	Body Value // the decoded inner dictionary
}

func unpackEnvelopeBytes(b []byte) (Envelope, error) {
	r := &byteReader{b: b}
	outer, err := decodeValue(r)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}
	m, ok := outer.AsMap()
	if !ok {
		return Envelope{}, ErrBadFrame
	}
	tI, _ := m["t"].AsInt()
	cI, _ := m["c"].AsInt()
	d, _ := m["d"].AsBytes()

	var plain []byte
	if Compression(cI) == CompressNone {
		plain = d
	} else {
		plain, err = decompressBody(d, Compression(cI))
		if err != nil {
			return Envelope{}, err
		}
	}

	inner, err := decodeValue(&byteReader{b: plain})
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}
	return Envelope{Type: MsgType(tI), Body: inner}, nil
}

// AsRequest decodes the envelope body as a Request.
func (e Envelope) AsRequest() (Request, error) { return valueToRequest(e.Body) }

// AsResponse decodes the envelope body as a Response.
func (e Envelope) AsResponse() (Response, error) { return valueToResponse(e.Body) }

// MaxFrameSize bounds a single wire frame; a length prefix claiming more
// than this fails the stream instead of accumulating unbounded buffer.
const MaxFrameSize = 1 << 22

// Unpacker accumulates bytes fed by a transport and yields whole envelopes
// as soon as a complete length-prefixed frame is available. Partial frames
// are retained across Feed calls.
type Unpacker struct {
	buf bytes.Buffer
}

// Feed appends chunk to the internal buffer and returns every envelope that
// became fully decodable. A malformed envelope returns ErrBadFrame along
// with any envelopes decoded before it; the bad frame itself is skipped so
// decoding can resume at the next frame boundary.
func (u *Unpacker) Feed(chunk []byte) ([]Envelope, error) {
	u.buf.Write(chunk)
	var out []Envelope
	for {
		data := u.buf.Bytes()
		n, l := binary.Uvarint(data)
		if l <= 0 {
			// Not enough bytes yet for the length prefix.
			return out, nil
		}
		if n > MaxFrameSize {
			u.buf.Reset()
			return out, fmt.Errorf("%w: frame of %d bytes exceeds cap", ErrBadFrame, n)
		}
		if uint64(len(data)-l) < n {
			// Full frame not yet available.
			return out, nil
		}
		frameBytes := data[l : l+int(n)]
		env, err := unpackEnvelopeBytes(frameBytes)
		if err != nil {
			// Drop the bad frame; frames buffered after it are decoded on
			// the next Feed call.
			u.buf.Next(l + int(n))
			return out, fmt.Errorf("%w: %w", ErrBadFrame, err)
		}
		u.buf.Next(l + int(n))
		out = append(out, env)
	}
}
