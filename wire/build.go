package wire

import (
	"bytes"
	"crypto/md5" //nolint:gosec // protocol-mandated legacy hash, not used for security
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// writer accumulates one frontend message body; the length header is framed
// on Finish. The shape mirrors the message buffers Postgres proxies use.
type writer struct {
	buf bytes.Buffer
}

func (w *writer) byte(b byte)    { w.buf.WriteByte(b) }
func (w *writer) bytes(p []byte) { w.buf.Write(p) }

func (w *writer) int16(v int16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], uint16(v))
	w.buf.Write(b[:])
}

func (w *writer) int32(v int32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	w.buf.Write(b[:])
}

// cstring writes a null-terminated string.
func (w *writer) cstring(s string) {
	w.buf.WriteString(s)
	w.buf.WriteByte(0)
}

// finish frames the accumulated body as [tag][len including self][body].
// A zero tag omits the tag byte (StartupMessage framing).
func (w *writer) finish(tag byte) []byte {
	body := w.buf.Bytes()
	n := 1 + 4 + len(body)
	if tag == 0 {
		n = 4 + len(body)
	}

	out := make([]byte, 0, n)
	if tag != 0 {
		out = append(out, tag)
	}
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(4+len(body)))
	out = append(out, length[:]...)

	return append(out, body...)
}

// BuildStartup frames a StartupMessage for protocol 3.0 carrying the user
// and database parameters. The startup message has no tag byte; its leading
// length covers the whole message including itself.
func BuildStartup(user, database string) []byte {
	var w writer
	w.int32(ProtocolVersion)
	w.cstring("user")
	w.cstring(user)
	w.cstring("database")
	w.cstring(database)
	w.byte(0)

	return w.finish(0)
}

// BuildPasswordCleartext frames a PasswordMessage carrying the password
// verbatim, for AuthenticationCleartextPassword challenges.
func BuildPasswordCleartext(password string) []byte {
	var w writer
	w.cstring(password)

	return w.finish(PasswordTag)
}

// BuildPasswordMD5 frames a PasswordMessage answering an MD5 challenge:
// "md5" + hex(md5(hex(md5(password || user)) || salt)).
//
// MD5 here is a protocol requirement inherited from the server's legacy
// auth method, not a security mechanism of this client.
func BuildPasswordMD5(user, password string, salt [4]byte) []byte {
	inner := md5.Sum([]byte(password + user)) //nolint:gosec
	innerHex := hex.EncodeToString(inner[:])

	outer := md5.New() //nolint:gosec
	outer.Write([]byte(innerHex))
	outer.Write(salt[:])

	return BuildPasswordCleartext("md5" + hex.EncodeToString(outer.Sum(nil)))
}

// BuildSimpleQuery frames a simple-protocol Query message.
func BuildSimpleQuery(sql string) []byte {
	var w writer
	w.cstring(sql)

	return w.finish(SimpleQueryTag)
}

// BuildExtendedQuery frames one extended-protocol round trip as the
// concatenation Parse + Bind + Execute + Sync, using the unnamed statement
// and portal, all-text formats, and parameter types left for the server to
// infer. A nil parameter binds SQL NULL.
func BuildExtendedQuery(sql string, params []any) []byte {
	var out []byte

	// Parse: unnamed statement, no pre-declared parameter types.
	var p writer
	p.cstring("")
	p.cstring(sql)
	p.int16(0)
	out = append(out, p.finish(ParseTag)...)

	// Bind: unnamed portal/statement, text format in and out.
	var b writer
	b.cstring("")
	b.cstring("")
	b.int16(0) // parameter format codes: default (text)
	b.int16(int16(len(params)))
	for _, param := range params {
		value, isNull := encodeParam(param)
		if isNull {
			b.int32(-1)
			continue
		}
		b.int32(int32(len(value)))
		b.bytes(value)
	}
	b.int16(0) // result format codes: default (text)
	out = append(out, b.finish(BindTag)...)

	// Execute: unnamed portal, no row limit.
	var e writer
	e.cstring("")
	e.int32(0)
	out = append(out, e.finish(ExecuteTag)...)

	// Sync closes the implicit transaction and elicits ReadyForQuery.
	var s writer
	out = append(out, s.finish(SyncTag)...)

	return out
}

// BuildTerminate frames a Terminate message.
func BuildTerminate() []byte {
	var w writer

	return w.finish(TerminateTag)
}

// encodeParam serializes one bind parameter to its text form. Byte slices
// pass through verbatim; nil binds SQL NULL; structured values fall back to
// their fmt representation.
func encodeParam(v any) (data []byte, isNull bool) {
	switch p := v.(type) {
	case nil:
		return nil, true
	case []byte:
		return p, false
	case string:
		return []byte(p), false
	case bool:
		return []byte(strconv.FormatBool(p)), false
	case int:
		return []byte(strconv.FormatInt(int64(p), 10)), false
	case int32:
		return []byte(strconv.FormatInt(int64(p), 10)), false
	case int64:
		return []byte(strconv.FormatInt(p, 10)), false
	case uint32:
		return []byte(strconv.FormatUint(uint64(p), 10)), false
	case uint64:
		return []byte(strconv.FormatUint(p, 10)), false
	case float32:
		return []byte(strconv.FormatFloat(float64(p), 'g', -1, 32)), false
	case float64:
		return []byte(strconv.FormatFloat(p, 'g', -1, 64)), false
	case time.Time:
		return []byte(p.Format("2006-01-02 15:04:05.999999Z07:00")), false
	default:
		return fmt.Appendf(nil, "%v", p), false
	}
}
