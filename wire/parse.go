package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/dotindustries/conduit/types"
)

// Message is one framed backend message. Payload excludes the tag byte and
// the length field.
type Message struct {
	Kind    byte
	Payload []byte
}

// ParseMessages splits buf into complete messages and returns the unconsumed
// remainder. A message is only yielded once its full payload is present;
// partial trailing bytes are never consumed and stay buffered for the next
// read. A length field below the protocol minimum is a framing error.
func ParseMessages(buf []byte) (msgs []Message, rest []byte, err error) {
	rest = buf
	for {
		if len(rest) < 5 {
			return msgs, rest, nil
		}

		length := int32(binary.BigEndian.Uint32(rest[1:5]))
		if length < 4 {
			return msgs, rest, &types.ProtocolError{
				Reason: fmt.Sprintf("message %q declares invalid length %d", rest[0], length),
			}
		}

		total := 1 + int(length)
		if len(rest) < total {
			return msgs, rest, nil
		}

		payload := make([]byte, length-4)
		copy(payload, rest[5:total])
		msgs = append(msgs, Message{Kind: rest[0], Payload: payload})
		rest = rest[total:]
	}
}

// HasReadyForQuery reports whether buf contains a framed ReadyForQuery
// marker: tag 'Z' followed by length 5. Each request/response exchange in
// this protocol subset ends with exactly one such marker, so its presence
// means the current exchange is fully buffered.
func HasReadyForQuery(buf []byte) bool {
	for i := 0; i+5 < len(buf); i++ {
		if buf[i] == ReadyForQueryTag && binary.BigEndian.Uint32(buf[i+1:i+5]) == 5 {
			return true
		}
	}

	return false
}

// AuthKind classifies an authentication challenge.
type AuthKind int

const (
	// AuthOK means authentication completed (or was never required).
	AuthOK AuthKind = iota
	// AuthCleartext requests the password verbatim.
	AuthCleartext
	// AuthMD5 requests a salted md5 digest of the password.
	AuthMD5
	// AuthUnsupported is any other method; Code carries the server's value.
	AuthUnsupported
)

// AuthChallenge is a decoded Authentication ('R') payload.
type AuthChallenge struct {
	Kind AuthKind

	// Salt is the 4-byte salt of an AuthMD5 challenge.
	Salt [4]byte

	// Code is the raw sub-type code, retained for AuthUnsupported.
	Code int32
}

// ParseAuth decodes an Authentication message payload.
func ParseAuth(payload []byte) (AuthChallenge, error) {
	if len(payload) < 4 {
		return AuthChallenge{}, &types.ProtocolError{Reason: "authentication payload shorter than 4 bytes"}
	}

	code := int32(binary.BigEndian.Uint32(payload[:4]))
	switch code {
	case AuthCodeOk:
		return AuthChallenge{Kind: AuthOK, Code: code}, nil
	case AuthCodeCleartext:
		return AuthChallenge{Kind: AuthCleartext, Code: code}, nil
	case AuthCodeMD5:
		if len(payload) < 8 {
			return AuthChallenge{}, &types.ProtocolError{Reason: "md5 authentication payload missing salt"}
		}
		c := AuthChallenge{Kind: AuthMD5, Code: code}
		copy(c.Salt[:], payload[4:8])

		return c, nil
	default:
		return AuthChallenge{Kind: AuthUnsupported, Code: code}, nil
	}
}

// FieldDescription is one column descriptor from a RowDescription message.
// Only Name and DataTypeOID are surfaced to callers; the rest is retained
// for completeness of the decode.
type FieldDescription struct {
	Name         string
	TableOID     uint32
	ColumnIndex  int16
	DataTypeOID  uint32
	TypeSize     int16
	TypeModifier int32
	FormatCode   int16
}

// ParseRowDescription decodes a RowDescription ('T') payload into ordered
// field descriptors.
func ParseRowDescription(payload []byte) ([]FieldDescription, error) {
	r := reader{buf: payload}

	count, err := r.int16()
	if err != nil {
		return nil, err
	}

	fields := make([]FieldDescription, 0, count)
	for i := int16(0); i < count; i++ {
		var f FieldDescription
		if f.Name, err = r.cstring(); err != nil {
			return nil, err
		}
		if f.TableOID, err = r.uint32(); err != nil {
			return nil, err
		}
		if f.ColumnIndex, err = r.int16(); err != nil {
			return nil, err
		}
		if f.DataTypeOID, err = r.uint32(); err != nil {
			return nil, err
		}
		if f.TypeSize, err = r.int16(); err != nil {
			return nil, err
		}
		if f.TypeModifier, err = r.int32(); err != nil {
			return nil, err
		}
		if f.FormatCode, err = r.int16(); err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}

	return fields, nil
}

// ParseDataRow decodes a DataRow ('D') payload into ordered column values.
// A nil entry denotes SQL NULL (wire length -1).
func ParseDataRow(payload []byte) ([]*string, error) {
	r := reader{buf: payload}

	count, err := r.int16()
	if err != nil {
		return nil, err
	}

	values := make([]*string, 0, count)
	for i := int16(0); i < count; i++ {
		length, err := r.int32()
		if err != nil {
			return nil, err
		}
		if length < 0 {
			values = append(values, nil)
			continue
		}
		raw, err := r.take(int(length))
		if err != nil {
			return nil, err
		}
		s := string(raw)
		values = append(values, &s)
	}

	return values, nil
}

// ParseCommandComplete extracts the affected/returned row count from a
// CommandComplete ('C') tag such as "SELECT 5", "INSERT 0 3", "UPDATE 10"
// or "DELETE 1". Tags with no trailing integer ("BEGIN", "CREATE TABLE")
// yield 0.
func ParseCommandComplete(payload []byte) uint32 {
	tag := strings.TrimRight(string(bytes.TrimRight(payload, "\x00")), " ")
	idx := strings.LastIndexByte(tag, ' ')
	if idx < 0 {
		return 0
	}

	n, err := strconv.ParseUint(tag[idx+1:], 10, 32)
	if err != nil {
		return 0
	}

	return uint32(n)
}

// ParseParameterStatus decodes a ParameterStatus ('S') payload.
func ParseParameterStatus(payload []byte) (name, value string, err error) {
	r := reader{buf: payload}
	if name, err = r.cstring(); err != nil {
		return "", "", err
	}
	if value, err = r.cstring(); err != nil {
		return "", "", err
	}

	return name, value, nil
}

// BackendKeyData identifies the server process for this session. The cancel
// protocol is not implemented here; the values are informational.
type BackendKeyData struct {
	ProcessID uint32
	SecretKey uint32
}

// ParseBackendKeyData decodes a BackendKeyData ('K') payload.
func ParseBackendKeyData(payload []byte) (BackendKeyData, error) {
	r := reader{buf: payload}

	var k BackendKeyData
	var err error
	if k.ProcessID, err = r.uint32(); err != nil {
		return BackendKeyData{}, err
	}
	if k.SecretKey, err = r.uint32(); err != nil {
		return BackendKeyData{}, err
	}

	return k, nil
}

// ParseError decodes an ErrorResponse ('E') payload: a sequence of
// (field tag, null-terminated string) pairs ending with a zero byte.
// NoticeResponse ('N') shares the same encoding.
func ParseError(payload []byte) *types.PgError {
	pgErr := &types.PgError{}

	r := reader{buf: payload}
	for {
		tag, err := r.byte()
		if err != nil || tag == 0 {
			return pgErr
		}
		value, err := r.cstring()
		if err != nil {
			// Truncated field; keep what decoded so far.
			return pgErr
		}

		switch tag {
		case 'S':
			pgErr.Severity = value
		case 'C':
			pgErr.Code = value
		case 'M':
			pgErr.Message = value
		case 'D':
			pgErr.Detail = value
		case 'H':
			pgErr.Hint = value
		}
	}
}

// reader consumes a backend payload sequentially, failing on truncation
// instead of panicking.
type reader struct {
	buf []byte
	off int
}

func errTruncated(what string) error {
	return &types.ProtocolError{Reason: "truncated " + what}
}

func (r *reader) take(n int) ([]byte, error) {
	if r.off+n > len(r.buf) {
		return nil, errTruncated("payload")
	}
	b := r.buf[r.off : r.off+n]
	r.off += n

	return b, nil
}

func (r *reader) byte() (byte, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}

	return b[0], nil
}

func (r *reader) int16() (int16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}

	return int16(binary.BigEndian.Uint16(b)), nil
}

func (r *reader) int32() (int32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}

	return int32(binary.BigEndian.Uint32(b)), nil
}

func (r *reader) uint32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}

	return binary.BigEndian.Uint32(b), nil
}

func (r *reader) cstring() (string, error) {
	idx := bytes.IndexByte(r.buf[r.off:], 0)
	if idx < 0 {
		return "", errTruncated("string")
	}
	s := string(r.buf[r.off : r.off+idx])
	r.off += idx + 1

	return s, nil
}
