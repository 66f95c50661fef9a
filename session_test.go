package conduit

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dotindustries/conduit/capability"
	"github.com/dotindustries/conduit/types"
	"github.com/dotindustries/conduit/wire"
)

// fakeHost implements capability.Transport as a scripted Postgres server.
// Each connection gets an inbox the respond callback fills in reaction to
// sent messages, mimicking the host-side proxy's request/response cadence.
type fakeHost struct {
	mu         sync.Mutex
	nextHandle capability.Handle
	conns      map[capability.Handle]*fakeConn

	// respond reacts to one frontend write. The startup message arrives
	// with startup=true since it carries no tag byte.
	respond func(c *fakeConn, data []byte, startup bool)

	connectErr   error
	connectCount int
	closeCounts  map[capability.Handle]int
}

type fakeConn struct {
	inbox       []byte
	startupSeen bool
	sent        [][]byte
}

func newFakeHost(respond func(c *fakeConn, data []byte, startup bool)) *fakeHost {
	return &fakeHost{
		conns:       make(map[capability.Handle]*fakeConn),
		closeCounts: make(map[capability.Handle]int),
		respond:     respond,
	}
}

var _ capability.Transport = (*fakeHost)(nil)

func (f *fakeHost) Connect(_ capability.ConnectConfig) (capability.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.connectCount++
	if f.connectErr != nil {
		return 0, f.connectErr
	}

	f.nextHandle++
	f.conns[f.nextHandle] = &fakeConn{}

	return f.nextHandle, nil
}

func (f *fakeHost) Send(h capability.Handle, data []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.conns[h]
	if !ok {
		return 0, errors.New("unknown handle")
	}

	c.sent = append(c.sent, append([]byte{}, data...))
	startup := !c.startupSeen
	c.startupSeen = true
	if f.respond != nil {
		f.respond(c, data, startup)
	}

	return len(data), nil
}

func (f *fakeHost) Recv(h capability.Handle, maxBytes int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.conns[h]
	if !ok {
		return nil, errors.New("unknown handle")
	}

	if len(c.inbox) == 0 {
		return nil, nil
	}
	n := min(maxBytes, len(c.inbox))
	chunk := c.inbox[:n]
	c.inbox = c.inbox[n:]

	return chunk, nil
}

func (f *fakeHost) Close(h capability.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closeCounts[h]++
	delete(f.conns, h)

	return nil
}

func (f *fakeHost) totalCloses() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, c := range f.closeCounts {
		n += c
	}

	return n
}

// conn returns the single connection of single-session tests.
func (f *fakeHost) conn(t *testing.T) *fakeConn {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	require.Len(t, f.conns, 1)
	for _, c := range f.conns {
		return c
	}

	return nil
}

// --- backend message fixtures ---

func be(tag byte, payload []byte) []byte {
	out := []byte{tag}
	out = binary.BigEndian.AppendUint32(out, uint32(4+len(payload)))

	return append(out, payload...)
}

func authOK() []byte { return be('R', []byte{0, 0, 0, 0}) }

func authCleartext() []byte { return be('R', []byte{0, 0, 0, 3}) }

func authMD5(salt [4]byte) []byte {
	return be('R', append([]byte{0, 0, 0, 5}, salt[:]...))
}

func paramStatus(name, value string) []byte {
	return be('S', []byte(name+"\x00"+value+"\x00"))
}

func backendKeyData(pid, secret uint32) []byte {
	payload := binary.BigEndian.AppendUint32(nil, pid)

	return be('K', binary.BigEndian.AppendUint32(payload, secret))
}

func readyForQuery() []byte { return be('Z', []byte{'I'}) }

func rowDescription(names ...string) []byte {
	payload := binary.BigEndian.AppendUint16(nil, uint16(len(names)))
	for i, name := range names {
		payload = append(payload, name...)
		payload = append(payload, 0)
		payload = binary.BigEndian.AppendUint32(payload, 0)              // table OID
		payload = binary.BigEndian.AppendUint16(payload, uint16(i+1))   // column index
		payload = binary.BigEndian.AppendUint32(payload, 25)            // text OID
		payload = binary.BigEndian.AppendUint16(payload, 0xffff)        // size -1
		payload = binary.BigEndian.AppendUint32(payload, 0xffffffff)    // modifier -1
		payload = binary.BigEndian.AppendUint16(payload, 0)             // text format
	}

	return be('T', payload)
}

func dataRow(values ...*string) []byte {
	payload := binary.BigEndian.AppendUint16(nil, uint16(len(values)))
	for _, v := range values {
		if v == nil {
			payload = binary.BigEndian.AppendUint32(payload, 0xffffffff)
			continue
		}
		payload = binary.BigEndian.AppendUint32(payload, uint32(len(*v)))
		payload = append(payload, *v...)
	}

	return be('D', payload)
}

func commandComplete(tag string) []byte { return be('C', []byte(tag+"\x00")) }

func errorResponse(severity, code, message, detail string) []byte {
	payload := []byte{}
	for _, f := range []struct {
		tag   byte
		value string
	}{{'S', severity}, {'C', code}, {'M', message}, {'D', detail}} {
		if f.value == "" {
			continue
		}
		payload = append(payload, f.tag)
		payload = append(payload, f.value...)
		payload = append(payload, 0)
	}

	return be('E', append(payload, 0))
}

func str(s string) *string { return &s }

// trustingServer answers the startup message with an immediate auth-ok and
// serves scripted query responses in order.
func trustingServer(queryResponses ...[]byte) func(c *fakeConn, data []byte, startup bool) {
	i := 0

	return func(c *fakeConn, data []byte, startup bool) {
		if startup {
			c.inbox = append(c.inbox, authOK()...)
			c.inbox = append(c.inbox, paramStatus("server_version", "16.2")...)
			c.inbox = append(c.inbox, backendKeyData(4242, 0xfeedface)...)
			c.inbox = append(c.inbox, readyForQuery()...)

			return
		}
		if data[0] == wire.TerminateTag {
			return
		}
		if i < len(queryResponses) {
			c.inbox = append(c.inbox, queryResponses[i]...)
			i++
		}
	}
}

// concat joins backend messages into one response batch.
func concat(msgs ...[]byte) []byte {
	var out []byte
	for _, m := range msgs {
		out = append(out, m...)
	}

	return out
}

func testConfig() types.Config {
	return types.Config{
		Host:     "db.internal",
		Port:     5432,
		Database: "app",
		User:     "app",
		Password: "secret",
		Mode:     types.ModeSandbox,
	}
}

func TestSessionConnectTrust(t *testing.T) {
	host := newFakeHost(trustingServer())

	session, err := NewSession(host, testConfig())
	require.NoError(t, err)
	require.Equal(t, StateNew, session.State())

	require.NoError(t, session.Connect(context.Background()))
	require.Equal(t, StateReady, session.State())

	version, ok := session.ServerParameter("server_version")
	require.True(t, ok)
	require.Equal(t, "16.2", version)
	require.Equal(t, uint32(4242), session.BackendKey().ProcessID)

	require.NoError(t, session.Close())
}

func TestSessionConnectCleartext(t *testing.T) {
	host := newFakeHost(func(c *fakeConn, data []byte, startup bool) {
		if startup {
			c.inbox = append(c.inbox, authCleartext()...)

			return
		}
		if data[0] == wire.PasswordTag {
			c.inbox = append(c.inbox, concat(authOK(), readyForQuery())...)
		}
	})

	session, err := NewSession(host, testConfig())
	require.NoError(t, err)
	require.NoError(t, session.Connect(context.Background()))

	// Exactly one password message, carrying the password verbatim.
	var passwords [][]byte
	for _, sent := range host.conn(t).sent {
		if sent[0] == wire.PasswordTag {
			passwords = append(passwords, sent)
		}
	}
	require.Len(t, passwords, 1)
	require.Equal(t, wire.BuildPasswordCleartext("secret"), passwords[0])
}

func TestSessionConnectMD5(t *testing.T) {
	salt := [4]byte{0x01, 0x02, 0x03, 0x04}
	host := newFakeHost(func(c *fakeConn, data []byte, startup bool) {
		if startup {
			c.inbox = append(c.inbox, authMD5(salt)...)

			return
		}
		if data[0] == wire.PasswordTag {
			c.inbox = append(c.inbox, concat(authOK(), readyForQuery())...)
		}
	})

	cfg := testConfig()
	cfg.User = "postgres"
	session, err := NewSession(host, cfg)
	require.NoError(t, err)
	require.NoError(t, session.Connect(context.Background()))

	var password []byte
	for _, sent := range host.conn(t).sent {
		if sent[0] == wire.PasswordTag {
			password = sent
		}
	}

	// Byte-for-byte: "md5" + hex(md5(hex(md5("secret"+"postgres")) + salt)).
	want := append([]byte{'p', 0, 0, 0, 40}, "md5bb41a296aab6baccb36ff243a562abff\x00"...)
	require.Equal(t, want, password)
}

func TestSessionConnectMissingPassword(t *testing.T) {
	host := newFakeHost(func(c *fakeConn, _ []byte, startup bool) {
		if startup {
			c.inbox = append(c.inbox, authCleartext()...)
		}
	})

	cfg := testConfig()
	cfg.Password = ""
	session, err := NewSession(host, cfg)
	require.NoError(t, err)

	err = session.Connect(context.Background())
	require.ErrorIs(t, err, types.ErrMissingPassword)
	require.Equal(t, StateClosed, session.State())
	// The handle is released on handshake failure.
	require.Equal(t, 1, host.totalCloses())
}

func TestSessionConnectUnsupportedAuth(t *testing.T) {
	host := newFakeHost(func(c *fakeConn, _ []byte, startup bool) {
		if startup {
			// SCRAM-SHA-256 is outside the implemented subset.
			c.inbox = append(c.inbox, be('R', []byte{0, 0, 0, 10})...)
		}
	})

	session, err := NewSession(host, testConfig())
	require.NoError(t, err)

	err = session.Connect(context.Background())
	var authErr *types.UnsupportedAuthError
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, int32(10), authErr.Code)
}

func TestSessionConnectServerError(t *testing.T) {
	host := newFakeHost(func(c *fakeConn, _ []byte, startup bool) {
		if startup {
			c.inbox = append(c.inbox, errorResponse("FATAL", "28P01", "password authentication failed", "")...)
		}
	})

	session, err := NewSession(host, testConfig())
	require.NoError(t, err)

	err = session.Connect(context.Background())
	var pgErr *types.PgError
	require.ErrorAs(t, err, &pgErr)
	require.Equal(t, "28P01", pgErr.Code)
	require.Equal(t, 1, host.totalCloses())
}

func TestSessionConnectTransportError(t *testing.T) {
	host := newFakeHost(nil)
	host.connectErr = errors.New("no route to backend")

	session, err := NewSession(host, testConfig())
	require.NoError(t, err)

	err = session.Connect(context.Background())
	var transportErr *types.TransportError
	require.ErrorAs(t, err, &transportErr)
	require.Equal(t, "connect", transportErr.Op)
}

func TestSessionQuerySimple(t *testing.T) {
	response := concat(
		rowDescription("id", "name"),
		dataRow(str("1"), str("ada")),
		dataRow(str("2"), nil),
		commandComplete("SELECT 2"),
		readyForQuery(),
	)
	host := newFakeHost(trustingServer(response))

	session, err := NewSession(host, testConfig())
	require.NoError(t, err)
	require.NoError(t, session.Connect(context.Background()))

	result, err := session.Query(context.Background(), "SELECT id, name FROM users")
	require.NoError(t, err)

	require.Equal(t, uint32(2), result.RowCount)
	require.Equal(t, []types.FieldInfo{
		{Name: "id", DataTypeOID: 25},
		{Name: "name", DataTypeOID: 25},
	}, result.Fields)
	require.Equal(t, []map[string]any{
		{"id": "1", "name": "ada"},
		{"id": "2", "name": nil},
	}, result.Rows)

	require.Equal(t, StateReady, session.State())

	// No parameters selects the simple protocol.
	sent := host.conn(t).sent
	require.Equal(t, wire.BuildSimpleQuery("SELECT id, name FROM users"), sent[len(sent)-1])
}

func TestSessionQueryExtended(t *testing.T) {
	response := concat(
		be('1', nil), // ParseComplete
		be('2', nil), // BindComplete
		rowDescription("n"),
		dataRow(str("7")),
		commandComplete("SELECT 1"),
		readyForQuery(),
	)
	host := newFakeHost(trustingServer(response))

	session, err := NewSession(host, testConfig())
	require.NoError(t, err)
	require.NoError(t, session.Connect(context.Background()))

	result, err := session.Query(context.Background(), "SELECT $1::int AS n", 7)
	require.NoError(t, err)
	require.Equal(t, []map[string]any{{"n": "7"}}, result.Rows)

	// Parameters select the extended protocol: Parse+Bind+Execute+Sync.
	sent := host.conn(t).sent
	require.Equal(t, wire.BuildExtendedQuery("SELECT $1::int AS n", []any{7}), sent[len(sent)-1])
}

func TestSessionQueryChunkedDelivery(t *testing.T) {
	response := concat(
		rowDescription("v"),
		dataRow(str("chunked")),
		commandComplete("SELECT 1"),
		readyForQuery(),
	)
	host := newFakeHost(trustingServer(response))

	// A tiny recv cap forces messages to straddle poll boundaries; partial
	// trailing bytes must stay buffered between polls.
	session, err := NewSession(host, testConfig(), WithReadChunkSize(3))
	require.NoError(t, err)
	require.NoError(t, session.Connect(context.Background()))

	result, err := session.Query(context.Background(), "SELECT v FROM t")
	require.NoError(t, err)
	require.Equal(t, []map[string]any{{"v": "chunked"}}, result.Rows)
}

func TestSessionQueryCommandTag(t *testing.T) {
	host := newFakeHost(trustingServer(
		concat(commandComplete("INSERT 0 3"), readyForQuery()),
		concat(commandComplete("BEGIN"), readyForQuery()),
	))

	session, err := NewSession(host, testConfig())
	require.NoError(t, err)
	require.NoError(t, session.Connect(context.Background()))

	result, err := session.Query(context.Background(), "INSERT INTO t SELECT * FROM s")
	require.NoError(t, err)
	require.Equal(t, uint32(3), result.RowCount)
	require.Empty(t, result.Rows)

	result, err = session.Query(context.Background(), "BEGIN")
	require.NoError(t, err)
	require.Equal(t, uint32(0), result.RowCount)
}

func TestSessionQueryServerError(t *testing.T) {
	host := newFakeHost(trustingServer(
		errorResponse("ERROR", "42P01", `relation "x" does not exist`, "no such table"),
	))

	session, err := NewSession(host, testConfig())
	require.NoError(t, err)
	require.NoError(t, session.Connect(context.Background()))

	_, err = session.Query(context.Background(), "SELECT * FROM x")
	var pgErr *types.PgError
	require.ErrorAs(t, err, &pgErr)
	require.Equal(t, "ERROR", pgErr.Severity)
	require.Equal(t, "42P01", pgErr.Code)
	require.Equal(t, `relation "x" does not exist`, pgErr.Message)
	require.Equal(t, "no such table", pgErr.Detail)
}

func TestSessionQueryReadTimeout(t *testing.T) {
	// The server authenticates but never answers queries.
	host := newFakeHost(trustingServer())

	session, err := NewSession(host, testConfig(), WithMaxEmptyReads(5))
	require.NoError(t, err)
	require.NoError(t, session.Connect(context.Background()))

	_, err = session.Query(context.Background(), "SELECT 1")
	require.ErrorIs(t, err, types.ErrReadTimeout)
}

func TestSessionQueryContextCanceled(t *testing.T) {
	host := newFakeHost(trustingServer())

	session, err := NewSession(host, testConfig())
	require.NoError(t, err)
	require.NoError(t, session.Connect(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = session.Query(ctx, "SELECT 1")
	require.ErrorIs(t, err, context.Canceled)
}

func TestSessionLifecycleGuards(t *testing.T) {
	host := newFakeHost(trustingServer())

	session, err := NewSession(host, testConfig())
	require.NoError(t, err)

	t.Run("query before connect", func(t *testing.T) {
		_, err := session.Query(context.Background(), "SELECT 1")
		require.ErrorIs(t, err, types.ErrNotConnected)
	})

	require.NoError(t, session.Connect(context.Background()))

	t.Run("connect twice", func(t *testing.T) {
		require.ErrorIs(t, session.Connect(context.Background()), types.ErrAlreadyConnected)
	})

	require.NoError(t, session.Close())

	t.Run("query after close", func(t *testing.T) {
		_, err := session.Query(context.Background(), "SELECT 1")
		require.ErrorIs(t, err, types.ErrSessionClosed)
	})

	t.Run("connect after close", func(t *testing.T) {
		require.ErrorIs(t, session.Connect(context.Background()), types.ErrSessionClosed)
	})
}

func TestSessionCloseIdempotent(t *testing.T) {
	host := newFakeHost(trustingServer())

	session, err := NewSession(host, testConfig())
	require.NoError(t, err)
	require.NoError(t, session.Connect(context.Background()))

	require.NoError(t, session.Close())
	require.NoError(t, session.Close())

	// The capability close runs exactly once even when Close is called twice.
	require.Equal(t, 1, host.totalCloses())
	require.Equal(t, StateClosed, session.State())
}

func TestSessionCloseSendsTerminate(t *testing.T) {
	host := newFakeHost(trustingServer())

	session, err := NewSession(host, testConfig())
	require.NoError(t, err)
	require.NoError(t, session.Connect(context.Background()))

	// Grab the connection before Close deletes it from the host.
	conn := host.conn(t)
	require.NoError(t, session.Close())

	sent := conn.sent
	require.Equal(t, wire.BuildTerminate(), sent[len(sent)-1])
}

func TestSessionNilTransport(t *testing.T) {
	_, err := NewSession(nil, testConfig())
	require.ErrorIs(t, err, types.ErrNilTransport)
}
