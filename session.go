package conduit

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/dotindustries/conduit/capability"
	"github.com/dotindustries/conduit/types"
	"github.com/dotindustries/conduit/wire"
)

// SessionState is the lifecycle state of a Session.
type SessionState int32

const (
	// StateNew is a freshly constructed session, not yet connected.
	StateNew SessionState = iota
	// StateAuthenticating covers the startup/authentication handshake.
	StateAuthenticating
	// StateReady means the session can accept a query.
	StateReady
	// StateQuerying means an exchange is in flight. A session that fails
	// mid-query stays here until closed; its framing may be mid-stream.
	StateQuerying
	// StateClosed is terminal and idempotent.
	StateClosed
)

// String returns a human-readable state name.
func (s SessionState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateAuthenticating:
		return "authenticating"
	case StateReady:
		return "ready"
	case StateQuerying:
		return "querying"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is one Postgres protocol session bound to one capability handle.
//
// A session executes its exchanges strictly sequentially: the wire protocol
// has no multiplexing, so a session must only be used by one caller at a
// time. The Pool enforces this by never handing one session to two callers;
// direct users carry the same obligation.
type Session struct {
	id        string
	cfg       types.Config
	transport capability.Transport
	logger    types.Logger
	metrics   types.MetricsCollector

	readChunkSize int
	maxEmptyReads int

	state     atomic.Int32
	handle    capability.Handle
	hasHandle bool

	// buf holds inbound bytes that did not yet form a complete message.
	buf []byte

	serverParams map[string]string
	backendKey   wire.BackendKeyData
}

// NewSession creates an unconnected session over the given transport.
//
// Most callers should use the Pool (or conduit.New) instead; direct session
// use is for hosts that manage their own concurrency.
//
// Parameters:
//   - transport: The capability transport (required)
//   - cfg: Connection parameters
//   - opts: Optional configuration (logger, metrics, poll tuning)
//
// Returns:
//   - *Session: A session in StateNew
//   - error: ErrNilTransport if transport is nil
func NewSession(transport capability.Transport, cfg types.Config, opts ...Option) (*Session, error) {
	if transport == nil {
		return nil, types.ErrNilTransport
	}

	cc := DefaultClientConfig()
	for _, opt := range opts {
		opt(cc)
	}
	applyClientDefaults(cc)

	return &Session{
		id:            uuid.NewString(),
		cfg:           cfg.WithDefaults(),
		transport:     transport,
		logger:        cc.Logger,
		metrics:       cc.Metrics,
		readChunkSize: cc.ReadChunkSize,
		maxEmptyReads: cc.MaxEmptyReads,
		serverParams:  make(map[string]string),
	}, nil
}

// ID returns the session's unique identifier, used in logs and by the pool.
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// ServerParameter returns a ParameterStatus value reported by the server
// during or after the handshake (e.g. "server_version").
func (s *Session) ServerParameter(name string) (string, bool) {
	v, ok := s.serverParams[name]

	return v, ok
}

// BackendKey returns the BackendKeyData the server reported, if any.
// The cancel protocol is not implemented; the values are informational.
func (s *Session) BackendKey() wire.BackendKeyData {
	return s.backendKey
}

// Connect obtains a capability handle and runs the startup/authentication
// handshake to completion.
//
// The session answers cleartext and md5 challenges using the configured
// password; any other method aborts with *types.UnsupportedAuthError. An
// ErrorResponse during the handshake aborts with the decoded *types.PgError
// and releases the handle.
//
// Parameters:
//   - ctx: Context checked between capability polls
//
// Returns:
//   - error: nil once the server reports ReadyForQuery
func (s *Session) Connect(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateNew), int32(StateAuthenticating)) {
		if s.State() == StateClosed {
			return types.ErrSessionClosed
		}

		return types.ErrAlreadyConnected
	}

	handle, err := s.transport.Connect(capability.ConnectConfig{
		Host:     s.cfg.Host,
		Port:     s.cfg.Port,
		Database: s.cfg.Database,
		User:     s.cfg.User,
		Password: s.cfg.Password,
	})
	if err != nil {
		s.state.Store(int32(StateClosed))

		return &types.TransportError{Op: "connect", Cause: err}
	}
	s.handle = handle
	s.hasHandle = true

	if err := s.handshake(ctx); err != nil {
		s.releaseHandle()
		s.state.Store(int32(StateClosed))

		return err
	}

	s.state.Store(int32(StateReady))
	s.metrics.IncSessionOpened()
	s.logger.Debug("session authenticated",
		"session", s.id,
		"host", s.cfg.Host,
		"database", s.cfg.Database,
	)

	return nil
}

// handshake sends the startup message and processes server messages until
// the first ReadyForQuery.
func (s *Session) handshake(ctx context.Context) error {
	if err := s.send(wire.BuildStartup(s.cfg.User, s.cfg.Database)); err != nil {
		return err
	}

	return s.exchange(ctx, func(m wire.Message) error {
		switch m.Kind {
		case wire.AuthenticationTag:
			return s.answerChallenge(m.Payload)
		case wire.ErrorResponseTag:
			return fmt.Errorf("conduit: authentication failed: %w", wire.ParseError(m.Payload))
		case wire.ParameterStatusTag:
			s.recordParameterStatus(m.Payload)
		case wire.BackendKeyDataTag:
			if key, err := wire.ParseBackendKeyData(m.Payload); err == nil {
				s.backendKey = key
			}
		case wire.NoticeResponseTag:
			s.logNotice(m.Payload)
		}

		return nil
	})
}

// answerChallenge responds to one Authentication message. After a password
// is sent the exchange keeps reading: the server issues a fresh
// authentication-ok/parameter/ready sequence once it accepts the response.
func (s *Session) answerChallenge(payload []byte) error {
	challenge, err := wire.ParseAuth(payload)
	if err != nil {
		return err
	}

	switch challenge.Kind {
	case wire.AuthOK:
		return nil
	case wire.AuthCleartext:
		if s.cfg.Password == "" {
			return types.ErrMissingPassword
		}

		return s.send(wire.BuildPasswordCleartext(s.cfg.Password))
	case wire.AuthMD5:
		if s.cfg.Password == "" {
			return types.ErrMissingPassword
		}

		return s.send(wire.BuildPasswordMD5(s.cfg.User, s.cfg.Password, challenge.Salt))
	default:
		return &types.UnsupportedAuthError{Code: challenge.Code}
	}
}

// Query executes one SQL statement and decodes the full result.
//
// Statements without parameters use the simple query protocol; statements
// with parameters use one extended-protocol Parse/Bind/Execute/Sync round
// trip with text-format parameters and results.
//
// On any failure the session is left mid-stream and must be discarded by
// the caller; the Pool does this automatically.
//
// Parameters:
//   - ctx: Context checked between capability polls
//   - sql: The SQL statement
//   - params: Optional bind parameters (nil binds SQL NULL)
//
// Returns:
//   - *types.QueryResult: Decoded rows, row count and field metadata
//   - error: *types.PgError for server errors, protocol/transport errors otherwise
func (s *Session) Query(ctx context.Context, sql string, params ...any) (*types.QueryResult, error) {
	if !s.state.CompareAndSwap(int32(StateReady), int32(StateQuerying)) {
		switch s.State() {
		case StateClosed:
			return nil, types.ErrSessionClosed
		case StateQuerying:
			return nil, types.ErrSessionBusy
		default:
			return nil, types.ErrNotConnected
		}
	}

	var outbound []byte
	if len(params) == 0 {
		outbound = wire.BuildSimpleQuery(sql)
	} else {
		outbound = wire.BuildExtendedQuery(sql, params)
	}
	if err := s.send(outbound); err != nil {
		return nil, err
	}

	result := &types.QueryResult{}
	var fields []wire.FieldDescription
	sawCommandComplete := false

	err := s.exchange(ctx, func(m wire.Message) error {
		switch m.Kind {
		case wire.RowDescriptionTag:
			parsed, err := wire.ParseRowDescription(m.Payload)
			if err != nil {
				return err
			}
			fields = parsed
			result.Fields = make([]types.FieldInfo, len(parsed))
			for i, f := range parsed {
				result.Fields[i] = types.FieldInfo{Name: f.Name, DataTypeOID: f.DataTypeOID}
			}
		case wire.DataRowTag:
			values, err := wire.ParseDataRow(m.Payload)
			if err != nil {
				return err
			}
			if len(values) != len(fields) {
				return &types.ProtocolError{
					Reason: fmt.Sprintf("data row has %d columns, row description has %d", len(values), len(fields)),
				}
			}
			row := make(map[string]any, len(values))
			for i, v := range values {
				if v == nil {
					row[fields[i].Name] = nil
				} else {
					row[fields[i].Name] = *v
				}
			}
			result.Rows = append(result.Rows, row)
		case wire.CommandCompleteTag:
			result.RowCount = wire.ParseCommandComplete(m.Payload)
			sawCommandComplete = true
		case wire.EmptyQueryTag:
			sawCommandComplete = true
		case wire.ErrorResponseTag:
			return wire.ParseError(m.Payload)
		case wire.NoticeResponseTag:
			s.logNotice(m.Payload)
		case wire.ParameterStatusTag:
			s.recordParameterStatus(m.Payload)
		}

		return nil
	})
	if err != nil {
		s.metrics.IncQueryError()

		return nil, err
	}

	if !sawCommandComplete {
		result.RowCount = uint32(len(result.Rows))
	}

	s.state.Store(int32(StateReady))

	return result, nil
}

// Close terminates the session. It is idempotent: the first call sends a
// best-effort Terminate and releases the capability handle; later calls are
// no-ops and never touch the handle again.
func (s *Session) Close() error {
	prev := SessionState(s.state.Swap(int32(StateClosed)))
	if prev == StateClosed {
		return nil
	}

	if s.hasHandle {
		// Best effort on both: the handle is considered gone either way.
		if _, err := s.transport.Send(s.handle, wire.BuildTerminate()); err != nil {
			s.logger.Debug("terminate send failed", "session", s.id, "error", err.Error())
		}
		s.releaseHandle()
	}

	return nil
}

// releaseHandle invokes the capability close once and forgets the handle.
func (s *Session) releaseHandle() {
	if !s.hasHandle {
		return
	}
	s.hasHandle = false
	if err := s.transport.Close(s.handle); err != nil {
		s.logger.Debug("capability close failed", "session", s.id, "error", err.Error())
	}
}

// send writes the full buffer through the capability, looping on partial
// writes.
func (s *Session) send(data []byte) error {
	for len(data) > 0 {
		n, err := s.transport.Send(s.handle, data)
		if err != nil {
			return &types.TransportError{Op: "send", Cause: err}
		}
		if n <= 0 {
			return &types.ProtocolError{Reason: "capability send made no progress"}
		}
		data = data[n:]
	}

	return nil
}

// exchange polls the capability and feeds complete messages to handle until
// a ReadyForQuery arrives.
//
// An empty chunk means "no data yet", not end-of-stream; after maxEmptyReads
// consecutive empty polls the exchange fails with ErrReadTimeout. Any
// non-empty chunk resets the counter, so a slow but steady stream never
// times out. Polling stops at the exchange boundary regardless of any data
// the capability still buffers, which is safe because each exchange is one
// request/response cycle under this protocol subset.
func (s *Session) exchange(ctx context.Context, handle func(wire.Message) error) error {
	emptyReads := 0
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("conduit: exchange aborted: %w", err)
		}

		chunk, err := s.transport.Recv(s.handle, s.readChunkSize)
		if err != nil {
			return &types.TransportError{Op: "recv", Cause: err}
		}

		if len(chunk) == 0 {
			emptyReads++
			if emptyReads >= s.maxEmptyReads {
				return types.ErrReadTimeout
			}
			continue
		}
		emptyReads = 0

		s.buf = append(s.buf, chunk...)
		msgs, rest, err := wire.ParseMessages(s.buf)
		if err != nil {
			return err
		}
		s.buf = rest

		done := false
		for _, m := range msgs {
			if m.Kind == wire.ReadyForQueryTag {
				done = true
				continue
			}
			if err := handle(m); err != nil {
				return err
			}
		}
		if done {
			return nil
		}
	}
}

func (s *Session) recordParameterStatus(payload []byte) {
	name, value, err := wire.ParseParameterStatus(payload)
	if err != nil {
		return
	}
	s.serverParams[name] = value
}

func (s *Session) logNotice(payload []byte) {
	notice := wire.ParseError(payload)
	s.logger.Warn("server notice",
		"session", s.id,
		"severity", notice.Severity,
		"message", notice.Message,
	)
}
