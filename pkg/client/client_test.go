package client

import (
	"net"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/grafana/dskit/flagext"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/cqlwire/cqlwire/pkg/frame"
	"github.com/cqlwire/cqlwire/pkg/metadata"
	"github.com/cqlwire/cqlwire/pkg/types"
)

// server is the scripted peer on the far side of a net.Pipe. Failures
// are reported with t.Error so the client side surfaces them as its own
// protocol or timeout errors.
type server struct {
	t    *testing.T
	conn net.Conn
}

func newPair(t *testing.T, cfg Config) (*Client, *server) {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	t.Cleanup(func() {
		clientConn.Close()
		serverConn.Close()
	})

	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.CQLVersion == "" {
		cfg.CQLVersion = "3.0.5"
	}
	c := NewWithConn(clientConn, cfg, log.NewNopLogger(), prometheus.NewRegistry())
	return c, &server{t: t, conn: serverConn}
}

func (s *server) read() (frame.Header, *frame.Buffer) {
	h, body, err := frame.ReadFrame(s.conn)
	if err != nil {
		s.t.Errorf("server read: %v", err)
		return frame.Header{}, frame.New()
	}
	return h, body
}

func (s *server) reply(req frame.Header, op frame.Opcode, flags byte, body *frame.Buffer) {
	raw := body.Frame(req.Version|0x80, flags, req.Stream, op)
	if _, err := s.conn.Write(raw); err != nil {
		s.t.Errorf("server write: %v", err)
	}
}

// serveStartup answers one STARTUP with READY.
func (s *server) serveStartup() {
	h, _ := s.read()
	if h.Opcode != frame.OpStartup {
		s.t.Errorf("expected STARTUP, got %s", h.Opcode)
	}
	s.reply(h, frame.OpReady, 0, frame.New())
}

func rowsResultBody(cols []string, colTypes []types.Type, rows [][][]byte) *frame.Buffer {
	b := frame.New()
	b.WriteInt(frame.ResultKindRows)
	b.WriteInt(frame.FlagGlobalTableSpec)
	b.WriteInt(int32(len(cols)))
	b.WriteString("ks")
	b.WriteString("t")
	for i, name := range cols {
		b.WriteString(name)
		colTypes[i].Write(b)
	}
	b.WriteInt(int32(len(rows)))
	for _, row := range rows {
		for _, cell := range row {
			b.WriteBytes(cell)
		}
	}
	return b
}

func TestStartupReady(t *testing.T) {
	c, s := newPair(t, Config{Version: 1})

	go func() {
		h, body := s.read()
		opts, err := body.ReadStringMap()
		if err != nil {
			s.t.Errorf("reading startup options: %v", err)
		}
		if opts["CQL_VERSION"] != "3.0.5" {
			s.t.Errorf("unexpected startup options %v", opts)
		}
		s.reply(h, frame.OpReady, 0, frame.New())
	}()

	require.NoError(t, c.Startup())
}

func TestStartupPasswordAuth(t *testing.T) {
	cfg := Config{Version: 1, Username: "cassandra", Password: flagext.SecretWithValue("sekrit")}
	c, s := newPair(t, cfg)

	go func() {
		h, _ := s.read()
		challenge := frame.New()
		challenge.WriteString(passwordAuthenticator)
		s.reply(h, frame.OpAuthenticate, 0, challenge)

		h, body := s.read()
		if h.Opcode != frame.OpCredentials {
			s.t.Errorf("expected CREDENTIALS, got %s", h.Opcode)
		}
		creds, err := body.ReadStringMap()
		if err != nil {
			s.t.Errorf("reading credentials: %v", err)
		}
		if creds["username"] != "cassandra" || creds["password"] != "sekrit" {
			s.t.Errorf("unexpected credentials %v", creds)
		}
		s.reply(h, frame.OpReady, 0, frame.New())
	}()

	require.NoError(t, c.Startup())
}

func TestStartupUnknownAuthenticator(t *testing.T) {
	c, s := newPair(t, Config{Version: 1})

	go func() {
		h, _ := s.read()
		challenge := frame.New()
		challenge.WriteString("com.example.KerberosAuthenticator")
		s.reply(h, frame.OpAuthenticate, 0, challenge)
	}()

	err := c.Startup()
	require.ErrorIs(t, err, ErrProtocol)
}

func TestQueryRows(t *testing.T) {
	c, s := newPair(t, Config{Version: 1})

	go func() {
		s.serveStartup()

		h, body := s.read()
		if h.Opcode != frame.OpQuery {
			s.t.Errorf("expected QUERY, got %s", h.Opcode)
		}
		cql, err := body.ReadLongString()
		if err != nil || cql != "SELECT name, i FROM t" {
			s.t.Errorf("unexpected query %q (%v)", cql, err)
		}
		cons, err := body.ReadConsistency()
		if err != nil || cons != frame.Quorum {
			s.t.Errorf("unexpected consistency %v (%v)", cons, err)
		}

		s.reply(h, frame.OpResult, 0, rowsResultBody(
			[]string{"name", "i"},
			[]types.Type{types.Primitive(types.KindText), types.Primitive(types.KindInt)},
			[][][]byte{
				{[]byte("zero"), {0, 0, 0, 0}},
				{[]byte("one"), {0, 0, 0, 1}},
			},
		))
	}()

	require.NoError(t, c.Startup())

	res, err := c.Query("SELECT name, i FROM t", frame.Quorum)
	require.NoError(t, err)
	require.Equal(t, QueryRows, res.Kind)
	require.Equal(t, 2, res.Rows.Rows())

	hash, err := res.Rows.RowHash(1)
	require.NoError(t, err)
	require.Equal(t, map[string]interface{}{"name": "one", "i": int(1)}, hash)
}

func TestQueryOutcomes(t *testing.T) {
	for _, tc := range []struct {
		name  string
		body  func() *frame.Buffer
		check func(*testing.T, *QueryResult)
	}{
		{
			"void",
			func() *frame.Buffer {
				b := frame.New()
				b.WriteInt(frame.ResultKindVoid)
				return b
			},
			func(t *testing.T, res *QueryResult) {
				require.Equal(t, QueryVoid, res.Kind)
			},
		},
		{
			"keyspace",
			func() *frame.Buffer {
				b := frame.New()
				b.WriteInt(frame.ResultKindKeyspace)
				b.WriteString("system")
				return b
			},
			func(t *testing.T, res *QueryResult) {
				require.Equal(t, QueryKeyspace, res.Kind)
				require.Equal(t, "system", res.Keyspace)
			},
		},
		{
			"schema change",
			func() *frame.Buffer {
				b := frame.New()
				b.WriteInt(frame.ResultKindSchemaChanged)
				b.WriteString("CREATED")
				b.WriteString("ks")
				b.WriteString("t")
				return b
			},
			func(t *testing.T, res *QueryResult) {
				require.Equal(t, QuerySchemaChange, res.Kind)
				require.Equal(t, SchemaChange{Change: "CREATED", Keyspace: "ks", Table: "t"}, res.SchemaChange)
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c, s := newPair(t, Config{Version: 1})

			go func() {
				s.serveStartup()
				h, _ := s.read()
				s.reply(h, frame.OpResult, 0, tc.body())
			}()

			require.NoError(t, c.Startup())
			res, err := c.Query("CREATE TABLE ks.t (id int PRIMARY KEY)", frame.One)
			require.NoError(t, err)
			tc.check(t, res)
		})
	}
}

func TestRemoteError(t *testing.T) {
	c, s := newPair(t, Config{Version: 1})

	go func() {
		s.serveStartup()
		h, _ := s.read()
		errBody := frame.New()
		errBody.WriteInt(0x2200)
		errBody.WriteString("unconfigured columnfamily t")
		s.reply(h, frame.OpError, 0, errBody)
	}()

	require.NoError(t, c.Startup())

	_, err := c.Query("SELECT * FROM t", frame.One)
	var remote RemoteError
	require.True(t, errors.As(err, &remote))
	require.Equal(t, int32(0x2200), remote.Code)
	require.Equal(t, "unconfigured columnfamily t", remote.Message)
}

func TestPrepareAndExecute(t *testing.T) {
	c, s := newPair(t, Config{Version: 1})
	preparedID := []byte{0xca, 0xfe, 0x01}

	go func() {
		s.serveStartup()

		// PREPARE
		h, body := s.read()
		if h.Opcode != frame.OpPrepare {
			s.t.Errorf("expected PREPARE, got %s", h.Opcode)
		}
		if cql, err := body.ReadLongString(); err != nil || cql != "INSERT INTO t (name, i) VALUES (?, ?)" {
			s.t.Errorf("unexpected statement %q (%v)", cql, err)
		}

		prep := frame.New()
		prep.WriteInt(frame.ResultKindPrepared)
		prep.WriteShortBytes(preparedID)
		prep.WriteInt(frame.FlagGlobalTableSpec)
		prep.WriteInt(2)
		prep.WriteString("ks")
		prep.WriteString("t")
		prep.WriteString("name")
		types.Primitive(types.KindText).Write(prep)
		prep.WriteString("i")
		types.Primitive(types.KindInt).Write(prep)
		s.reply(h, frame.OpResult, 0, prep)

		// EXECUTE
		h, body = s.read()
		if h.Opcode != frame.OpExecute {
			s.t.Errorf("expected EXECUTE, got %s", h.Opcode)
		}
		id, err := body.ReadShortBytes()
		if err != nil || string(id) != string(preparedID) {
			s.t.Errorf("unexpected prepared id % x (%v)", id, err)
		}
		n, err := body.ReadShort()
		if err != nil || n != 2 {
			s.t.Errorf("unexpected value count %d (%v)", n, err)
		}
		first, err := body.ReadBytes()
		if err != nil || string(first) != "zero" {
			s.t.Errorf("unexpected first value %q (%v)", first, err)
		}
		second, err := body.ReadBytes()
		if err != nil || len(second) != 4 {
			s.t.Errorf("unexpected second value % x (%v)", second, err)
		}
		if cons, err := body.ReadConsistency(); err != nil || cons != frame.One {
			s.t.Errorf("unexpected consistency %v (%v)", cons, err)
		}

		void := frame.New()
		void.WriteInt(frame.ResultKindVoid)
		s.reply(h, frame.OpResult, 0, void)
	}()

	require.NoError(t, c.Startup())

	stmt, err := c.Prepare("INSERT INTO t (name, i) VALUES (?, ?)")
	require.NoError(t, err)
	require.Equal(t, preparedID, stmt.ID)
	require.Equal(t, 2, stmt.Meta.Columns())

	res, err := c.Execute(stmt, frame.One, "zero", int(0))
	require.NoError(t, err)
	require.Equal(t, QueryVoid, res.Kind)
}

func TestExecuteRejectsBadValue(t *testing.T) {
	c, s := newPair(t, Config{Version: 1})

	go s.serveStartup()
	require.NoError(t, c.Startup())

	// Validation fails before anything is written to the connection.
	meta := metadata.New([]metadata.Column{
		{Keyspace: "ks", Table: "t", Name: "name", Type: types.Primitive(types.KindText)},
		{Keyspace: "ks", Table: "t", Name: "i", Type: types.Primitive(types.KindInt)},
	})
	stmt := &Prepared{ID: []byte{1}, Meta: meta}

	_, err := c.Execute(stmt, frame.One, "zero", "not an int")
	require.Error(t, err)
}

func TestOptions(t *testing.T) {
	c, s := newPair(t, Config{Version: 1})

	go func() {
		h, _ := s.read()
		if h.Opcode != frame.OpOptions {
			s.t.Errorf("expected OPTIONS, got %s", h.Opcode)
		}
		supported := frame.New()
		supported.WriteShort(2)
		supported.WriteString("CQL_VERSION")
		supported.WriteStringList([]string{"3.0.5"})
		supported.WriteString("COMPRESSION")
		supported.WriteStringList([]string{"snappy"})
		s.reply(h, frame.OpSupported, 0, supported)
	}()

	opts, err := c.Options()
	require.NoError(t, err)
	require.Equal(t, map[string][]string{
		"CQL_VERSION": {"3.0.5"},
		"COMPRESSION": {"snappy"},
	}, opts)
}

func TestRegisterAndReadEvent(t *testing.T) {
	c, s := newPair(t, Config{Version: 1})

	go func() {
		s.serveStartup()

		h, body := s.read()
		if h.Opcode != frame.OpRegister {
			s.t.Errorf("expected REGISTER, got %s", h.Opcode)
		}
		events, err := body.ReadStringList()
		if err != nil || len(events) != 2 {
			s.t.Errorf("unexpected events %v (%v)", events, err)
		}
		s.reply(h, frame.OpReady, 0, frame.New())

		// Server-initiated push on its own stream.
		ev := frame.New()
		ev.WriteString("STATUS_CHANGE")
		ev.WriteString("UP")
		if err := ev.WriteInet(net.ParseIP("10.0.0.5"), 9042); err != nil {
			s.t.Errorf("writing event inet: %v", err)
		}
		raw := ev.Frame(0x81, 0, 0xFF, frame.OpEvent)
		if _, err := s.conn.Write(raw); err != nil {
			s.t.Errorf("pushing event: %v", err)
		}
	}()

	require.NoError(t, c.Startup())
	require.NoError(t, c.Register("TOPOLOGY_CHANGE", "STATUS_CHANGE"))

	ev, err := c.ReadEvent()
	require.NoError(t, err)
	require.Equal(t, "STATUS_CHANGE", ev.Type)
	require.Equal(t, "UP", ev.Change)
	require.True(t, net.ParseIP("10.0.0.5").Equal(ev.Addr))
	require.Equal(t, int32(9042), ev.Port)
}

func TestCompressionNegotiated(t *testing.T) {
	c, s := newPair(t, Config{Version: 1, Compression: true})
	var compressor frame.SnappyCompressor

	go func() {
		// STARTUP is always plain and advertises the scheme.
		h, body := s.read()
		if h.Flags&frame.FlagCompress != 0 {
			s.t.Error("STARTUP must not be compressed")
		}
		opts, err := body.ReadStringMap()
		if err != nil || opts["COMPRESSION"] != "snappy" {
			s.t.Errorf("unexpected startup options %v (%v)", opts, err)
		}
		s.reply(h, frame.OpReady, 0, frame.New())

		// The query that follows is compressed both ways.
		h, body = s.read()
		if h.Flags&frame.FlagCompress == 0 {
			s.t.Error("expected compressed QUERY body")
		}
		plain, err := compressor.Decode(body.Bytes())
		if err != nil {
			s.t.Errorf("decompressing request: %v", err)
		}
		req := frame.NewBuffer(plain)
		if cql, err := req.ReadLongString(); err != nil || cql != "SELECT now() FROM system.local" {
			s.t.Errorf("unexpected query %q (%v)", cql, err)
		}

		void := frame.New()
		void.WriteInt(frame.ResultKindVoid)
		packed, err := compressor.Encode(void.Bytes())
		if err != nil {
			s.t.Errorf("compressing response: %v", err)
		}
		s.reply(h, frame.OpResult, frame.FlagCompress, frame.NewBuffer(packed))
	}()

	require.NoError(t, c.Startup())

	res, err := c.Query("SELECT now() FROM system.local", frame.One)
	require.NoError(t, err)
	require.Equal(t, QueryVoid, res.Kind)
}

func TestStreamMismatch(t *testing.T) {
	c, s := newPair(t, Config{Version: 1})

	go func() {
		h, _ := s.read()
		h.Stream = h.Stream + 1
		s.reply(h, frame.OpReady, 0, frame.New())
	}()

	err := c.Startup()
	require.ErrorIs(t, err, ErrProtocol)
}
