// Package client is a minimal synchronous Cassandra client built on the
// wire codec. One connection, one in-flight request; it exists to
// exercise and demonstrate the frame, metadata and result packages, not
// to be a driver. Pooling, retries and routing are out of scope.
package client

import (
	"fmt"
	"net"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/cqlwire/cqlwire/pkg/frame"
	"github.com/cqlwire/cqlwire/pkg/metadata"
	"github.com/cqlwire/cqlwire/pkg/result"
)

const passwordAuthenticator = "org.apache.cassandra.auth.PasswordAuthenticator"

// ErrProtocol is returned on responses the protocol does not allow at
// that point: wrong version byte, unexpected opcode, stream mismatch,
// or an authenticator this client does not implement.
var ErrProtocol = errors.New("client: protocol error")

// RemoteError is a server-returned ERROR frame.
type RemoteError struct {
	Code    int32
	Message string
}

func (e RemoteError) Error() string {
	return fmt.Sprintf("server error 0x%04x: %s", e.Code, e.Message)
}

// Client is a single-connection synchronous client. Not safe for
// concurrent use.
type Client struct {
	cfg     Config
	conn    net.Conn
	logger  log.Logger
	metrics *metrics

	version    byte
	stream     byte
	compressor frame.Compressor
	compress   bool
}

// Dial connects to the configured address. The returned client still
// needs Startup before queries.
func Dial(cfg Config, logger log.Logger, reg prometheus.Registerer) (*Client, error) {
	addr := net.JoinHostPort(cfg.Address, fmt.Sprint(cfg.Port))
	conn, err := net.DialTimeout("tcp", addr, cfg.Timeout)
	if err != nil {
		return nil, errors.Wrapf(err, "dialing %s", addr)
	}
	return NewWithConn(conn, cfg, logger, reg), nil
}

// NewWithConn wraps an established connection. Used by Dial and by
// tests running against an in-process peer.
func NewWithConn(conn net.Conn, cfg Config, logger log.Logger, reg prometheus.Registerer) *Client {
	c := &Client{
		cfg:     cfg,
		conn:    conn,
		logger:  logger,
		metrics: newMetrics(reg),
		version: byte(cfg.Version),
	}
	if c.version == 0 {
		c.version = frame.ProtoVersion1
	}
	if cfg.Compression {
		c.compressor = frame.SnappyCompressor{}
	}
	return c
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) nextStream() byte {
	c.stream = (c.stream + 1) & 0x7F
	return c.stream
}

// SendMessage writes one framed request and blocks for the one
// response, returning its opcode and body. Server ERROR frames surface
// as RemoteError; compressed response bodies are transparently
// decompressed and a tracing UUID, when present, is consumed off the
// body front.
func (c *Client) SendMessage(op frame.Opcode, body *frame.Buffer) (frame.Opcode, *frame.Buffer, error) {
	stream := c.nextStream()

	var flags byte
	payload := body
	if c.compress && c.compressor != nil && body.Len() > 0 {
		compressed, err := c.compressor.Encode(body.Bytes())
		if err != nil {
			return 0, nil, errors.Wrap(err, "compressing frame body")
		}
		payload = frame.NewBuffer(compressed)
		flags |= frame.FlagCompress
	}

	if c.cfg.Timeout > 0 {
		if err := c.conn.SetDeadline(time.Now().Add(c.cfg.Timeout)); err != nil {
			return 0, nil, errors.Wrap(err, "setting connection deadline")
		}
	}

	raw := payload.Frame(c.version, flags, stream, op)
	start := time.Now()
	if _, err := c.conn.Write(raw); err != nil {
		return 0, nil, errors.Wrapf(err, "writing %s frame", op)
	}
	c.metrics.framesSent.Inc()
	c.metrics.bytesSent.Add(float64(len(raw)))
	level.Debug(c.logger).Log("msg", "sent frame", "opcode", op, "stream", stream, "bytes", len(raw))

	hdr, resp, err := frame.ReadFrame(c.conn)
	if err != nil {
		return 0, nil, err
	}
	c.metrics.requestDuration.WithLabelValues(op.String()).Observe(time.Since(start).Seconds())
	c.metrics.framesReceived.Inc()
	c.metrics.bytesReceived.Add(float64(hdr.Length))
	level.Debug(c.logger).Log("msg", "received frame", "opcode", hdr.Opcode, "stream", hdr.Stream, "bytes", hdr.Length)

	if !frame.IsResponse(hdr.Version) || frame.Version(hdr.Version) != c.version {
		return 0, nil, errors.Wrapf(ErrProtocol, "unexpected response version 0x%02x", hdr.Version)
	}
	if hdr.Stream != stream {
		return 0, nil, errors.Wrapf(ErrProtocol, "response stream %d does not match request stream %d", hdr.Stream, stream)
	}

	if hdr.Flags&frame.FlagCompress != 0 {
		if c.compressor == nil {
			return 0, nil, errors.Wrap(ErrProtocol, "compressed response with no compressor negotiated")
		}
		raw, err := c.compressor.Decode(resp.Bytes())
		if err != nil {
			return 0, nil, errors.Wrap(err, "decompressing frame body")
		}
		resp = frame.NewBuffer(raw)
	}

	if hdr.Flags&frame.FlagTracing != 0 {
		traceID, err := resp.ReadUUID()
		if err != nil {
			return 0, nil, errors.Wrap(err, "reading trace id")
		}
		level.Debug(c.logger).Log("msg", "response traced", "trace_id", traceID.String())
	}

	if hdr.Opcode == frame.OpError {
		code, err := resp.ReadInt()
		if err != nil {
			return 0, nil, errors.Wrap(err, "reading error code")
		}
		msg, err := resp.ReadString()
		if err != nil {
			return 0, nil, errors.Wrap(err, "reading error message")
		}
		return 0, nil, RemoteError{Code: code, Message: msg}
	}

	return hdr.Opcode, resp, nil
}

// Startup performs the STARTUP handshake: advertise the CQL version
// (and compression scheme when configured), answer an AUTHENTICATE
// challenge from the password authenticator with CREDENTIALS, and
// expect READY.
func (c *Client) Startup() error {
	options := map[string]string{"CQL_VERSION": c.cfg.CQLVersion}
	if c.compressor != nil {
		options["COMPRESSION"] = c.compressor.Name()
	}

	body := frame.New()
	body.WriteStringMap(options)
	op, resp, err := c.SendMessage(frame.OpStartup, body)
	if err != nil {
		return err
	}

	if op == frame.OpAuthenticate {
		class, err := resp.ReadString()
		if err != nil {
			return errors.Wrap(err, "reading authenticator class")
		}
		if class != passwordAuthenticator {
			return errors.Wrapf(ErrProtocol, "unknown authenticator %q", class)
		}

		creds := frame.New()
		creds.WriteStringMap(map[string]string{
			"username": c.cfg.Username,
			"password": c.cfg.Password.String(),
		})
		if op, _, err = c.SendMessage(frame.OpCredentials, creds); err != nil {
			return err
		}
	}

	if op != frame.OpReady {
		return errors.Wrapf(ErrProtocol, "expected READY, got %s", op)
	}

	// Compression applies from the first frame after a successful
	// handshake; STARTUP itself is always plain.
	c.compress = c.compressor != nil
	level.Info(c.logger).Log("msg", "connection ready", "compression", c.compress)
	return nil
}

// QueryKind tags the outcome of a Query.
type QueryKind int

const (
	QueryVoid QueryKind = iota
	QueryRows
	QueryKeyspace
	QuerySchemaChange
)

// SchemaChange describes a RESULT_SCHEMA_CHANGE outcome.
type SchemaChange struct {
	Change   string
	Keyspace string
	Table    string
}

// QueryResult is the tagged outcome of a QUERY or EXECUTE request.
type QueryResult struct {
	Kind         QueryKind
	Rows         *result.Result
	Keyspace     string
	SchemaChange SchemaChange
}

// Query runs a CQL statement at the given consistency.
func (c *Client) Query(cql string, cons frame.Consistency) (*QueryResult, error) {
	body := frame.New()
	body.WriteLongString(cql)
	body.WriteConsistency(cons)
	if c.version >= frame.ProtoVersion2 {
		// v2 carries a query-parameter flag byte after the consistency.
		body.WriteByte(0)
	}

	op, resp, err := c.SendMessage(frame.OpQuery, body)
	if err != nil {
		return nil, err
	}
	return c.parseResult(op, resp)
}

func (c *Client) parseResult(op frame.Opcode, resp *frame.Buffer) (*QueryResult, error) {
	if op != frame.OpResult {
		return nil, errors.Wrapf(ErrProtocol, "expected RESULT, got %s", op)
	}

	kind, err := resp.ReadInt()
	if err != nil {
		return nil, errors.Wrap(err, "reading result kind")
	}

	switch kind {
	case frame.ResultKindVoid:
		return &QueryResult{Kind: QueryVoid}, nil

	case frame.ResultKindRows:
		rows, err := result.FromFrame(resp, c.version)
		if err != nil {
			return nil, err
		}
		return &QueryResult{Kind: QueryRows, Rows: rows}, nil

	case frame.ResultKindKeyspace:
		ks, err := resp.ReadString()
		if err != nil {
			return nil, errors.Wrap(err, "reading keyspace")
		}
		return &QueryResult{Kind: QueryKeyspace, Keyspace: ks}, nil

	case frame.ResultKindSchemaChanged:
		var sc SchemaChange
		if sc.Change, err = resp.ReadString(); err != nil {
			return nil, errors.Wrap(err, "reading schema change kind")
		}
		if sc.Keyspace, err = resp.ReadString(); err != nil {
			return nil, errors.Wrap(err, "reading schema change keyspace")
		}
		if sc.Table, err = resp.ReadString(); err != nil {
			return nil, errors.Wrap(err, "reading schema change table")
		}
		return &QueryResult{Kind: QuerySchemaChange, SchemaChange: sc}, nil

	default:
		return nil, errors.Wrapf(ErrProtocol, "unknown result kind 0x%04x", kind)
	}
}

// Prepared is a server-side parsed statement: its opaque id plus the
// metadata of its bind parameters.
type Prepared struct {
	ID   []byte
	Meta *metadata.Metadata
}

// Prepare parses a statement server-side. For protocol v2 the response
// additionally carries result metadata, which is consumed and
// discarded.
func (c *Client) Prepare(cql string) (*Prepared, error) {
	body := frame.New()
	body.WriteLongString(cql)

	op, resp, err := c.SendMessage(frame.OpPrepare, body)
	if err != nil {
		return nil, err
	}
	if op != frame.OpResult {
		return nil, errors.Wrapf(ErrProtocol, "expected RESULT, got %s", op)
	}

	kind, err := resp.ReadInt()
	if err != nil {
		return nil, errors.Wrap(err, "reading result kind")
	}
	if kind != frame.ResultKindPrepared {
		return nil, errors.Wrapf(ErrProtocol, "expected RESULT_PREPARED, got kind 0x%04x", kind)
	}

	id, err := resp.ReadShortBytes()
	if err != nil {
		return nil, errors.Wrap(err, "reading prepared id")
	}
	meta, err := metadata.FromFrame(resp, c.version)
	if err != nil {
		return nil, err
	}
	if c.version >= frame.ProtoVersion2 {
		if err := metadata.Skip(resp, c.version); err != nil {
			return nil, errors.Wrap(err, "skipping result metadata")
		}
	}

	return &Prepared{ID: id, Meta: meta}, nil
}

// Execute runs a prepared statement with one bound value per parameter
// column, validated and encoded through the statement's metadata.
func (c *Client) Execute(stmt *Prepared, cons frame.Consistency, values ...interface{}) (*QueryResult, error) {
	blobs, err := stmt.Meta.EncodeData(values...)
	if err != nil {
		return nil, err
	}

	body := frame.New()
	body.WriteShortBytes(stmt.ID)
	if c.version >= frame.ProtoVersion2 {
		body.WriteConsistency(cons)
		if len(blobs) == 0 {
			body.WriteByte(0)
		} else {
			body.WriteByte(0x01) // values follow
			body.WriteShort(uint16(len(blobs)))
			for _, p := range blobs {
				body.WriteBytes(p)
			}
		}
	} else {
		body.WriteShort(uint16(len(blobs)))
		for _, p := range blobs {
			body.WriteBytes(p)
		}
		body.WriteConsistency(cons)
	}

	op, resp, err := c.SendMessage(frame.OpExecute, body)
	if err != nil {
		return nil, err
	}
	return c.parseResult(op, resp)
}

// Options asks the server which STARTUP options it supports.
func (c *Client) Options() (map[string][]string, error) {
	op, resp, err := c.SendMessage(frame.OpOptions, frame.New())
	if err != nil {
		return nil, err
	}
	if op != frame.OpSupported {
		return nil, errors.Wrapf(ErrProtocol, "expected SUPPORTED, got %s", op)
	}
	return resp.ReadStringMultiMap()
}

// Register subscribes the connection to the given event kinds
// (TOPOLOGY_CHANGE, STATUS_CHANGE, SCHEMA_CHANGE).
func (c *Client) Register(events ...string) error {
	body := frame.New()
	body.WriteStringList(events)
	op, _, err := c.SendMessage(frame.OpRegister, body)
	if err != nil {
		return err
	}
	if op != frame.OpReady {
		return errors.Wrapf(ErrProtocol, "expected READY, got %s", op)
	}
	return nil
}

// Event is one server-pushed EVENT message.
type Event struct {
	Type   string // TOPOLOGY_CHANGE, STATUS_CHANGE or SCHEMA_CHANGE
	Change string

	// Topology and status changes carry the node endpoint.
	Addr net.IP
	Port int32

	// Schema changes carry the affected keyspace and table.
	Keyspace string
	Table    string
}

// ReadEvent blocks for one server-pushed EVENT frame. Only valid on a
// connection that has Registered for events.
func (c *Client) ReadEvent() (*Event, error) {
	hdr, body, err := frame.ReadFrame(c.conn)
	if err != nil {
		return nil, err
	}
	if hdr.Opcode != frame.OpEvent {
		return nil, errors.Wrapf(ErrProtocol, "expected EVENT, got %s", hdr.Opcode)
	}

	if hdr.Flags&frame.FlagCompress != 0 {
		if c.compressor == nil {
			return nil, errors.Wrap(ErrProtocol, "compressed event with no compressor negotiated")
		}
		raw, err := c.compressor.Decode(body.Bytes())
		if err != nil {
			return nil, errors.Wrap(err, "decompressing event body")
		}
		body = frame.NewBuffer(raw)
	}

	ev := &Event{}
	if ev.Type, err = body.ReadString(); err != nil {
		return nil, errors.Wrap(err, "reading event type")
	}

	switch ev.Type {
	case "TOPOLOGY_CHANGE", "STATUS_CHANGE":
		if ev.Change, err = body.ReadString(); err != nil {
			return nil, errors.Wrap(err, "reading event change")
		}
		if ev.Addr, ev.Port, err = body.ReadInet(); err != nil {
			return nil, errors.Wrap(err, "reading event endpoint")
		}
	case "SCHEMA_CHANGE":
		if ev.Change, err = body.ReadString(); err != nil {
			return nil, errors.Wrap(err, "reading event change")
		}
		if ev.Keyspace, err = body.ReadString(); err != nil {
			return nil, errors.Wrap(err, "reading event keyspace")
		}
		if ev.Table, err = body.ReadString(); err != nil {
			return nil, errors.Wrap(err, "reading event table")
		}
	default:
		return nil, errors.Wrapf(ErrProtocol, "unknown event type %q", ev.Type)
	}
	return ev, nil
}
