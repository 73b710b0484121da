// Package metadata parses column descriptors out of RESULT frames,
// resolves short column names, and drives vectorised encode/decode of
// row values against the column types.
package metadata

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/cqlwire/cqlwire/pkg/frame"
	"github.com/cqlwire/cqlwire/pkg/types"
)

var (
	// ErrArityMismatch is returned by EncodeData when the number of
	// supplied values differs from the column count.
	ErrArityMismatch = errors.New("metadata: wrong number of values")

	// ErrNoSuchColumn is returned by index-taking accessors when the
	// index is out of range.
	ErrNoSuchColumn = errors.New("metadata: no such column")
)

// Column is one column descriptor. ShortName is the minimal unambiguous
// suffix of the keyspace.table.name triple within its result set; it is
// filled in during construction.
type Column struct {
	Keyspace  string
	Table     string
	Name      string
	ShortName string
	Type      types.Type
}

// Metadata is an ordered sequence of column descriptors plus a name
// index over every unique qualification form. It is mutated only during
// construction and read-only afterwards.
type Metadata struct {
	cols  []Column
	index map[string]int

	flags       int32
	pagingState []byte
}

// New constructs synthetic metadata from literal column descriptions.
// ShortName fields on the input are ignored and recomputed.
func New(cols []Column) *Metadata {
	m := &Metadata{cols: make([]Column, len(cols))}
	copy(m.cols, cols)
	m.resolveNames()
	return m
}

// FromFrame parses a result-metadata block: flags, column count, the v2
// paging state when HasMorePages is set, the optional global table
// spec, and the per-column entries. With the v2 NoMetadata flag no
// per-column entries follow and the metadata is empty of columns.
func FromFrame(f *frame.Buffer, version byte) (*Metadata, error) {
	m := &Metadata{}

	var err error
	if m.flags, err = f.ReadInt(); err != nil {
		return nil, errors.Wrap(err, "reading metadata flags")
	}
	count, err := f.ReadInt()
	if err != nil {
		return nil, errors.Wrap(err, "reading column count")
	}
	if count < 0 {
		return nil, errors.Wrapf(frame.ErrMalformed, "negative column count %d", count)
	}

	if version >= frame.ProtoVersion2 && m.flags&frame.FlagHasMorePages != 0 {
		if m.pagingState, err = f.ReadBytes(); err != nil {
			return nil, errors.Wrap(err, "reading paging state")
		}
	}
	if version >= frame.ProtoVersion2 && m.flags&frame.FlagNoMetadata != 0 {
		m.index = map[string]int{}
		return m, nil
	}

	var keyspace, table string
	globalSpec := m.flags&frame.FlagGlobalTableSpec != 0
	if globalSpec {
		if keyspace, err = f.ReadString(); err != nil {
			return nil, errors.Wrap(err, "reading global keyspace")
		}
		if table, err = f.ReadString(); err != nil {
			return nil, errors.Wrap(err, "reading global table")
		}
	}

	m.cols = make([]Column, count)
	for i := range m.cols {
		col := &m.cols[i]
		if globalSpec {
			col.Keyspace, col.Table = keyspace, table
		} else {
			if col.Keyspace, err = f.ReadString(); err != nil {
				return nil, errors.Wrapf(err, "reading keyspace of column %d", i)
			}
			if col.Table, err = f.ReadString(); err != nil {
				return nil, errors.Wrapf(err, "reading table of column %d", i)
			}
		}
		if col.Name, err = f.ReadString(); err != nil {
			return nil, errors.Wrapf(err, "reading name of column %d", i)
		}
		if col.Type, err = types.ReadType(f); err != nil {
			return nil, errors.Wrapf(err, "reading type of column %d", i)
		}
	}

	m.resolveNames()
	return m, nil
}

// Skip consumes and discards a result-metadata block of the same shape
// FromFrame would parse. Used for the second metadata block of a v2
// RESULT_PREPARED response.
func Skip(f *frame.Buffer, version byte) error {
	_, err := FromFrame(f, version)
	return err
}

// resolveNames assigns each column the shortest unique form of its
// qualified name and indexes every unique form.
func (m *Metadata) resolveNames() {
	short := make(map[string]int, len(m.cols))
	qualified := make(map[string]int, len(m.cols))
	full := make(map[string]int, len(m.cols))

	for _, c := range m.cols {
		short[c.Name]++
		qualified[c.Table+"."+c.Name]++
		full[c.Keyspace+"."+c.Table+"."+c.Name]++
	}

	m.index = make(map[string]int, len(m.cols))
	for i := range m.cols {
		c := &m.cols[i]
		name := c.Name
		tblName := c.Table + "." + c.Name
		fullName := c.Keyspace + "." + c.Table + "." + c.Name

		switch {
		case short[name] == 1:
			c.ShortName = name
		case qualified[tblName] == 1:
			c.ShortName = tblName
		default:
			c.ShortName = fullName
		}

		if short[name] == 1 {
			m.index[name] = i
		}
		if qualified[tblName] == 1 {
			m.index[tblName] = i
		}
		if full[fullName] == 1 {
			m.index[fullName] = i
		}
	}
}

// Columns returns the column count.
func (m *Metadata) Columns() int {
	return len(m.cols)
}

// Column returns a copy of the i-th column descriptor.
func (m *Metadata) Column(i int) (Column, error) {
	if i < 0 || i >= len(m.cols) {
		return Column{}, errors.Wrapf(ErrNoSuchColumn, "index %d of %d", i, len(m.cols))
	}
	return m.cols[i], nil
}

// ColumnName returns the fully-joined keyspace.table.column name of the
// i-th column.
func (m *Metadata) ColumnName(i int) (string, error) {
	c, err := m.Column(i)
	if err != nil {
		return "", err
	}
	return strings.Join([]string{c.Keyspace, c.Table, c.Name}, "."), nil
}

// ColumnShortName returns the resolved short name of the i-th column.
func (m *Metadata) ColumnShortName(i int) (string, error) {
	c, err := m.Column(i)
	if err != nil {
		return "", err
	}
	return c.ShortName, nil
}

// ColumnType returns the type descriptor of the i-th column.
func (m *Metadata) ColumnType(i int) (types.Type, error) {
	c, err := m.Column(i)
	if err != nil {
		return types.Type{}, err
	}
	return c.Type, nil
}

// FindColumn resolves any unique qualification form (bare, table.name,
// keyspace.table.name) to its 0-based column index.
func (m *Metadata) FindColumn(name string) (int, bool) {
	i, ok := m.index[name]
	return i, ok
}

// HasMorePages reports whether the v2 HasMorePages flag was set.
func (m *Metadata) HasMorePages() bool {
	return m.flags&frame.FlagHasMorePages != 0
}

// PagingState returns the opaque v2 paging state, nil when absent.
func (m *Metadata) PagingState() []byte {
	if m.pagingState == nil {
		return nil
	}
	out := make([]byte, len(m.pagingState))
	copy(out, m.pagingState)
	return out
}

// EncodeData validates and encodes one value per column. A nil value is
// the absent marker and stays nil in the output, to be framed as a
// length of -1 by the caller's bytes writer. Validation failures name
// the offending column by its short name.
func (m *Metadata) EncodeData(values ...interface{}) ([][]byte, error) {
	if len(values) != len(m.cols) {
		return nil, errors.Wrapf(ErrArityMismatch, "got %d values for %d columns", len(values), len(m.cols))
	}

	out := make([][]byte, len(values))
	for i, v := range values {
		if v == nil {
			continue
		}
		c := &m.cols[i]
		if err := c.Type.Validate(v); err != nil {
			return nil, errors.Wrapf(err, "encoding column %s", c.ShortName)
		}
		p, err := c.Type.Encode(v)
		if err != nil {
			return nil, errors.Wrapf(err, "encoding column %s", c.ShortName)
		}
		out[i] = p
	}
	return out, nil
}

// DecodeData decodes one bytes value per column. A nil input yields the
// nil absent marker.
func (m *Metadata) DecodeData(blobs ...[]byte) ([]interface{}, error) {
	if len(blobs) != len(m.cols) {
		return nil, errors.Wrapf(ErrArityMismatch, "got %d values for %d columns", len(blobs), len(m.cols))
	}

	out := make([]interface{}, len(blobs))
	for i, p := range blobs {
		if p == nil {
			continue
		}
		c := &m.cols[i]
		v, err := c.Type.Decode(p)
		if err != nil {
			return nil, errors.Wrapf(err, "decoding column %s", c.ShortName)
		}
		out[i] = v
	}
	return out, nil
}
