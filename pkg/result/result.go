// Package result decodes RESULT_ROWS bodies into rows of typed values
// and offers array, hash and keyed views over them.
package result

import (
	"github.com/pkg/errors"

	"github.com/cqlwire/cqlwire/pkg/frame"
	"github.com/cqlwire/cqlwire/pkg/metadata"
	"github.com/cqlwire/cqlwire/pkg/types"
)

var (
	// ErrNoSuchRow is returned by row accessors on an out-of-range
	// row index.
	ErrNoSuchRow = errors.New("result: no such row")

	// ErrNoSuchColumn is returned by keyed accessors when the name or
	// index does not resolve to a column.
	ErrNoSuchColumn = errors.New("result: no such column")
)

// Result is a column metadata together with decoded rows. The result
// holds its metadata by composition and forwards metadata-level
// queries. Accessors return fresh copies; a Result is read-only after
// construction and safe for concurrent readers.
type Result struct {
	meta *metadata.Metadata
	rows [][]interface{}
}

// FromFrame parses a RESULT_ROWS body: the embedded column metadata,
// the row count, then row-count x column-count bytes values, each row
// decoded through the metadata's column types.
func FromFrame(f *frame.Buffer, version byte) (*Result, error) {
	meta, err := metadata.FromFrame(f, version)
	if err != nil {
		return nil, err
	}

	count, err := f.ReadInt()
	if err != nil {
		return nil, errors.Wrap(err, "reading row count")
	}
	if count < 0 {
		return nil, errors.Wrapf(frame.ErrMalformed, "negative row count %d", count)
	}

	r := &Result{meta: meta, rows: make([][]interface{}, count)}
	blobs := make([][]byte, meta.Columns())
	for i := range r.rows {
		for j := range blobs {
			if blobs[j], err = f.ReadBytes(); err != nil {
				return nil, errors.Wrapf(err, "reading row %d column %d", i, j)
			}
		}
		if r.rows[i], err = meta.DecodeData(blobs...); err != nil {
			return nil, errors.Wrapf(err, "decoding row %d", i)
		}
	}
	return r, nil
}

// New constructs a synthetic result. Every cell is validated against
// its column type; an invalid cell identifies the row index and the
// column short name.
func New(meta *metadata.Metadata, rows [][]interface{}) (*Result, error) {
	r := &Result{meta: meta, rows: make([][]interface{}, len(rows))}
	for i, row := range rows {
		if len(row) != meta.Columns() {
			return nil, errors.Wrapf(metadata.ErrArityMismatch, "row %d has %d values for %d columns", i, len(row), meta.Columns())
		}
		for j, v := range row {
			if v == nil {
				continue
			}
			typ, err := meta.ColumnType(j)
			if err != nil {
				return nil, err
			}
			if err := typ.Validate(v); err != nil {
				short, _ := meta.ColumnShortName(j)
				return nil, errors.Wrapf(err, "row %d column %s", i, short)
			}
		}
		r.rows[i] = append([]interface{}(nil), row...)
	}
	return r, nil
}

// Metadata returns the embedded column metadata.
func (r *Result) Metadata() *metadata.Metadata {
	return r.meta
}

// Columns forwards to the metadata's column count.
func (r *Result) Columns() int {
	return r.meta.Columns()
}

// FindColumn forwards to the metadata's name resolution.
func (r *Result) FindColumn(name string) (int, bool) {
	return r.meta.FindColumn(name)
}

// Rows returns the row count.
func (r *Result) Rows() int {
	return len(r.rows)
}

// RowArray returns a fresh ordered tuple of the i-th row's values.
func (r *Result) RowArray(i int) ([]interface{}, error) {
	if i < 0 || i >= len(r.rows) {
		return nil, errors.Wrapf(ErrNoSuchRow, "index %d of %d", i, len(r.rows))
	}
	return append([]interface{}(nil), r.rows[i]...), nil
}

// RowHash returns a fresh short-name-to-value mapping of the i-th row.
func (r *Result) RowHash(i int) (map[string]interface{}, error) {
	if i < 0 || i >= len(r.rows) {
		return nil, errors.Wrapf(ErrNoSuchRow, "index %d of %d", i, len(r.rows))
	}
	out := make(map[string]interface{}, r.meta.Columns())
	for j, v := range r.rows[i] {
		short, err := r.meta.ColumnShortName(j)
		if err != nil {
			return nil, err
		}
		out[short] = v
	}
	return out, nil
}

// RowsArray returns the array view of every row in order.
func (r *Result) RowsArray() [][]interface{} {
	out := make([][]interface{}, len(r.rows))
	for i := range r.rows {
		out[i], _ = r.RowArray(i)
	}
	return out
}

// RowsHash returns the hash view of every row in order.
func (r *Result) RowsHash() []map[string]interface{} {
	out := make([]map[string]interface{}, len(r.rows))
	for i := range r.rows {
		out[i], _ = r.RowHash(i)
	}
	return out
}

// RowMapArray returns the rows keyed by the value at keyIndex, each
// entry an ordered tuple. On duplicate keys the last row in order wins.
func (r *Result) RowMapArray(keyIndex int) (map[interface{}][]interface{}, error) {
	if keyIndex < 0 || keyIndex >= r.meta.Columns() {
		return nil, errors.Wrapf(ErrNoSuchColumn, "index %d of %d", keyIndex, r.meta.Columns())
	}
	out := make(map[interface{}][]interface{}, len(r.rows))
	for i := range r.rows {
		row, _ := r.RowArray(i)
		out[types.HashableKey(row[keyIndex])] = row
	}
	return out, nil
}

// RowMapHash returns the rows keyed by the named column's value, each
// entry a short-name-to-value record. On duplicate keys the last row in
// order wins.
func (r *Result) RowMapHash(keyName string) (map[interface{}]map[string]interface{}, error) {
	keyIndex, ok := r.meta.FindColumn(keyName)
	if !ok {
		return nil, errors.Wrapf(ErrNoSuchColumn, "name %q", keyName)
	}
	out := make(map[interface{}]map[string]interface{}, len(r.rows))
	for i := range r.rows {
		row, err := r.RowHash(i)
		if err != nil {
			return nil, err
		}
		out[types.HashableKey(r.rows[i][keyIndex])] = row
	}
	return out, nil
}
