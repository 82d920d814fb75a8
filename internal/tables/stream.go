package tables

import (
	"errors"
	"fmt"
	"math/bits"

	"github.com/wippyai/clr-image/internal/binary"
)

// Stream is the #~ table stream: rows of every present table as raw column values.
// Row indexes are 1-based everywhere; Rows[t][0] is row 1.
type Stream struct {
	Rows         [MaxTables][][]uint32
	External     [MaxTables]uint32 // row counts of tables stored in another stream
	Sorted       uint64
	HeapSizes    byte
	MajorVersion byte
	MinorVersion byte
}

// heapExtraData marks an extra 4-byte field after the row counts.
const heapExtraData byte = 0x40

// NewStream creates an empty stream with version 2.0.
func NewStream() *Stream {
	return &Stream{MajorVersion: 2}
}

// Add appends a row to table t and returns its 1-based index.
func (s *Stream) Add(t ID, values ...uint32) uint32 {
	row := make([]uint32, len(values))
	copy(row, values)
	s.Rows[t] = append(s.Rows[t], row)
	return uint32(len(s.Rows[t]))
}

// Count returns the number of rows of table t in this stream.
func (s *Stream) Count(t ID) uint32 {
	return uint32(len(s.Rows[t]))
}

// Row returns the 1-based row of table t, or nil when out of range.
func (s *Stream) Row(t ID, row uint32) []uint32 {
	if row == 0 || row > uint32(len(s.Rows[t])) {
		return nil
	}
	return s.Rows[t][row-1]
}

// Sizes returns the column sizing for this stream. External counts apply to
// tables that have no rows here.
func (s *Stream) Sizes() *Sizes {
	sz := &Sizes{HeapSizes: s.HeapSizes}
	for t := 0; t < MaxTables; t++ {
		sz.Rows[t] = uint32(len(s.Rows[t]))
		if sz.Rows[t] == 0 {
			sz.Rows[t] = s.External[t]
		}
	}
	return sz
}

// Valid returns the present-tables mask.
func (s *Stream) Valid() uint64 {
	var mask uint64
	for t := 0; t < MaxTables; t++ {
		if len(s.Rows[t]) > 0 {
			mask |= 1 << uint(t)
		}
	}
	return mask
}

// Encode serializes the stream, padded to a 4-byte boundary.
func (s *Stream) Encode() ([]byte, error) {
	sz := s.Sizes()
	w := binary.NewWriter()
	w.WriteU32(0)
	w.Byte(s.MajorVersion)
	w.Byte(s.MinorVersion)
	w.Byte(s.HeapSizes &^ heapExtraData)
	w.Byte(1)
	w.WriteU64(s.Valid())
	w.WriteU64(s.Sorted)
	for t := 0; t < MaxTables; t++ {
		if n := len(s.Rows[t]); n > 0 {
			w.WriteU32(uint32(n))
		}
	}

	for t := 0; t < MaxTables; t++ {
		id := ID(t)
		if len(s.Rows[t]) == 0 {
			continue
		}
		cols := Schema[id]
		if cols == nil {
			return nil, fmt.Errorf("encode table 0x%02x: no schema", t)
		}
		for i, row := range s.Rows[t] {
			if len(row) != len(cols) {
				return nil, fmt.Errorf("%s row %d: %d values for %d columns", id, i+1, len(row), len(cols))
			}
			for c, col := range cols {
				size := sz.ColumnSize(col)
				if size == 2 && row[c] > 0xFFFF {
					return nil, fmt.Errorf("%s row %d column %s: value 0x%x does not fit 2 bytes", id, i+1, col.Name, row[c])
				}
				w.WriteIndex(row[c], size == 4)
			}
		}
	}
	w.Align(4)
	return w.Bytes(), nil
}

// DecodeStream parses a #~ (or #-) stream. external supplies row counts for
// tables referenced by this stream but stored elsewhere.
func DecodeStream(data []byte, external [MaxTables]uint32) (*Stream, error) {
	r := binary.NewReader(data)
	s := &Stream{External: external}

	if _, err := r.ReadU32(); err != nil {
		return nil, r.WrapError("#~ header", err)
	}
	var err error
	if s.MajorVersion, err = r.ReadByte(); err != nil {
		return nil, r.WrapError("#~ header", err)
	}
	if s.MinorVersion, err = r.ReadByte(); err != nil {
		return nil, r.WrapError("#~ header", err)
	}
	if s.HeapSizes, err = r.ReadByte(); err != nil {
		return nil, r.WrapError("#~ header", err)
	}
	if _, err = r.ReadByte(); err != nil {
		return nil, r.WrapError("#~ header", err)
	}
	valid, err := r.ReadU64()
	if err != nil {
		return nil, r.WrapError("#~ header", err)
	}
	if s.Sorted, err = r.ReadU64(); err != nil {
		return nil, r.WrapError("#~ header", err)
	}

	var counts [MaxTables]uint32
	for t := 0; t < MaxTables; t++ {
		if valid&(1<<uint(t)) == 0 {
			continue
		}
		if !ID(t).Known() {
			return nil, fmt.Errorf("#~: unknown table 0x%02x present (%d tables valid)", t, bits.OnesCount64(valid))
		}
		if counts[t], err = r.ReadU32(); err != nil {
			return nil, r.WrapError("#~ row counts", err)
		}
	}
	if s.HeapSizes&heapExtraData != 0 {
		if err := r.Skip(4); err != nil {
			return nil, r.WrapError("#~ extra data", err)
		}
	}

	sz := &Sizes{HeapSizes: s.HeapSizes}
	for t := 0; t < MaxTables; t++ {
		sz.Rows[t] = counts[t]
		if counts[t] == 0 {
			sz.Rows[t] = external[t]
		}
	}

	for t := 0; t < MaxTables; t++ {
		if counts[t] == 0 {
			continue
		}
		id := ID(t)
		cols := Schema[id]
		if int64(counts[t])*int64(sz.RowSize(id)) > int64(r.Remaining()) {
			return nil, r.WrapError(id.String(), errors.New("table extends past end of stream"))
		}
		rows := make([][]uint32, counts[t])
		for i := range rows {
			row := make([]uint32, len(cols))
			for c, col := range cols {
				v, err := r.ReadIndex(sz.ColumnSize(col) == 4)
				if err != nil {
					return nil, r.WrapError(id.String(), err)
				}
				row[c] = v
			}
			rows[i] = row
		}
		s.Rows[t] = rows
	}
	return s, nil
}

// Range returns the [start, end) run of child rows owned by row of table t whose
// list column is col, following the "run until the next row's list" rule.
// The end is clamped to the child table; a start past it is an error.
func (s *Stream) Range(t ID, col int, row uint32, child ID) (uint32, uint32, error) {
	limit := s.Count(child) + 1
	start := s.Row(t, row)[col]
	if start > limit {
		return 0, 0, fmt.Errorf("%s row %d: %s list %d past %d rows", t, row, child, start, limit-1)
	}
	end := limit
	if next := s.Row(t, row+1); next != nil && next[col] < limit {
		end = next[col]
	}
	if start == 0 || start > end {
		return end, end, nil
	}
	return start, end, nil
}
