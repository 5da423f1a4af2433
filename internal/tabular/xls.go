package tabular

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"unicode/utf16"

	"github.com/richardlehane/mscfb"
)

// oleMagic opens every compound file, which is the container of legacy .xls workbooks.
var oleMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

// BIFF8 record types read from the workbook stream.
const (
	recFormula    = 0x0006
	recEOF        = 0x000A
	recFilePass   = 0x002F
	recContinue   = 0x003C
	recBoundSheet = 0x0085
	recMulRK      = 0x00BD
	recSST        = 0x00FC
	recLabelSST   = 0x00FD
	recRString    = 0x00D6
	recNumber     = 0x0203
	recLabel      = 0x0204
	recBoolErr    = 0x0205
	recString     = 0x0207
	recRK         = 0x027E
	recBOF        = 0x0809
)

var errEncryptedWorkbook = errors.New("workbook is password protected")

func isXLS(content []byte) bool {
	return bytes.HasPrefix(content, oleMagic)
}

type record struct {
	op   uint16
	data []byte
}

// readXLS returns the cell text of the first worksheet of a BIFF8 workbook.
// Numbers are rendered without cell formatting, so dates arrive as serial values.
func readXLS(content []byte) ([][]string, error) {
	stream, err := workbookStream(content)
	if err != nil {
		return nil, err
	}

	globals, err := readRecords(stream)
	if err != nil {
		return nil, err
	}

	var (
		sheetAt = -1
		sst     []string
	)
	for i, rec := range globals {
		switch rec.op {
		case recFilePass:
			return nil, errEncryptedWorkbook
		case recBoundSheet:
			// Offset of the sheet BOF, then visibility and sheet type (0 = worksheet).
			if len(rec.data) >= 6 && rec.data[5] == 0 && sheetAt < 0 {
				sheetAt = int(binary.LittleEndian.Uint32(rec.data))
			}
		case recSST:
			chunks := [][]byte{rec.data}
			for _, next := range globals[i+1:] {
				if next.op != recContinue {
					break
				}
				chunks = append(chunks, next.data)
			}
			if sst, err = readSST(chunks); err != nil {
				return nil, err
			}
		}
	}
	if sheetAt < 0 {
		return nil, nil
	}
	if sheetAt >= len(stream) {
		return nil, fmt.Errorf("sheet offset %d outside workbook stream", sheetAt)
	}

	sheet, err := readRecords(stream[sheetAt:])
	if err != nil {
		return nil, err
	}
	return readCells(sheet, sst)
}

func workbookStream(content []byte) ([]byte, error) {
	doc, err := mscfb.New(bytes.NewReader(content))
	if err != nil {
		return nil, err
	}
	for entry, err := doc.Next(); err == nil; entry, err = doc.Next() {
		switch entry.Name {
		case "Workbook":
			return io.ReadAll(entry)
		case "Book":
			return nil, errors.New("legacy Excel 5.0/95 workbook is not supported")
		}
	}
	return nil, errors.New("compound file has no workbook stream")
}

// readRecords splits a stream into records, stopping after the first EOF that
// closes the leading BOF.
func readRecords(stream []byte) ([]record, error) {
	var recs []record
	for pos := 0; pos+4 <= len(stream); {
		op := binary.LittleEndian.Uint16(stream[pos:])
		size := int(binary.LittleEndian.Uint16(stream[pos+2:]))
		pos += 4
		if pos+size > len(stream) {
			return nil, fmt.Errorf("record 0x%04X truncated", op)
		}
		if len(recs) == 0 && op != recBOF {
			return nil, fmt.Errorf("stream starts with record 0x%04X, not BOF", op)
		}
		recs = append(recs, record{op: op, data: stream[pos : pos+size]})
		pos += size
		if op == recEOF {
			return recs, nil
		}
	}
	return recs, nil
}

func readCells(recs []record, sst []string) ([][]string, error) {
	var rows [][]string
	set := func(r, c uint16, v string) {
		for len(rows) <= int(r) {
			rows = append(rows, nil)
		}
		for len(rows[r]) <= int(c) {
			rows[r] = append(rows[r], "")
		}
		rows[r][c] = v
	}

	for i, rec := range recs {
		d := rec.data
		if len(d) < 6 {
			continue
		}
		row, col := binary.LittleEndian.Uint16(d), binary.LittleEndian.Uint16(d[2:])

		switch rec.op {
		case recLabelSST:
			if len(d) < 10 {
				continue
			}
			if idx := int(binary.LittleEndian.Uint32(d[6:])); idx < len(sst) {
				set(row, col, sst[idx])
			}
		case recLabel, recRString:
			s, err := readString(d[6:])
			if err != nil {
				return nil, err
			}
			set(row, col, s)
		case recNumber:
			if len(d) >= 14 {
				set(row, col, formatNumber(math.Float64frombits(binary.LittleEndian.Uint64(d[6:]))))
			}
		case recRK:
			if len(d) >= 10 {
				set(row, col, formatNumber(decodeRK(binary.LittleEndian.Uint32(d[6:]))))
			}
		case recMulRK:
			// Row, first column, then (xf, rk) pairs and the last column.
			last := binary.LittleEndian.Uint16(d[len(d)-2:])
			for c, off := col, 4; c <= last && off+6 <= len(d)-2; c, off = c+1, off+6 {
				set(row, c, formatNumber(decodeRK(binary.LittleEndian.Uint32(d[off+2:]))))
			}
		case recBoolErr:
			if len(d) >= 8 && d[7] == 0 {
				set(row, col, strconv.FormatBool(d[6] != 0))
			}
		case recFormula:
			if len(d) < 14 {
				continue
			}
			result := d[6:14]
			if binary.LittleEndian.Uint16(result[6:]) != 0xFFFF {
				set(row, col, formatNumber(math.Float64frombits(binary.LittleEndian.Uint64(result))))
				continue
			}
			switch result[0] {
			case 0:
				// A string result follows in its own STRING record.
				if i+1 < len(recs) && recs[i+1].op == recString {
					s, err := readString(recs[i+1].data)
					if err != nil {
						return nil, err
					}
					set(row, col, s)
				}
			case 1:
				set(row, col, strconv.FormatBool(result[2] != 0))
			}
		}
	}
	return rows, nil
}

// readSST decodes the shared string table. Strings may be split across CONTINUE
// records; each continuation restates whether its characters are one or two bytes wide.
func readSST(chunks [][]byte) ([]string, error) {
	if len(chunks[0]) < 8 {
		return nil, errors.New("shared string table truncated")
	}
	unique := int(binary.LittleEndian.Uint32(chunks[0][4:]))

	c := &chunkReader{chunks: chunks, pos: 8}
	out := make([]string, 0, min(unique, 1<<16))
	for range unique {
		header, err := c.take(3)
		if err != nil {
			return nil, err
		}
		cch := int(binary.LittleEndian.Uint16(header))
		flags := header[2]

		var runs, ext int
		if flags&0x08 != 0 {
			b, err := c.take(2)
			if err != nil {
				return nil, err
			}
			runs = int(binary.LittleEndian.Uint16(b))
		}
		if flags&0x04 != 0 {
			b, err := c.take(4)
			if err != nil {
				return nil, err
			}
			ext = int(binary.LittleEndian.Uint32(b))
		}

		s, err := c.chars(cch, flags&0x01 != 0)
		if err != nil {
			return nil, err
		}
		if err := c.skip(runs*4 + ext); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

type chunkReader struct {
	chunks [][]byte
	idx    int
	pos    int
}

func (c *chunkReader) advance() error {
	if c.idx+1 >= len(c.chunks) {
		return errors.New("shared string table truncated")
	}
	c.idx++
	c.pos = 0
	return nil
}

func (c *chunkReader) take(n int) ([]byte, error) {
	if c.pos >= len(c.chunks[c.idx]) {
		if err := c.advance(); err != nil {
			return nil, err
		}
	}
	cur := c.chunks[c.idx]
	if c.pos+n > len(cur) {
		return nil, errors.New("shared string header split across records")
	}
	b := cur[c.pos : c.pos+n]
	c.pos += n
	return b, nil
}

func (c *chunkReader) skip(n int) error {
	for n > 0 {
		if c.pos >= len(c.chunks[c.idx]) {
			if err := c.advance(); err != nil {
				return err
			}
		}
		step := min(n, len(c.chunks[c.idx])-c.pos)
		c.pos += step
		n -= step
	}
	return nil
}

func (c *chunkReader) chars(n int, wide bool) (string, error) {
	var units []uint16
	for n > 0 {
		if c.pos >= len(c.chunks[c.idx]) {
			if err := c.advance(); err != nil {
				return "", err
			}
			// The first byte of a continuation carries the width flag again.
			wide = c.chunks[c.idx][0]&0x01 != 0
			c.pos = 1
		}
		cur := c.chunks[c.idx]
		width := 1
		if wide {
			width = 2
		}
		count := min(n, (len(cur)-c.pos)/width)
		if count == 0 {
			return "", errors.New("shared string truncated")
		}
		for k := range count {
			if wide {
				units = append(units, binary.LittleEndian.Uint16(cur[c.pos+2*k:]))
			} else {
				units = append(units, uint16(cur[c.pos+k]))
			}
		}
		c.pos += count * width
		n -= count
	}
	return string(utf16.Decode(units)), nil
}

// readString decodes an unsplit BIFF8 unicode string with a two byte length.
func readString(b []byte) (string, error) {
	if len(b) < 3 {
		return "", errors.New("string record truncated")
	}
	cch := int(binary.LittleEndian.Uint16(b))
	flags := b[2]
	pos := 3
	if flags&0x08 != 0 {
		pos += 2
	}
	if flags&0x04 != 0 {
		pos += 4
	}

	c := &chunkReader{chunks: [][]byte{b}, pos: pos}
	return c.chars(cch, flags&0x01 != 0)
}

// decodeRK unpacks the compressed RK number: bit 0 divides by 100, bit 1 marks a
// 30-bit signed integer, otherwise the top 30 bits of an IEEE double.
func decodeRK(v uint32) float64 {
	var n float64
	if v&0x02 != 0 {
		n = float64(int32(v) >> 2)
	} else {
		n = math.Float64frombits(uint64(v&0xFFFFFFFC) << 32)
	}
	if v&0x01 != 0 {
		n /= 100
	}
	return n
}

func formatNumber(n float64) string {
	return strconv.FormatFloat(n, 'f', -1, 64)
}
