package parser

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"
)

var (
	utf8BOM  = []byte{0xEF, 0xBB, 0xBF}
	zipMagic = []byte("PK\x03\x04")
)

// textEncoding decodes raw export bytes into a string
type textEncoding struct {
	name   string
	decode func([]byte) (string, error)
}

// encodings are tried in order; the first one that yields a readable table wins
var encodings = []textEncoding{
	{name: "utf-8", decode: decodeUTF8},
	{name: "latin-1", decode: charmapDecoder(charmap.Windows1252)},
	{name: "iso-8859-1", decode: charmapDecoder(charmap.ISO8859_1)},
}

// delimiters considered by sniffDelimiter, in order of preference on ties
var delimiters = []rune{';', ',', '\t', '|'}

// sniffLines is how many leading lines sniffDelimiter looks at
const sniffLines = 20

func decodeUTF8(b []byte) (string, error) {
	b = bytes.TrimPrefix(b, utf8BOM)
	if !utf8.Valid(b) {
		return "", errors.New("invalid utf-8 sequence")
	}
	return string(b), nil
}

func charmapDecoder(cm *charmap.Charmap) func([]byte) (string, error) {
	return func(b []byte) (string, error) {
		out, err := cm.NewDecoder().Bytes(b)
		if err != nil {
			return "", err
		}
		return string(out), nil
	}
}

// table is a decoded export: header plus data rows
type table struct {
	encoding  string
	delimiter rune
	header    []string
	rows      [][]string
}

// readTable decodes data with the first workable encoding and splits it into rows
func readTable(data []byte) (*table, error) {
	if bytes.HasPrefix(data, zipMagic) {
		return readWorkbook(data)
	}

	var errs []error
	for _, enc := range encodings {
		text, err := enc.decode(data)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", enc.name, err))
			continue
		}

		delim := sniffDelimiter(text)
		records, err := readRecords(text, delim)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", enc.name, err))
			continue
		}

		t := &table{encoding: enc.name, delimiter: delim}
		if len(records) > 0 {
			t.header = records[0]
			t.rows = records[1:]
		}
		return t, nil
	}

	return nil, fmt.Errorf("%w: %w", ErrEncoding, errors.Join(errs...))
}

func readRecords(text string, delim rune) ([][]string, error) {
	reader := csv.NewReader(strings.NewReader(text))
	reader.Comma = delim
	reader.FieldsPerRecord = -1 // Allow variable number of fields
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	var records [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading row: %w", err)
		}
		if isBlank(record) {
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

// sniffDelimiter picks the delimiter that splits the leading lines into the
// same number of fields (at least two) most consistently
func sniffDelimiter(text string) rune {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
		if len(lines) == sniffLines {
			break
		}
	}
	if len(lines) == 0 {
		return ','
	}

	best := ','
	bestConsistent, bestFields := 0, 0
	for _, delim := range delimiters {
		fields := 0
		consistent := 0
		for i, line := range lines {
			n := fieldCount(line, delim)
			if i == 0 {
				fields = n
			}
			if n == fields {
				consistent++
			}
		}
		if fields < 2 {
			continue
		}
		if consistent > bestConsistent || (consistent == bestConsistent && fields > bestFields) {
			best, bestConsistent, bestFields = delim, consistent, fields
		}
	}
	return best
}

func fieldCount(line string, delim rune) int {
	reader := csv.NewReader(strings.NewReader(line))
	reader.Comma = delim
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	record, err := reader.Read()
	if err != nil {
		return 0
	}
	return len(record)
}

// readWorkbook reads the first sheet of an xlsx export
func readWorkbook(data []byte) (*table, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: opening workbook: %w", ErrEncoding, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: workbook has no sheets", ErrSchema)
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("%w: reading sheet %s: %w", ErrEncoding, sheets[0], err)
	}

	t := &table{encoding: "xlsx"}
	for _, row := range rows {
		if isBlank(row) {
			continue
		}
		if t.header == nil {
			t.header = row
			continue
		}
		t.rows = append(t.rows, row)
	}
	return t, nil
}

func isBlank(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}
