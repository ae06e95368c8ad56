package csv

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"datafill/internal/models"
	"datafill/internal/session"

	"github.com/jszwec/csvutil"
	"golang.org/x/text/encoding/charmap"
)

const serialColumn = "serial"

type Parser struct {
	filename string
}

func NewParser(filename string) *Parser {
	return &Parser{filename: filename}
}

// ParseSerials reads a serial-number list. A file with a "serial" header
// column is decoded by name; otherwise the first column of every row is a
// serial number. Blank cells and repeated serials are dropped.
func (p *Parser) ParseSerials() ([]string, error) {
	file, err := os.Open(p.filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()
	return ReadSerials(file)
}

func ReadSerials(r io.Reader) ([]string, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV: %w", err)
	}
	data, err := toUTF8(raw)
	if err != nil {
		return nil, err
	}
	comma := detectComma(data)

	reader := newReader(data, comma)
	first, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	var serials []string
	if header, ok := serialHeader(first); ok {
		var records []models.SerialRecord
		decoder, err := csvutil.NewDecoder(reader, header...)
		if err != nil {
			return nil, fmt.Errorf("failed to create CSV decoder: %w", err)
		}
		if err := decoder.Decode(&records); err != nil {
			return nil, fmt.Errorf("failed to decode CSV: %w", err)
		}
		for _, rec := range records {
			serials = append(serials, rec.SerialNumber)
		}
	} else {
		serials = append(serials, first[0])
		for {
			row, err := reader.Read()
			if err == io.EOF {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("failed to read CSV row: %w", err)
			}
			serials = append(serials, row[0])
		}
	}

	return session.DedupSerials(serials), nil
}

// WriteSerials stores a serial list with a "serial" header.
func WriteSerials(path string, serials []string) error {
	records := make([]models.SerialRecord, 0, len(serials))
	for _, sn := range serials {
		records = append(records, models.SerialRecord{SerialNumber: sn})
	}
	data, err := csvutil.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to encode serials: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func newReader(data []byte, comma rune) *csv.Reader {
	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = comma
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	return r
}

// serialHeader normalizes a header row when one of its columns is "serial".
func serialHeader(row []string) ([]string, bool) {
	header := make([]string, len(row))
	found := false
	for i, h := range row {
		header[i] = strings.ToLower(strings.TrimSpace(h))
		if header[i] == serialColumn {
			found = true
		}
	}
	return header, found
}

// detectComma picks ';' for spreadsheet exports that use it as separator.
func detectComma(data []byte) rune {
	line, _, _ := bytes.Cut(data, []byte("\n"))
	if bytes.Count(line, []byte(";")) > bytes.Count(line, []byte(",")) {
		return ';'
	}
	return ','
}

// toUTF8 strips a UTF-8 BOM and decodes Windows-1251 input, which is what
// spreadsheets on Russian-locale machines save by default.
func toUTF8(data []byte) ([]byte, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if utf8.Valid(data) {
		return data, nil
	}
	decoded, err := charmap.Windows1251.NewDecoder().Bytes(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode Windows-1251 input: %w", err)
	}
	return decoded, nil
}
