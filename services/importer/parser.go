package importer

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/upb/roster-checkin/models"
	"github.com/upb/roster-checkin/services"
	"github.com/upb/roster-checkin/utils"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Batch is one parsed upload
type Batch struct {
	Rows        []*models.ParticipantRow
	WithCheckIn bool // header carried check_in,checked_in_at
}

// Parser turns CSV bytes into a validated batch for one roster schema
type Parser struct {
	schema   models.RosterSchema
	maxBytes int64
}

// NewParser creates a parser; maxBytes <= 0 disables the size limit
func NewParser(schema models.RosterSchema, maxBytes int64) *Parser {
	return &Parser{schema: schema, maxBytes: maxBytes}
}

// Parse reads and validates the whole input before anything is written.
// Every failure is a format error.
func (p *Parser) Parse(r io.Reader) (*Batch, error) {
	data, err := p.read(r)
	if err != nil {
		return nil, err
	}

	data = bytes.TrimPrefix(data, utf8BOM)
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, services.NewFormatError(services.ErrEmptyInput.Message, nil)
	}
	if !utf8.Valid(data) {
		return nil, services.NewFormatError("input is not valid UTF-8", nil)
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = 0

	header, err := reader.Read()
	if err != nil {
		return nil, services.NewFormatError(services.ErrInvalidHeader.Message, err)
	}
	withCheckIn, err := p.checkHeader(header)
	if err != nil {
		return nil, err
	}

	batch := &Batch{WithCheckIn: withCheckIn}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				return nil, services.NewFormatError(services.ErrInvalidRow.Message, err).
					WithDetail("line", pe.StartLine)
			}
			return nil, services.NewFormatError(services.ErrInvalidRow.Message, err)
		}

		line, _ := reader.FieldPos(0)
		if isBlank(record) {
			continue
		}
		row, err := p.parseRow(line, record, withCheckIn)
		if err != nil {
			return nil, err
		}
		batch.Rows = append(batch.Rows, row)
	}

	return batch, nil
}

func (p *Parser) read(r io.Reader) ([]byte, error) {
	if p.maxBytes <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, p.maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > p.maxBytes {
		return nil, services.NewFormatError("input too large", nil).WithDetail("max_bytes", p.maxBytes)
	}
	return data, nil
}

// checkHeader accepts the schema columns in order, optionally followed by the check-in pair
func (p *Parser) checkHeader(header []string) (bool, error) {
	got := make([]string, len(header))
	present := make(map[string]bool, len(header))
	for i, col := range header {
		got[i] = strings.TrimSpace(col)
		present[got[i]] = true
	}

	want := p.schema.Columns()
	var missing []string
	for _, col := range want {
		if !present[col] {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return false, services.NewFormatError(services.ErrMissingColumns.Message, nil).
			WithDetail("missing", missing)
	}

	switch {
	case equalColumns(got, want):
		return false, nil
	case equalColumns(got, p.schema.ExportColumns()):
		return true, nil
	default:
		return false, services.NewFormatError(services.ErrInvalidHeader.Message, nil).
			WithDetail("expected", strings.Join(want, ","))
	}
}

func (p *Parser) parseRow(line int, record []string, withCheckIn bool) (*models.ParticipantRow, error) {
	for i := range record {
		record[i] = strings.TrimSpace(record[i])
	}

	row := &models.ParticipantRow{
		Line: line,
		ID:   record[0],
		Name: record[1],
	}

	attrCols := p.schema.AttributeColumns()
	if len(attrCols) > 0 {
		row.Attributes = make(map[string]string, len(attrCols))
		for i, col := range attrCols {
			row.Attributes[col] = record[2+i]
		}
	}

	if err := utils.ValidateStruct(row); err != nil {
		return nil, services.NewFormatError(services.ErrInvalidRow.Message, err).
			WithDetail("line", line).
			WithDetail("fields", utils.GetValidationFields(err))
	}

	if withCheckIn {
		n := len(p.schema.Columns())
		if err := parseCheckIn(row, record[n], record[n+1]); err != nil {
			return nil, services.NewFormatError(services.ErrInvalidRow.Message, err).
				WithDetail("line", line)
		}
	}

	return row, nil
}

func parseCheckIn(row *models.ParticipantRow, checkIn, checkedInAt string) error {
	if checkIn != "" {
		v, err := strconv.ParseBool(checkIn)
		if err != nil {
			return fmt.Errorf("line %d: check_in %q is not a boolean", row.Line, checkIn)
		}
		row.CheckedIn = v
	}

	if checkedInAt != "" {
		at, err := time.Parse(time.RFC3339Nano, checkedInAt)
		if err != nil {
			return fmt.Errorf("line %d: checked_in_at %q is not an RFC 3339 timestamp", row.Line, checkedInAt)
		}
		row.CheckedInAt = &at
	}

	if row.CheckedIn != (row.CheckedInAt != nil) {
		return fmt.Errorf("line %d: checked_in_at must be set exactly when check_in is true", row.Line)
	}
	return nil
}

func equalColumns(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func isBlank(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
