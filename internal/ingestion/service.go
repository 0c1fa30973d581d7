package ingestion

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/rpattn/customdata/internal/catalog"
	"github.com/rpattn/customdata/internal/export"
	"github.com/rpattn/customdata/internal/metafield"
)

var (
	// ErrUnsupportedFormat is returned when a catalog file is not csv or xlsx.
	ErrUnsupportedFormat = errors.New("unsupported file format")
	// ErrInvalidCatalog is returned when a catalog file cannot be turned into definitions.
	ErrInvalidCatalog = errors.New("invalid catalog file")

	byteOrderMark = []byte{0xEF, 0xBB, 0xBF}
)

// RowError locates a problem in a catalog file. Row is 1-based, counting the header.
type RowError struct {
	Row int
	Err error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d: %v", e.Row, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

type tableData struct {
	headers []string
	rows    [][]string
	// rowNumbers maps each data row back to its line in the file.
	rowNumbers []int
}

// ParseCatalog reads a definitions table written by the export package.
func ParseCatalog(fileName string, payload []byte) (*catalog.Catalog, error) {
	table, err := parseTable(fileName, payload)
	if err != nil {
		return nil, err
	}
	return buildCatalog(table)
}

func parseTable(fileName string, payload []byte) (tableData, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	switch ext {
	case ".csv":
		return parseCSV(payload)
	case ".xlsx":
		return parseExcel(payload)
	default:
		return tableData{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
}

func parseCSV(payload []byte) (tableData, error) {
	reader := bufio.NewReader(bytes.NewReader(payload))
	if prefix, err := reader.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = reader.Discard(len(byteOrderMark))
	}

	csvReader := csv.NewReader(reader)
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1

	records, err := csvReader.ReadAll()
	if err != nil {
		return tableData{}, fmt.Errorf("failed to read csv: %w", err)
	}
	return normalizeTable(records)
}

func parseExcel(payload []byte) (tableData, error) {
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return tableData{}, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return tableData{}, errors.New("excel file has no sheets")
	}
	sheet := sheets[0]
	for _, name := range sheets {
		if name == export.DefinitionsSheet {
			sheet = name
			break
		}
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return tableData{}, fmt.Errorf("failed to read rows from xlsx: %w", err)
	}
	return normalizeTable(rows)
}

func normalizeTable(records [][]string) (tableData, error) {
	if len(records) == 0 {
		return tableData{}, fmt.Errorf("%w: no rows found in file", ErrInvalidCatalog)
	}

	var table tableData
	for idx, row := range records {
		if len(cleanRow(row)) == 0 {
			continue
		}
		if table.headers == nil {
			table.headers = sanitizeHeaders(row)
			continue
		}
		table.rows = append(table.rows, padRow(row, len(table.headers)))
		table.rowNumbers = append(table.rowNumbers, idx+1)
	}

	if table.headers == nil {
		return tableData{}, fmt.Errorf("%w: header row could not be detected", ErrInvalidCatalog)
	}
	for _, required := range export.DefinitionHeaders[:4] {
		if table.column(required) < 0 {
			return tableData{}, fmt.Errorf("%w: missing column %q", ErrInvalidCatalog, required)
		}
	}
	return table, nil
}

func (t tableData) column(name string) int {
	for i, header := range t.headers {
		if header == name {
			return i
		}
	}
	return -1
}

func (t tableData) cell(row []string, name string) string {
	idx := t.column(name)
	if idx < 0 {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func buildCatalog(table tableData) (*catalog.Catalog, error) {
	var (
		metaobjects []catalog.MetaobjectDefinition
		metafields  []catalog.MetafieldDefinition
		byID        = make(map[string]int)
		pending     []pendingField
	)

	for i, row := range table.rows {
		line := table.rowNumbers[i]
		record := strings.ToLower(table.cell(row, "record"))
		owner := table.cell(row, "owner")
		key := table.cell(row, "key")
		if owner == "" || key == "" {
			return nil, &RowError{Row: line, Err: fmt.Errorf("%w: owner and key are required", ErrInvalidCatalog)}
		}

		switch record {
		case export.RecordMetaobject:
			if _, dup := byID[owner]; dup {
				return nil, &RowError{Row: line, Err: fmt.Errorf("%w: duplicate metaobject %s", ErrInvalidCatalog, owner)}
			}
			byID[owner] = len(metaobjects)
			metaobjects = append(metaobjects, catalog.MetaobjectDefinition{
				ID:          owner,
				Type:        key,
				Description: table.cell(row, "description"),
			})
		case export.RecordMetaobjectField, export.RecordMetafield:
			field, err := fieldDefinition(table, row)
			if err != nil {
				return nil, &RowError{Row: line, Err: err}
			}
			if record == export.RecordMetafield {
				field.OwnerType = owner
				metafields = append(metafields, field)
				continue
			}
			pending = append(pending, pendingField{line: line, owner: owner, field: field})
		default:
			return nil, &RowError{Row: line, Err: fmt.Errorf("%w: unknown record kind %q", ErrInvalidCatalog, record)}
		}
	}

	// Field rows may precede the metaobject row that owns them.
	for _, p := range pending {
		idx, ok := byID[p.owner]
		if !ok {
			return nil, &RowError{Row: p.line, Err: fmt.Errorf("%w: unknown metaobject %s", ErrInvalidCatalog, p.owner)}
		}
		metaobjects[idx].Fields = append(metaobjects[idx].Fields, p.field)
	}

	return catalog.New(metaobjects, metafields), nil
}

type pendingField struct {
	line  int
	owner string
	field catalog.MetafieldDefinition
}

func fieldDefinition(table tableData, row []string) (catalog.MetafieldDefinition, error) {
	field := catalog.MetafieldDefinition{
		Key:         table.cell(row, "key"),
		Type:        table.cell(row, "type"),
		Description: table.cell(row, "description"),
	}
	if _, err := metafield.Resolve(field.Type, field.Key); err != nil {
		return field, err
	}
	if raw := table.cell(row, "validations"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &field.Validations); err != nil {
			return field, fmt.Errorf("%w: validations of %s: %v", ErrInvalidCatalog, field.Key, err)
		}
	}
	return field, nil
}

func cleanRow(row []string) []string {
	var cleaned []string
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			cleaned = append(cleaned, cell)
		}
	}
	return cleaned
}

func sanitizeHeaders(raw []string) []string {
	headers := make([]string, len(raw))
	for idx, value := range raw {
		name := strings.ToLower(strings.TrimSpace(value))
		name = strings.ReplaceAll(name, " ", "_")
		name = strings.ReplaceAll(name, "-", "_")
		name = strings.Trim(name, "_")
		if name == "" {
			name = fmt.Sprintf("column_%d", idx+1)
		}
		headers[idx] = name
	}
	return headers
}

func padRow(row []string, length int) []string {
	if len(row) >= length {
		return row[:length]
	}
	padded := make([]string, length)
	copy(padded, row)
	return padded
}

// FileSource serves a catalog read from disk in place of the Admin API.
type FileSource struct {
	path string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Load reads the file on every call, so edits are picked up by a refresh.
// Metafields are filtered to the requested owner types.
func (s *FileSource) Load(ctx context.Context, ownerTypes []string) (*catalog.Catalog, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	payload, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}
	cat, err := ParseCatalog(s.path, payload)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(s.path), err)
	}

	snap := cat.Snapshot()
	allowed := make(map[string]struct{}, len(ownerTypes))
	for _, owner := range ownerTypes {
		allowed[owner] = struct{}{}
	}
	kept := snap.Metafields[:0]
	for _, field := range snap.Metafields {
		if _, ok := allowed[field.OwnerType]; ok {
			kept = append(kept, field)
		}
	}
	return catalog.New(snap.Metaobjects, kept), nil
}
