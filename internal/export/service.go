package export

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/xuri/excelize/v2"

	"github.com/rpattn/customdata/internal/catalog"
	"github.com/rpattn/customdata/internal/composer"
)

// ErrUnsupportedFormat is returned for export formats other than xlsx and csv.
var ErrUnsupportedFormat = errors.New("unsupported export format")

// Workbook layout shared with the ingestion reader.
const (
	DefinitionsSheet   = "Definitions"
	VirtualFieldsSheet = "Virtual fields"

	RecordMetaobject      = "metaobject"
	RecordMetaobjectField = "metaobject_field"
	RecordMetafield       = "metafield"
)

// DefinitionHeaders are the columns of the definitions table. For metaobject
// rows owner is the definition id and key is the type tag; for field rows
// owner is the owning metaobject id or native typename.
var DefinitionHeaders = []string{"record", "owner", "key", "type", "description", "validations"}

var virtualFieldHeaders = []string{"typename", "field", "graphql_type", "metafield_key", "metafield_type"}

type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatCSV  Format = "csv"
)

// ParseFormat accepts a format name or file extension.
func ParseFormat(value string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(value), ".")) {
	case "", "xlsx":
		return FormatXLSX, nil
	case "csv":
		return FormatCSV, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, value)
	}
}

func (f Format) ContentType() string {
	if f == FormatCSV {
		return "text/csv"
	}
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

// Write exports the catalog in the given format. The virtual schema is
// optional and only used by the xlsx workbook.
func Write(w io.Writer, format Format, cat *catalog.Catalog, schema *ast.Schema) error {
	switch format {
	case FormatCSV:
		return WriteCSV(w, cat)
	case FormatXLSX:
		return WriteWorkbook(w, cat, schema)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

// DefinitionRows flattens the catalog into definition table rows.
func DefinitionRows(cat *catalog.Catalog) ([][]string, error) {
	snap := cat.Snapshot()
	var rows [][]string

	for _, mo := range snap.Metaobjects {
		rows = append(rows, []string{RecordMetaobject, mo.ID, mo.Type, "", mo.Description, ""})
		for _, field := range mo.Fields {
			row, err := fieldRow(RecordMetaobjectField, mo.ID, field)
			if err != nil {
				return nil, err
			}
			rows = append(rows, row)
		}
	}
	for _, field := range snap.Metafields {
		row, err := fieldRow(RecordMetafield, field.OwnerType, field)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func fieldRow(record, owner string, field catalog.MetafieldDefinition) ([]string, error) {
	validations := ""
	if len(field.Validations) > 0 {
		encoded, err := json.Marshal(field.Validations)
		if err != nil {
			return nil, fmt.Errorf("encode validations of %s: %w", field.Key, err)
		}
		validations = string(encoded)
	}
	return []string{record, owner, field.Key, field.Type, field.Description, validations}, nil
}

// WriteCSV writes the definitions table.
func WriteCSV(w io.Writer, cat *catalog.Catalog) error {
	rows, err := DefinitionRows(cat)
	if err != nil {
		return err
	}

	csvWriter := csv.NewWriter(w)
	if err := csvWriter.Write(DefinitionHeaders); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := csvWriter.WriteAll(rows); err != nil {
		return fmt.Errorf("write rows: %w", err)
	}
	return nil
}

// WriteWorkbook writes the definitions sheet and, when a virtual schema is
// given, a sheet listing every synthesized metafield field.
func WriteWorkbook(w io.Writer, cat *catalog.Catalog, schema *ast.Schema) error {
	rows, err := DefinitionRows(cat)
	if err != nil {
		return err
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	if err := f.SetSheetName(f.GetSheetName(0), DefinitionsSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if err := writeSheet(f, DefinitionsSheet, DefinitionHeaders, rows, header); err != nil {
		return err
	}

	if schema != nil {
		if _, err := f.NewSheet(VirtualFieldsSheet); err != nil {
			return fmt.Errorf("create sheet: %w", err)
		}
		if err := writeSheet(f, VirtualFieldsSheet, virtualFieldHeaders, VirtualFieldRows(schema), header); err != nil {
			return err
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeSheet(f *excelize.File, sheet string, headers []string, rows [][]string, headerStyle int) error {
	if err := f.SetSheetRow(sheet, "A1", toCells(headers)); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := f.SetRowStyle(sheet, 1, 1, headerStyle); err != nil {
		return fmt.Errorf("style header: %w", err)
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, toCells(row)); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}
	return nil
}

func toCells(values []string) *[]interface{} {
	cells := make([]interface{}, len(values))
	for i, v := range values {
		cells[i] = v
	}
	return &cells
}

// VirtualFieldRows lists every field carrying a metafield directive, sorted
// by typename.
func VirtualFieldRows(schema *ast.Schema) [][]string {
	names := make([]string, 0, len(schema.Types))
	for name := range schema.Types {
		names = append(names, name)
	}
	sort.Strings(names)

	var rows [][]string
	for _, name := range names {
		for _, field := range schema.Types[name].Fields {
			key, ok := composer.DirectiveArgument(field, composer.MetafieldDirective, "key")
			if !ok {
				continue
			}
			tag, _ := composer.DirectiveArgument(field, composer.MetafieldDirective, "type")
			rows = append(rows, []string{name, field.Name, field.Type.String(), key, tag})
		}
	}
	return rows
}

// FileName builds the download name of an export.
func FileName(shop string, format Format, now time.Time) string {
	base := sanitizeFileComponent(shop)
	if base == "" {
		base = "catalog"
	}
	return fmt.Sprintf("%s-%s.%s", base, now.UTC().Format("20060102-150405"), format)
}

func sanitizeFileComponent(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return ""
	}
	builder := strings.Builder{}
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-' || r == '_':
			builder.WriteRune(r)
		default:
			builder.WriteRune('-')
		}
	}
	return strings.Trim(builder.String(), "-")
}
