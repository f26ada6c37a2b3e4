// Package export renders entity field catalogs as Excel upload templates and
// reads identifier columns back out of uploaded workbooks.
package export

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/velaris-labs/bitrix-manager/backend/internal/fields"
	"github.com/xuri/excelize/v2"
)

// ContentType is the MIME type of generated workbooks.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var errNoFieldsSelected = errors.New("export: no fields selected")

// Extra contact columns appended to deal templates.
var dealExtraLabels = []struct {
	Code  string
	Label string
}{
	{"NAME", "Contact First Name"},
	{"LAST_NAME", "Contact Last Name"},
}

// Template renders the full upload template for an entity: row one carries
// every field label, row two the comma-joined enumeration values aligned under
// their columns.
func Template(catalog fields.Catalog, entity string) ([]byte, error) {
	codes := append([]string(nil), catalog.Codes...)
	if entity == "deal" {
		for _, extra := range dealExtraLabels {
			if _, present := catalog.CodeToLabel[extra.Code]; !present {
				codes = append(codes, extra.Code)
			}
		}
	}

	labels := make([]string, 0, len(codes))
	for _, code := range codes {
		labels = append(labels, labelFor(catalog, entity, code))
	}

	return renderSheet(fmt.Sprintf("%s Template", strings.ToUpper(entity)), labels, enumRow(catalog.Index, codes))
}

// CustomTemplate renders a template restricted to the selected field codes; an
// unknown code falls back to itself as the column label.
func CustomTemplate(catalog fields.Catalog, entity string, codes []string) ([]byte, error) {
	if len(codes) == 0 {
		return nil, errNoFieldsSelected
	}

	labels := make([]string, 0, len(codes))
	for _, code := range codes {
		label, known := catalog.CodeToLabel[code]
		if !known {
			label = code
		}
		labels = append(labels, label)
	}

	return renderSheet(fmt.Sprintf("%s Custom Template", strings.ToUpper(entity)), labels, enumRow(catalog.Index, codes))
}

func labelFor(catalog fields.Catalog, entity, code string) string {
	if entity == "deal" {
		for _, extra := range dealExtraLabels {
			if extra.Code == code {
				if _, present := catalog.CodeToLabel[code]; !present {
					return extra.Label
				}
			}
		}
	}
	if label, known := catalog.CodeToLabel[code]; known {
		return label
	}
	return code
}

func enumRow(index fields.Index, codes []string) []string {
	row := make([]string, 0, len(codes))
	for _, code := range codes {
		table := index.Enums[code]
		if len(table) == 0 {
			row = append(row, "")
			continue
		}
		values := make([]string, 0, len(table))
		for _, value := range table {
			values = append(values, value)
		}
		sort.Strings(values)
		row = append(row, strings.Join(values, ", "))
	}
	return row
}

func renderSheet(title string, labels, enums []string) ([]byte, error) {
	workbook := excelize.NewFile()
	defer workbook.Close() //nolint:errcheck

	sheet := workbook.GetSheetName(0)
	if err := workbook.SetSheetName(sheet, title); err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}

	if err := workbook.SetSheetRow(title, "A1", &labels); err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	if err := workbook.SetSheetRow(title, "A2", &enums); err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}

	var buffer bytes.Buffer
	if err := workbook.Write(&buffer); err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	return buffer.Bytes(), nil
}

// Column headings recognized as record identifiers in uploaded files.
var idHeadings = map[string]struct{}{
	"ID": {}, "LEAD ID": {}, "DEAL ID": {}, "ITEM ID": {}, "RECORD ID": {},
}

var errEmptyUpload = errors.New("export: uploaded file contains no rows")

// ExtractIDs reads record identifiers from an uploaded workbook or CSV. The
// identifier column is found by heading, falling back to the first column.
func ExtractIDs(reader io.Reader, filename string) ([]string, error) {
	lower := strings.ToLower(filename)
	if strings.HasSuffix(lower, ".xlsx") || strings.HasSuffix(lower, ".xls") {
		return extractFromWorkbook(reader)
	}
	return extractFromCSV(reader)
}

func extractFromWorkbook(reader io.Reader) ([]string, error) {
	workbook, err := excelize.OpenReader(reader)
	if err != nil {
		return nil, fmt.Errorf("export: could not parse workbook: %w", err)
	}
	defer workbook.Close() //nolint:errcheck

	rows, err := workbook.GetRows(workbook.GetSheetName(0))
	if err != nil {
		return nil, fmt.Errorf("export: could not read sheet: %w", err)
	}
	return idsFromRows(rows)
}

func extractFromCSV(reader io.Reader) ([]string, error) {
	csvReader := csv.NewReader(reader)
	csvReader.FieldsPerRecord = -1
	rows, err := csvReader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("export: could not parse CSV: %w", err)
	}
	return idsFromRows(rows)
}

func idsFromRows(rows [][]string) ([]string, error) {
	if len(rows) == 0 {
		return nil, errEmptyUpload
	}

	idColumn := 0
	for column, heading := range rows[0] {
		if _, known := idHeadings[strings.ToUpper(strings.TrimSpace(heading))]; known {
			idColumn = column
			break
		}
	}

	var ids []string
	for _, row := range rows[1:] {
		if idColumn >= len(row) {
			continue
		}
		if id := strings.TrimSpace(row[idColumn]); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, errEmptyUpload
	}
	return ids, nil
}
