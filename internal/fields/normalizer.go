// Package fields normalizes Bitrix field metadata into stable code/label/type
// tables and derives the duplicate-label view used by the cleanup workflow.
package fields

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Label priority inside a structured descriptor.
var labelKeys = []string{"listLabel", "formLabel", "filterLabel", "title"}

const (
	typeKey     = "type"
	itemsKey    = "items"
	defaultType = "string"

	// TypeUser marks fields whose values are user references; downstream
	// consumers key off it to trigger resolution.
	TypeUser = "user"
	// TypeEnumeration marks fields carrying an allowed-values table.
	TypeEnumeration = "enumeration"
)

// Index is the normalizer output: CodeToLabel is total over the input codes,
// LabelToCode keeps the first code (in source order) that produced each label.
// Codes preserves the source iteration order for deterministic downstream views.
type Index struct {
	Codes       []string
	CodeToLabel map[string]string
	LabelToCode map[string]string
	CodeToType  map[string]string
	Enums       map[string]map[string]string
}

// RawField is one field definition in source order; the descriptor is either a
// structured object or a bare label value.
type RawField struct {
	Code       string
	Descriptor any
}

var errNotAnObject = errors.New("fields: metadata result is not an object")

// DecodeOrdered walks the raw metadata object with a token decoder so the
// source key order survives; plain map decoding would randomize it and break
// first-seen-wins collision handling.
func DecodeOrdered(raw json.RawMessage) ([]RawField, error) {
	decoder := json.NewDecoder(bytes.NewReader(raw))

	opening, err := decoder.Token()
	if err != nil {
		return nil, fmt.Errorf("fields: %w", err)
	}
	if delim, ok := opening.(json.Delim); !ok || delim != '{' {
		return nil, errNotAnObject
	}

	var out []RawField
	for decoder.More() {
		keyToken, err := decoder.Token()
		if err != nil {
			return nil, fmt.Errorf("fields: %w", err)
		}
		code, ok := keyToken.(string)
		if !ok {
			return nil, errNotAnObject
		}

		var descriptor any
		if err := decoder.Decode(&descriptor); err != nil {
			return nil, fmt.Errorf("fields: descriptor for %s: %w", code, err)
		}
		out = append(out, RawField{Code: code, Descriptor: descriptor})
	}
	return out, nil
}

// DeriveLabel produces the display label for one field code. Pure: the result
// depends only on the arguments, which keeps duplicate detection stable.
func DeriveLabel(code string, descriptor any) string {
	structured, ok := descriptor.(map[string]any)
	if !ok {
		return bareLabel(code, descriptor)
	}

	label := ""
	for _, key := range labelKeys {
		if candidate, ok := structured[key].(string); ok {
			if trimmed := strings.TrimSpace(candidate); trimmed != "" {
				label = trimmed
				break
			}
		}
	}

	// An empty label, or a label that merely echoes the code (Bitrix wraps
	// unnamed custom fields in pseudo-labels like "UF_CRM_1234..."), falls
	// back to the raw code.
	if label == "" || strings.HasPrefix(strings.ToUpper(label), strings.ToUpper(code)) {
		return code
	}
	return label
}

func bareLabel(code string, descriptor any) string {
	switch value := descriptor.(type) {
	case nil:
		return code
	case string:
		if value == "" {
			return code
		}
		return value
	default:
		return fmt.Sprint(value)
	}
}

// DeriveType reads the descriptor's type tag verbatim, defaulting to string.
func DeriveType(descriptor any) string {
	structured, ok := descriptor.(map[string]any)
	if !ok {
		return defaultType
	}
	if tag, ok := structured[typeKey].(string); ok && tag != "" {
		return tag
	}
	return defaultType
}

// DeriveEnum extracts the id→value table from an enumeration descriptor.
// Items missing either half are skipped; an empty table is reported as absent.
func DeriveEnum(descriptor any) map[string]string {
	structured, ok := descriptor.(map[string]any)
	if !ok {
		return nil
	}
	items, ok := structured[itemsKey].([]any)
	if !ok {
		return nil
	}

	table := make(map[string]string)
	for _, item := range items {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id, hasID := entry["ID"]
		value, hasValue := entry["VALUE"]
		if !hasID || id == nil || !hasValue || value == nil {
			continue
		}
		table[stringify(id)] = stringify(value)
	}
	if len(table) == 0 {
		return nil
	}
	return table
}

// Normalize builds the full index from ordered raw definitions and applies the
// baseline PHONE/EMAIL/SOURCE defaults for schemas that omit them.
func Normalize(rawFields []RawField) Index {
	index := Index{
		CodeToLabel: make(map[string]string, len(rawFields)),
		LabelToCode: make(map[string]string, len(rawFields)),
		CodeToType:  make(map[string]string, len(rawFields)),
		Enums:       make(map[string]map[string]string),
	}

	for _, field := range rawFields {
		label := DeriveLabel(field.Code, field.Descriptor)
		fieldType := DeriveType(field.Descriptor)

		index.Codes = append(index.Codes, field.Code)
		index.CodeToLabel[field.Code] = label
		if _, taken := index.LabelToCode[label]; !taken {
			index.LabelToCode[label] = field.Code
		}
		index.CodeToType[field.Code] = fieldType

		if fieldType == TypeEnumeration {
			if table := DeriveEnum(field.Descriptor); table != nil {
				index.Enums[field.Code] = table
			}
		}
	}

	applyDefaults(&index)
	return index
}

var defaultLabels = []struct {
	Code  string
	Label string
}{
	{"PHONE", "Phone"},
	{"EMAIL", "Email"},
	{"SOURCE", "Source"},
}

func applyDefaults(index *Index) {
	for _, entry := range defaultLabels {
		if _, present := index.CodeToLabel[entry.Code]; !present {
			index.Codes = append(index.Codes, entry.Code)
			index.CodeToLabel[entry.Code] = entry.Label
		}
		if _, present := index.LabelToCode[entry.Label]; !present {
			index.LabelToCode[entry.Label] = entry.Code
		}
	}
	for _, code := range []string{"PHONE", "EMAIL"} {
		if _, present := index.CodeToType[code]; !present {
			index.CodeToType[code] = defaultType
		}
	}
}

// DuplicateField is one member of a shared-label group.
type DuplicateField struct {
	Code   string   `json:"code"`
	Label  string   `json:"label"`
	Type   string   `json:"type"`
	ID     string   `json:"id"`
	Values []string `json:"values"`
}

// DuplicateGroup collects every code that resolved to the same label.
type DuplicateGroup struct {
	Label  string           `json:"label"`
	Fields []DuplicateField `json:"fields"`
}

// Duplicates derives the shared-label view: groups of two or more codes whose
// labels collide, in source order. External ids and userfield enum lists come
// from the userfield lookup when present, the normalizer's own table otherwise.
func Duplicates(index Index, userfields map[string]Userfield) []DuplicateGroup {
	groupedCodes := make(map[string][]string)
	var labelOrder []string
	for _, code := range index.Codes {
		label := index.CodeToLabel[code]
		if _, seen := groupedCodes[label]; !seen {
			labelOrder = append(labelOrder, label)
		}
		groupedCodes[label] = append(groupedCodes[label], code)
	}

	var groups []DuplicateGroup
	for _, label := range labelOrder {
		codes := groupedCodes[label]
		if len(codes) < 2 {
			continue
		}
		group := DuplicateGroup{Label: label}
		for _, code := range codes {
			member := DuplicateField{
				Code:  code,
				Label: label,
				Type:  index.CodeToType[code],
			}
			if userField, known := userfields[code]; known {
				member.ID = userField.ID
				member.Values = userField.Enum
			}
			if len(member.Values) == 0 {
				member.Values = enumValues(index.Enums[code])
			}
			group.Fields = append(group.Fields, member)
		}
		groups = append(groups, group)
	}
	return groups
}

func enumValues(table map[string]string) []string {
	if len(table) == 0 {
		return nil
	}
	values := make([]string, 0, len(table))
	for _, value := range table {
		values = append(values, value)
	}
	sort.Strings(values)
	return values
}

func stringify(value any) string {
	switch typed := value.(type) {
	case string:
		return typed
	case float64:
		// JSON numbers decode to float64; ids are integral in practice.
		return strconv.FormatFloat(typed, 'f', -1, 64)
	default:
		return fmt.Sprint(typed)
	}
}
