package records

// Multi-value fields reduced to scalar VALUE/TYPE pairs.
var multiValueFields = []string{"PHONE", "EMAIL"}

// Flatten reduces PHONE/EMAIL arrays to {FIELD}_VALUE and {FIELD}_TYPE scalars
// taken from the first element, empty strings when the array is absent or
// empty. The input record is not modified.
func Flatten(record map[string]any) map[string]any {
	out := make(map[string]any, len(record)+2*len(multiValueFields))
	for key, value := range record {
		out[key] = value
	}
	for _, field := range multiValueFields {
		value, valueType := firstMultiValue(out[field])
		out[field+"_VALUE"] = value
		out[field+"_TYPE"] = valueType
	}
	return out
}

func firstMultiValue(raw any) (string, string) {
	entries, ok := raw.([]any)
	if !ok || len(entries) == 0 {
		return "", ""
	}
	first, ok := entries[0].(map[string]any)
	if !ok {
		return "", ""
	}
	value, _ := first["VALUE"].(string)
	valueType, _ := first["VALUE_TYPE"].(string)
	return value, valueType
}

// Contact-owned fields on a deal, reset before the linked contact is merged.
var dealContactDefaults = map[string]any{
	"PHONE":       []any{},
	"EMAIL":       []any{},
	"PHONE_VALUE": "",
	"PHONE_TYPE":  "",
	"EMAIL_VALUE": "",
	"EMAIL_TYPE":  "",
	"NAME":        "",
	"LAST_NAME":   "",
}

// resetDealContactFields initializes the contact-linked fields of a deal to
// empty defaults; mergeContact overwrites them when a linked contact exists.
func resetDealContactFields(record map[string]any) {
	for key, value := range dealContactDefaults {
		record[key] = value
	}
}

// mergeContact overwrites a deal's contact-linked fields with data from the
// linked contact record, including flattened phone/email scalars.
func mergeContact(record, contact map[string]any) {
	if name, ok := contact["NAME"].(string); ok {
		record["NAME"] = name
	}
	if lastName, ok := contact["LAST_NAME"].(string); ok {
		record["LAST_NAME"] = lastName
	}
	for _, field := range multiValueFields {
		if entries, ok := contact[field].([]any); ok {
			record[field] = entries
		}
		value, valueType := firstMultiValue(contact[field])
		record[field+"_VALUE"] = value
		record[field+"_TYPE"] = valueType
	}
}
