package users

import (
	"strconv"
	"strings"
)

// ReferenceValue is the parsed form of a user-reference field value. The CRM
// sends either a bare identifier or an inlined user sub-object; the decision is
// made once here, at the parse boundary, instead of being re-sniffed at every
// consumption site.
type ReferenceValue struct {
	// ID is the raw identifier, empty when the value carried none.
	ID string
	// Embedded is set when the value was a sub-object with display data.
	Embedded *EmbeddedUser
}

// EmbeddedUser is user display data inlined into a record by the CRM.
type EmbeddedUser struct {
	FirstName string
	LastName  string
	Email     string
	Login     string
	ID        string
}

// DisplayName applies the fallback chain to embedded data only; an empty
// result means the sub-object carried no display fields and the id must be
// resolved over the network.
func (u *EmbeddedUser) DisplayName() string {
	full := strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
	if full != "" {
		return full
	}
	if u.Email != "" {
		return u.Email
	}
	if u.Login != "" {
		return u.Login
	}
	return ""
}

// ParseReferenceValue classifies a raw field value as an id or an embedded
// user sub-object. Unrecognized shapes degrade to an empty reference.
func ParseReferenceValue(value any) ReferenceValue {
	switch typed := value.(type) {
	case nil:
		return ReferenceValue{}
	case string:
		return ReferenceValue{ID: strings.TrimSpace(typed)}
	case float64:
		return ReferenceValue{ID: strconv.FormatFloat(typed, 'f', -1, 64)}
	case int:
		return ReferenceValue{ID: strconv.Itoa(typed)}
	case map[string]any:
		embedded := &EmbeddedUser{
			FirstName: pickString(typed, "NAME", "name"),
			LastName:  pickString(typed, "LAST_NAME", "last_name"),
			Email:     embeddedEmail(typed),
			Login:     pickString(typed, "LOGIN", "login"),
			ID:        pickID(typed),
		}
		return ReferenceValue{ID: embedded.ID, Embedded: embedded}
	default:
		return ReferenceValue{}
	}
}

func pickString(object map[string]any, keys ...string) string {
	for _, key := range keys {
		if value, ok := object[key].(string); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

func pickID(object map[string]any) string {
	for _, key := range []string{"ID", "id"} {
		if raw, present := object[key]; present {
			parsed := ParseReferenceValue(raw)
			if parsed.Embedded == nil && parsed.ID != "" {
				return parsed.ID
			}
		}
	}
	return ""
}

// embeddedEmail handles the three shapes EMAIL arrives in: a string, a list of
// strings, or a list of {VALUE} objects.
func embeddedEmail(object map[string]any) string {
	for _, key := range []string{"EMAIL", "email"} {
		switch typed := object[key].(type) {
		case string:
			if strings.TrimSpace(typed) != "" {
				return strings.TrimSpace(typed)
			}
		case []any:
			if len(typed) == 0 {
				continue
			}
			switch first := typed[0].(type) {
			case string:
				return strings.TrimSpace(first)
			case map[string]any:
				if value, ok := first["VALUE"].(string); ok {
					return strings.TrimSpace(value)
				}
			}
		}
	}
	return ""
}
