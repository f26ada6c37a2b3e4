package fields

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/velaris-labs/bitrix-manager/backend/internal/bitrix"
	"go.uber.org/zap"
)

// Userfield is one CRM custom field from crm.{entity}.userfield.list, carrying
// the external id attached to duplicate-view members and the catalog.
type Userfield struct {
	ID     string   `json:"id"`
	Code   string   `json:"code"`
	Label  string   `json:"label"`
	TypeID string   `json:"type"`
	Enum   []string `json:"list"`
}

// Catalog is the complete fields-endpoint payload for one entity.
type Catalog struct {
	Index
	CodeToID map[string]string
}

// ServiceConfig describes the dependencies for field metadata access.
type ServiceConfig struct {
	Client *bitrix.Client
	Logger *zap.Logger
}

// Service fetches and normalizes field metadata for CRM entities.
type Service struct {
	client *bitrix.Client
	logger *zap.Logger
}

var errMissingClient = errors.New("fields: bitrix client required")

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Client == nil {
		return nil, errMissingClient
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{client: cfg.Client, logger: logger}, nil
}

// Definitions fetches and normalizes the field metadata for an entity.
// A missing schema is a hard failure; there is no safe default for it.
func (s *Service) Definitions(ctx context.Context, entity string) (Index, error) {
	response, err := s.client.Get(ctx, fmt.Sprintf("crm.%s.fields", entity), nil)
	if err != nil {
		return Index{}, err
	}

	var raw json.RawMessage
	if err := bitrix.Result(response, &raw); err != nil {
		return Index{}, err
	}

	rawFields, err := DecodeOrdered(raw)
	if err != nil {
		return Index{}, err
	}
	return Normalize(rawFields), nil
}

type rawUserfield struct {
	ID              json.RawMessage `json:"ID"`
	FieldName       string          `json:"FIELD_NAME"`
	EditFormLabel   string          `json:"EDIT_FORM_LABEL"`
	ListColumnLabel string          `json:"LIST_COLUMN_LABEL"`
	UserTypeID      string          `json:"USER_TYPE_ID"`
	List            []struct {
		Value string `json:"VALUE"`
	} `json:"LIST"`
}

// Userfields fetches the custom-field list for an entity.
func (s *Service) Userfields(ctx context.Context, entity string) ([]Userfield, error) {
	response, err := s.client.Get(ctx, fmt.Sprintf("crm.%s.userfield.list", entity), nil)
	if err != nil {
		return nil, err
	}

	var raw []rawUserfield
	if err := bitrix.Result(response, &raw); err != nil {
		return nil, err
	}

	out := make([]Userfield, 0, len(raw))
	for _, entry := range raw {
		field := Userfield{
			ID:     rawString(entry.ID),
			Code:   entry.FieldName,
			TypeID: entry.UserTypeID,
		}
		switch {
		case entry.EditFormLabel != "":
			field.Label = entry.EditFormLabel
		case entry.ListColumnLabel != "":
			field.Label = entry.ListColumnLabel
		default:
			field.Label = entry.FieldName
		}
		for _, item := range entry.List {
			field.Enum = append(field.Enum, item.Value)
		}
		out = append(out, field)
	}
	return out, nil
}

// UserfieldsByCode indexes the custom-field list by field code.
func UserfieldsByCode(userfields []Userfield) map[string]Userfield {
	indexed := make(map[string]Userfield, len(userfields))
	for _, field := range userfields {
		indexed[field.Code] = field
	}
	return indexed
}

// DuplicateGroups builds the shared-label view for an entity. A failing
// userfield lookup degrades to groups without external ids; a failing
// metadata fetch propagates.
func (s *Service) DuplicateGroups(ctx context.Context, entity string) ([]DuplicateGroup, error) {
	index, err := s.Definitions(ctx, entity)
	if err != nil {
		return nil, err
	}

	userfields, err := s.Userfields(ctx, entity)
	if err != nil {
		s.logger.Warn("userfield lookup failed, duplicate view will lack external ids",
			zap.String("entity", entity), zap.Error(err))
		userfields = nil
	}

	return Duplicates(index, UserfieldsByCode(userfields)), nil
}

// Contact-linked extras surfaced on deal catalogs; the listing path fills these
// from the linked contact record.
var dealContactFields = []struct {
	Code  string
	Label string
	Type  string
}{
	{"NAME", "Contact Name (First)", "string"},
	{"LAST_NAME", "Contact Last Name", "string"},
	{"PHONE", "Contact Phone", "phone"},
	{"EMAIL", "Contact Email", "email"},
	{"PHONE_VALUE", "Contact Phone (Value)", "string"},
	{"EMAIL_VALUE", "Contact Email (Value)", "string"},
}

// FlattenedFieldLabels are the scalar columns produced by phone/email
// flattening, appended to every catalog and export template.
var FlattenedFieldLabels = []struct {
	Code  string
	Label string
}{
	{"PHONE_VALUE", "Phone"},
	{"PHONE_TYPE", "Phone Type"},
	{"EMAIL_VALUE", "Email"},
	{"EMAIL_TYPE", "Email Type"},
}

// Catalog composes the full fields payload: normalized index, code→external-id
// map, deal contact extras, and the flattened scalar columns.
func (s *Service) Catalog(ctx context.Context, entity string) (Catalog, error) {
	index, err := s.Definitions(ctx, entity)
	if err != nil {
		return Catalog{}, err
	}

	idByCode := map[string]string{}
	if userfields, err := s.Userfields(ctx, entity); err == nil {
		for _, field := range userfields {
			idByCode[field.Code] = field.ID
		}
	} else {
		s.logger.Warn("userfield lookup failed, catalog will lack external ids",
			zap.String("entity", entity), zap.Error(err))
	}

	catalog := Catalog{Index: index, CodeToID: make(map[string]string, len(index.Codes))}
	for _, code := range index.Codes {
		catalog.CodeToID[code] = idByCode[code]
	}

	if entity == "deal" {
		for _, extra := range dealContactFields {
			if _, present := catalog.CodeToLabel[extra.Code]; present {
				continue
			}
			catalog.Codes = append(catalog.Codes, extra.Code)
			catalog.CodeToLabel[extra.Code] = extra.Label
			catalog.LabelToCode[extra.Label] = extra.Code
			catalog.CodeToType[extra.Code] = extra.Type
			catalog.CodeToID[extra.Code] = idByCode[extra.Code]
		}
	}

	for _, flattened := range FlattenedFieldLabels {
		if _, present := catalog.CodeToLabel[flattened.Code]; !present {
			catalog.Codes = append(catalog.Codes, flattened.Code)
		}
		catalog.CodeToLabel[flattened.Code] = flattened.Label
		catalog.LabelToCode[flattened.Label] = flattened.Code
		catalog.CodeToType[flattened.Code] = "string"
		catalog.CodeToID[flattened.Code] = idByCode[flattened.Code]
	}

	return catalog, nil
}

func rawString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString
	}
	var asNumber json.Number
	if err := json.Unmarshal(raw, &asNumber); err == nil {
		return asNumber.String()
	}
	return ""
}
