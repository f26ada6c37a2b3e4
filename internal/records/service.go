// Package records streams, flattens and mutates CRM records: cursor-driven
// listing with best-effort accumulation, per-record user-reference resolution,
// and CRUD passthrough including the deal/contact field split.
package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/velaris-labs/bitrix-manager/backend/internal/bitrix"
	"github.com/velaris-labs/bitrix-manager/backend/internal/users"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultPageDelay    = 20 * time.Millisecond
	defaultResolveLimit = 8

	// EntityDeal carries contact-linked fields merged from the linked contact.
	EntityDeal = "deal"
	// EntityLead carries its own multi-value phone/email arrays.
	EntityLead = "lead"
	// EntityUserfield routes deletes to the userfield endpoint.
	EntityUserfield = "userfield"

	contactIDField = "CONTACT_ID"
)

// ErrNoLinkedContact indicates a deal update touched contact-owned fields but
// the deal has no contact to forward them to.
var ErrNoLinkedContact = errors.New("records: deal has no linked contact")

var errMissingClient = errors.New("records: bitrix client required")
var errMissingResolver = errors.New("records: user resolver required")

// Default selection when the caller names no fields, mirroring what the UI
// tables render.
var defaultSelect = []string{
	"ID", "TITLE", "NAME", "PHONE", "EMAIL", "SOURCE",
	"ASSIGNED_BY_ID", "CREATED_BY_ID", "MODIFY_BY_ID",
}

// Fields owned by the linked contact rather than the deal itself.
var contactOwnedFields = map[string]struct{}{
	"PHONE": {}, "EMAIL": {}, "PHONE_VALUE": {}, "EMAIL_VALUE": {},
	"NAME": {}, "LAST_NAME": {}, "SECOND_NAME": {},
}

// ServiceConfig describes the dependencies for record processing.
type ServiceConfig struct {
	Client       *bitrix.Client
	Resolver     *users.Resolver
	Logger       *zap.Logger
	PageDelay    time.Duration
	Sleep        func(time.Duration)
	ResolveLimit int
}

// Service lists and mutates CRM records for one webhook endpoint.
type Service struct {
	client       *bitrix.Client
	resolver     *users.Resolver
	logger       *zap.Logger
	pageDelay    time.Duration
	sleep        func(time.Duration)
	resolveLimit int
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Client == nil {
		return nil, errMissingClient
	}
	if cfg.Resolver == nil {
		return nil, errMissingResolver
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	pageDelay := cfg.PageDelay
	if pageDelay <= 0 {
		pageDelay = defaultPageDelay
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	resolveLimit := cfg.ResolveLimit
	if resolveLimit <= 0 {
		resolveLimit = defaultResolveLimit
	}

	return &Service{
		client:       cfg.Client,
		resolver:     cfg.Resolver,
		logger:       logger,
		pageDelay:    pageDelay,
		sleep:        sleep,
		resolveLimit: resolveLimit,
	}, nil
}

// ListAll streams every page of crm.{entity}.list, flattening multi-value
// fields and resolving user references per record. Pagination is sequential
// with a fixed inter-page delay; an upstream failure mid-pagination returns
// the rows accumulated so far together with the error, so callers know the
// listing may be truncated.
func (s *Service) ListAll(ctx context.Context, entity string, params url.Values) ([]map[string]any, error) {
	query := url.Values{}
	for key, values := range params {
		query[key] = append([]string(nil), values...)
	}
	if len(query["select[]"]) == 0 {
		query["select[]"] = append([]string(nil), defaultSelect...)
	}

	s.resolver.Preload(ctx)

	var out []map[string]any
	start := 0
	for {
		query.Set("start", strconv.Itoa(start))

		response, err := s.client.Get(ctx, fmt.Sprintf("crm.%s.list", entity), query)
		if err != nil {
			s.logger.Warn("listing truncated by upstream failure",
				zap.String("entity", entity), zap.Int("rows", len(out)), zap.Error(err))
			return out, err
		}
		var batch []map[string]any
		if err := bitrix.Result(response, &batch); err != nil {
			s.logger.Warn("listing truncated by upstream failure",
				zap.String("entity", entity), zap.Int("rows", len(out)), zap.Error(err))
			return out, err
		}

		out = append(out, s.processPage(ctx, entity, batch)...)

		if response.Next == nil {
			return out, nil
		}
		start = *response.Next
		s.sleep(s.pageDelay)
	}
}

// processPage flattens and resolves one page of records. Records are
// independent, so resolution runs in a bounded parallel group; the cache's
// single-key-replace guarantee keeps concurrent lookups safe.
func (s *Service) processPage(ctx context.Context, entity string, batch []map[string]any) []map[string]any {
	processed := make([]map[string]any, len(batch))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.resolveLimit)
	for i, row := range batch {
		group.Go(func() error {
			processed[i] = s.resolver.ResolveReferences(groupCtx, Flatten(row))
			return nil
		})
	}
	_ = group.Wait()

	if entity == EntityDeal {
		for _, row := range processed {
			s.mergeLinkedContact(ctx, row)
		}
	}
	return processed
}

// Get fetches a single record and resolves its user references. A missing
// record surfaces as a fetch-failed error.
func (s *Service) Get(ctx context.Context, entity, id string) (map[string]any, error) {
	query := url.Values{}
	query.Set("id", id)

	response, err := s.client.Get(ctx, fmt.Sprintf("crm.%s.get", entity), query)
	if err != nil {
		return nil, err
	}
	var record map[string]any
	if err := bitrix.Result(response, &record); err != nil {
		return nil, err
	}
	return s.resolver.ResolveReferences(ctx, record), nil
}

// FlattenForEntity applies entity-specific flattening to a fetched record:
// leads flatten their own phone/email arrays, deals merge the linked contact,
// other entities pass through unchanged.
func (s *Service) FlattenForEntity(ctx context.Context, record map[string]any, entity string) map[string]any {
	switch entity {
	case EntityLead:
		return Flatten(record)
	case EntityDeal:
		out := make(map[string]any, len(record))
		for key, value := range record {
			out[key] = value
		}
		s.mergeLinkedContact(ctx, out)
		return out
	default:
		return record
	}
}

// mergeLinkedContact resets a deal's contact-linked fields and, when a
// CONTACT_ID link exists, overwrites them from the contact record. A failing
// contact fetch leaves the defaults in place rather than failing the deal.
func (s *Service) mergeLinkedContact(ctx context.Context, record map[string]any) {
	contactID := scalarString(record[contactIDField])
	resetDealContactFields(record)
	if contactID == "" || contactID == "0" {
		return
	}

	contact, err := s.Get(ctx, "contact", contactID)
	if err != nil {
		s.logger.Warn("linked contact fetch failed",
			zap.String("contact_id", contactID), zap.Error(err))
		return
	}
	mergeContact(record, contact)
}

// Update forwards field changes to crm.{entity}.update. Deal updates split
// contact-owned fields to the linked contact; a deal without a contact cannot
// accept them.
func (s *Service) Update(ctx context.Context, entity, id string, changes map[string]any) (json.RawMessage, error) {
	if entity != EntityDeal {
		return s.updateSingle(ctx, entity, id, changes)
	}

	dealChanges := map[string]any{}
	contactChanges := map[string]any{}
	for key, value := range changes {
		if isContactOwned(key) {
			contactChanges[key] = value
		} else {
			dealChanges[key] = value
		}
	}

	var result json.RawMessage
	if len(dealChanges) > 0 {
		updated, err := s.updateSingle(ctx, EntityDeal, id, dealChanges)
		if err != nil {
			return nil, err
		}
		result = updated
	}

	if len(contactChanges) > 0 {
		deal, err := s.Get(ctx, EntityDeal, id)
		if err != nil {
			return nil, err
		}
		contactID := scalarString(deal[contactIDField])
		if contactID == "" || contactID == "0" {
			return nil, fmt.Errorf("%w: deal %s", ErrNoLinkedContact, id)
		}
		updated, err := s.updateSingle(ctx, "contact", contactID, contactChanges)
		if err != nil {
			return nil, err
		}
		if result == nil {
			result = updated
		}
	}

	if result == nil {
		result = json.RawMessage("true")
	}
	return result, nil
}

func (s *Service) updateSingle(ctx context.Context, entity, id string, changes map[string]any) (json.RawMessage, error) {
	response, err := s.client.Post(ctx, fmt.Sprintf("crm.%s.update", entity), map[string]any{
		"id":     id,
		"fields": changes,
	})
	if err != nil {
		return nil, err
	}
	var result json.RawMessage
	if err := bitrix.Result(response, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// Delete removes a record. The userfield pseudo-entity routes to the lead
// userfield endpoint, which owns CRM-wide custom field definitions.
func (s *Service) Delete(ctx context.Context, entity, id string) (json.RawMessage, error) {
	method := fmt.Sprintf("crm.%s.delete", entity)
	if entity == EntityUserfield {
		method = "crm.lead.userfield.delete"
	}

	response, err := s.client.Post(ctx, method, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	var result json.RawMessage
	if err := bitrix.Result(response, &result); err != nil {
		return nil, err
	}
	return result, nil
}

func isContactOwned(key string) bool {
	if _, owned := contactOwnedFields[key]; owned {
		return true
	}
	return strings.Contains(key, "PHONE") || strings.Contains(key, "EMAIL")
}

func scalarString(value any) string {
	switch typed := value.(type) {
	case string:
		return strings.TrimSpace(typed)
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(typed))
	}
}
