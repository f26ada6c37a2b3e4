// Package users resolves CRM user references to display names through a
// time-bounded bulk cache with a fixed fallback chain.
package users

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/velaris-labs/bitrix-manager/backend/internal/bitrix"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultCacheTTL bounds how long a bulk snapshot is trusted before the
	// next access triggers a refresh.
	DefaultCacheTTL = 5 * time.Minute

	defaultPageDelay = 20 * time.Millisecond

	bulkRefreshKey     = "bulk"
	unassignedSentinel = "0"
	userGetMethod      = "user.get"
)

// User is one CRM user as served by the /users listing; Name is the composite
// first+last form the bulk fetch caches under.
type User struct {
	ID    string `json:"ID"`
	Name  string `json:"NAME"`
	Email string `json:"EMAIL"`
	Login string `json:"LOGIN"`
}

// ResolverConfig describes the dependencies for user resolution. The cache is
// owned by whoever constructs the resolver; sharing it across requests is the
// caller's choice, not a hidden global.
type ResolverConfig struct {
	Client    *bitrix.Client
	Logger    *zap.Logger
	CacheTTL  time.Duration
	Clock     func() time.Time
	PageDelay time.Duration
	Sleep     func(time.Duration)
}

// Resolver maps user identifiers to display names, minimizing network calls
// via a TTL-bounded id→name cache.
type Resolver struct {
	client    *bitrix.Client
	logger    *zap.Logger
	ttl       time.Duration
	now       func() time.Time
	pageDelay time.Duration
	sleep     func(time.Duration)

	mu          sync.RWMutex
	cache       map[string]string
	lastRefresh time.Time

	refreshGroup singleflight.Group
}

var errMissingClient = errors.New("users: bitrix client required")

func NewResolver(cfg ResolverConfig) (*Resolver, error) {
	if cfg.Client == nil {
		return nil, errMissingClient
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	pageDelay := cfg.PageDelay
	if pageDelay <= 0 {
		pageDelay = defaultPageDelay
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	return &Resolver{
		client:    cfg.Client,
		logger:    logger,
		ttl:       ttl,
		now:       clock,
		pageDelay: pageDelay,
		sleep:     sleep,
		cache:     make(map[string]string),
	}, nil
}

// displayName applies the fallback chain: full name, email, login, raw id.
// Never empty for a non-empty id.
func displayName(first, last, email, login, id string) string {
	full := strings.TrimSpace(strings.TrimSpace(first) + " " + strings.TrimSpace(last))
	if full != "" {
		return full
	}
	if email = strings.TrimSpace(email); email != "" {
		return email
	}
	if login = strings.TrimSpace(login); login != "" {
		return login
	}
	return id
}

// ResolveOne maps a user id to a display name. An empty id is valid CRM state
// and resolves to an empty string with no network call. Failures degrade to
// the raw id; resolution never aborts record processing.
func (r *Resolver) ResolveOne(ctx context.Context, userID string) string {
	id := strings.TrimSpace(userID)
	if id == "" {
		return ""
	}

	if name, hit := r.lookup(id); hit {
		return name
	}

	if r.cacheStale() {
		r.refresh(ctx)
		if name, hit := r.lookup(id); hit {
			return name
		}
	}

	return r.resolveSingle(ctx, id)
}

// Preload warms the cache with one bulk fetch when it is empty or stale.
// Idempotent; concurrent callers share a single in-flight refresh.
func (r *Resolver) Preload(ctx context.Context) {
	if !r.cacheStale() {
		return
	}
	r.refresh(ctx)
}

func (r *Resolver) lookup(id string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, hit := r.cache[id]
	return name, hit
}

func (r *Resolver) cacheStale() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache) == 0 || r.now().Sub(r.lastRefresh) > r.ttl
}

// refresh performs the bulk fetch exactly once across concurrent callers and
// replaces cache entries key by key, so readers always observe either the old
// or the new value for any single id.
func (r *Resolver) refresh(ctx context.Context) {
	r.refreshGroup.Do(bulkRefreshKey, func() (any, error) { //nolint:errcheck
		fetched, err := r.fetchAll(ctx)
		if err != nil {
			r.logger.Warn("bulk user fetch failed, keeping existing cache", zap.Error(err))
		}

		r.mu.Lock()
		defer r.mu.Unlock()
		for _, user := range fetched {
			if user.ID == "" {
				continue
			}
			r.cache[user.ID] = displayName(user.Name, "", user.Email, user.Login, user.ID)
		}
		r.lastRefresh = r.now()
		return nil, nil
	})
}

type rawUser struct {
	ID       json.RawMessage `json:"ID"`
	Name     string          `json:"NAME"`
	LastName string          `json:"LAST_NAME"`
	Email    json.RawMessage `json:"EMAIL"`
	Login    string          `json:"LOGIN"`
}

func (u rawUser) id() string {
	return rawScalar(u.ID)
}

func (u rawUser) email() string {
	return rawScalar(u.Email)
}

// rawScalar reads a field the portal serves as either a string or a number.
func rawScalar(raw json.RawMessage) string {
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

// fetchAll paginates user.get by the start cursor, concatenating first and
// last names into the composite cached form. A mid-pagination failure returns
// the pages accumulated so far.
func (r *Resolver) fetchAll(ctx context.Context) ([]User, error) {
	var out []User
	start := 0
	for {
		query := url.Values{}
		query.Set("start", strconv.Itoa(start))

		response, err := r.client.Get(ctx, userGetMethod, query)
		if err != nil {
			return out, err
		}
		var batch []rawUser
		if err := bitrix.Result(response, &batch); err != nil {
			return out, err
		}

		for _, user := range batch {
			out = append(out, User{
				ID:    user.id(),
				Name:  strings.TrimSpace(user.Name + " " + user.LastName),
				Email: user.email(),
				Login: user.Login,
			})
		}

		if response.Next == nil {
			return out, nil
		}
		start = *response.Next
		r.sleep(r.pageDelay)
	}
}

// All returns the full user listing for selection dialogs.
func (r *Resolver) All(ctx context.Context) ([]User, error) {
	return r.fetchAll(ctx)
}

// resolveSingle fetches one user by id as a last resort, caching the result.
// Any failure degrades to the raw id.
func (r *Resolver) resolveSingle(ctx context.Context, id string) string {
	query := url.Values{}
	query.Set("ID", id)

	response, err := r.client.Get(ctx, userGetMethod, query)
	if err != nil {
		return id
	}

	var user rawUser
	var batch []rawUser
	if err := bitrix.Result(response, &batch); err == nil {
		if len(batch) == 0 {
			return id
		}
		user = batch[0]
	} else if err := bitrix.Result(response, &user); err != nil {
		return id
	}

	name := displayName(user.Name, user.LastName, user.email(), user.Login, id)

	r.mu.Lock()
	r.cache[id] = name
	r.mu.Unlock()
	return name
}

// Exact reference-field names seen across leads, deals and contacts.
var referenceFieldNames = map[string]struct{}{
	"CREATED_BY":     {},
	"CREATED_BY_ID":  {},
	"MODIFIED_BY":    {},
	"MODIFIED_BY_ID": {},
	"ASSIGNED_BY_ID": {},
	"ASSIGNED_BY":    {},
	"RESPONSIBLE_ID": {},
	"RESPONSIBLE_BY": {},
	"MODIFY_BY":      {},
	"MODIFY_BY_ID":   {},
}

// IsReferenceField reports whether a field name holds a user reference. The
// suffix/substring rules are heuristic and can match fields like COMPANY_BY;
// downstream consumers depend on the current behavior, so it stays as is.
func IsReferenceField(name string) bool {
	upper := strings.ToUpper(name)
	if _, known := referenceFieldNames[upper]; known {
		return true
	}
	if strings.HasSuffix(upper, "_BY") || strings.HasSuffix(upper, "_BY_ID") {
		return true
	}
	if strings.HasSuffix(upper, "_ID") {
		for _, marker := range []string{"BY", "RESPONS", "ASSIGN"} {
			if strings.Contains(upper, marker) {
				return true
			}
		}
	}
	return false
}

// ResolveReferences replaces every user-reference field in a record with a
// display name. Embedded user data is preferred over a network round trip;
// fields that cannot be resolved keep their original values. Failures are
// isolated per field.
func (r *Resolver) ResolveReferences(ctx context.Context, record map[string]any) map[string]any {
	if record == nil {
		return nil
	}

	out := make(map[string]any, len(record))
	for key, value := range record {
		out[key] = value
	}

	for key, value := range out {
		if !IsReferenceField(key) {
			continue
		}
		if value == nil || value == "" {
			continue
		}

		parsed := ParseReferenceValue(value)
		if parsed.Embedded != nil {
			if name := parsed.Embedded.DisplayName(); name != "" {
				out[key] = name
				continue
			}
		}
		if parsed.ID == "" || parsed.ID == unassignedSentinel {
			continue
		}
		out[key] = r.ResolveOne(ctx, parsed.ID)
	}
	return out
}
