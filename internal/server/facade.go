package server

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/velaris-labs/bitrix-manager/backend/internal/bitrix"
	"github.com/velaris-labs/bitrix-manager/backend/internal/fields"
	"github.com/velaris-labs/bitrix-manager/backend/internal/records"
	"github.com/velaris-labs/bitrix-manager/backend/internal/users"
	"go.uber.org/zap"
)

var errMissingBase = errors.New("server: webhook base URL required")

// facade bundles the per-endpoint services a handler needs for one request.
type facade struct {
	client   *bitrix.Client
	fields   *fields.Service
	records  *records.Service
	resolver *users.Resolver
}

// facadeRegistry builds request facades. The user resolver and its cache are
// shared per webhook base URL so repeated requests against the same portal
// reuse one warm cache; the surrounding services are cheap and rebuilt each
// time.
type facadeRegistry struct {
	logger    *zap.Logger
	timeout   time.Duration
	cacheTTL  time.Duration
	pageDelay time.Duration

	mu        sync.Mutex
	resolvers map[string]*users.Resolver
}

func newFacadeRegistry(logger *zap.Logger, timeout, cacheTTL, pageDelay time.Duration) *facadeRegistry {
	return &facadeRegistry{
		logger:    logger,
		timeout:   timeout,
		cacheTTL:  cacheTTL,
		pageDelay: pageDelay,
		resolvers: make(map[string]*users.Resolver),
	}
}

func (r *facadeRegistry) facadeFor(baseURL string) (*facade, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errMissingBase
	}

	client, err := bitrix.NewClient(bitrix.ClientConfig{
		BaseURL: baseURL,
		Timeout: r.timeout,
		Logger:  r.logger,
	})
	if err != nil {
		return nil, err
	}

	resolver, err := r.resolverFor(client)
	if err != nil {
		return nil, err
	}

	fieldsService, err := fields.NewService(fields.ServiceConfig{
		Client: client,
		Logger: r.logger,
	})
	if err != nil {
		return nil, err
	}

	recordsService, err := records.NewService(records.ServiceConfig{
		Client:    client,
		Resolver:  resolver,
		Logger:    r.logger,
		PageDelay: r.pageDelay,
	})
	if err != nil {
		return nil, err
	}

	return &facade{
		client:   client,
		fields:   fieldsService,
		records:  recordsService,
		resolver: resolver,
	}, nil
}

func (r *facadeRegistry) resolverFor(client *bitrix.Client) (*users.Resolver, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if resolver, known := r.resolvers[client.BaseURL()]; known {
		return resolver, nil
	}

	resolver, err := users.NewResolver(users.ResolverConfig{
		Client:   client,
		Logger:   r.logger,
		CacheTTL: r.cacheTTL,
	})
	if err != nil {
		return nil, err
	}
	r.resolvers[client.BaseURL()] = resolver
	return resolver, nil
}
