// Package fetch retrieves every item of a catalog namespace.
//
// A namespace is fetched in stages:
//
//	listing            page through the primary item listing
//	fallback-offers    first page empty: read the namespace's offers instead
//	item-resolution    fetch each item the offers point at
//	hidden-resolution  add items only reachable through offer sub-items
//
// Remote calls go through a Getter, normally a retry policy, and are issued
// one at a time with fixed pauses between them.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/egdb/catalog-mirror/internal/catalog/schema"
	"github.com/egdb/catalog-mirror/internal/remote"
)

// ErrNoNamespaceIndex is returned when hidden-item resolution runs without a
// namespace → offer index.
var ErrNoNamespaceIndex = errors.New("no namespace index")

// Getter fetches a URL. A nil body with a nil error means not found.
type Getter interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

// Stage names a step of namespace processing.
type Stage string

// Fetch stages, in the order they can occur.
const (
	StageListing          Stage = "listing"
	StageFallbackOffers   Stage = "fallback-offers"
	StageItemResolution   Stage = "item-resolution"
	StageHiddenResolution Stage = "hidden-resolution"
)

// StageFunc observes stage transitions.
type StageFunc func(ns string, stage Stage)

// Pacing holds the mandatory pauses between remote calls.
type Pacing struct {
	PageDelay  time.Duration
	ItemDelay  time.Duration
	OfferDelay time.Duration
}

// DefaultPacing pauses one second between pages, items and offers.
func DefaultPacing() Pacing {
	return Pacing{PageDelay: time.Second, ItemDelay: time.Second, OfferDelay: time.Second}
}

// Config configures a Fetcher.
type Config struct {
	Endpoints Endpoints
	PageSize  int
	Pacing    Pacing

	// Index maps namespaces to offer ids for hidden-item resolution.
	Index map[string][]string

	// Offers is shared across fetchers so a namespace's offers are read once per process.
	Offers *OffersCache

	Sleep   remote.Sleeper
	OnStage StageFunc
}

// Fetcher retrieves the items of a namespace.
type Fetcher struct {
	getter    Getter
	endpoints Endpoints
	pageSize  int
	pacing    Pacing
	sleep     remote.Sleeper
	offers    *OffersCache
	hidden    *HiddenResolver
	onStage   StageFunc
	logger    *log.Logger
}

// New creates a Fetcher. If logger is nil, a default logger writing to stderr is used.
func New(getter Getter, cfg Config, logger *log.Logger) *Fetcher {
	if logger == nil {
		logger = log.New(os.Stderr, "[fetch] ", log.LstdFlags)
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.Sleep == nil {
		cfg.Sleep = remote.SleepContext
	}
	if cfg.Offers == nil {
		cfg.Offers = NewOffersCache()
	}
	endpoints := cfg.Endpoints.withDefaults()

	return &Fetcher{
		getter:    getter,
		endpoints: endpoints,
		pageSize:  cfg.PageSize,
		pacing:    cfg.Pacing,
		sleep:     cfg.Sleep,
		offers:    cfg.Offers,
		hidden: NewHiddenResolver(getter, HiddenConfig{
			Endpoints: endpoints,
			Index:     cfg.Index,
			Pacing:    cfg.Pacing,
			Sleep:     cfg.Sleep,
		}, logger),
		onStage: cfg.OnStage,
		logger:  logger,
	}
}

// Hidden returns the resolver used for the hidden-resolution stage.
func (f *Fetcher) Hidden() *HiddenResolver {
	return f.hidden
}

// FetchNamespace returns every item of ns.
//
// Duplicate ids across pages are not removed. An error means the namespace
// could not be fetched; failures of individual items are logged and skipped.
func (f *Fetcher) FetchNamespace(ctx context.Context, ns string) ([]*schema.Item, error) {
	f.enter(ns, StageListing)
	listing, err := f.listing(ctx, ns)
	if err != nil {
		return nil, err
	}

	if listing.notFound {
		f.logger.Printf("Namespace %s not found, ignoring", ns)
		return []*schema.Item{}, nil
	}

	items := listing.items
	if listing.firstPageEmpty {
		f.logger.Printf("No items found for namespace %s, using offers", ns)
		items, err = f.fallback(ctx, ns)
		if err != nil {
			return nil, err
		}
		if items == nil {
			return []*schema.Item{}, nil
		}
	}

	f.enter(ns, StageHiddenResolution)
	return f.hidden.Augment(ctx, items, ns)
}

type listingResult struct {
	items          []*schema.Item
	firstPageEmpty bool
	notFound       bool
}

func (f *Fetcher) listing(ctx context.Context, ns string) (*listingResult, error) {
	res := &listingResult{}
	start := 0

	for page := 0; ; page++ {
		if page > 0 {
			if err := f.sleep(ctx, f.pacing.PageDelay); err != nil {
				return nil, err
			}
		}

		body, err := f.getter.Get(ctx, f.endpoints.Items(ns, start, f.pageSize))
		if err != nil {
			return nil, fmt.Errorf("failed to list namespace %s at %d: %w", ns, start, err)
		}
		if body == nil {
			if page == 0 {
				res.notFound = true
			}
			return res, nil
		}

		p, err := schema.DecodePage(body)
		if err != nil {
			return nil, fmt.Errorf("namespace %s at %d: %w", ns, start, err)
		}

		if page == 0 && len(p.Elements) == 0 {
			res.firstPageEmpty = true
			return res, nil
		}

		for _, item := range p.Elements {
			if item != nil {
				res.items = append(res.items, item)
			}
		}

		advance := p.Advance()
		if advance <= 0 {
			f.logger.Printf("WARNING: namespace %s page at %d did not advance, stopping", ns, start)
			return res, nil
		}
		start += advance

		f.logger.Printf("Got %d items for namespace %s, total %d, next start %d", advance, ns, p.Paging.Total, start)
		if start >= p.Paging.Total {
			return res, nil
		}
	}
}

// fallback resolves the namespace's items through its offers. A nil result
// means the namespace has no offers either.
func (f *Fetcher) fallback(ctx context.Context, ns string) ([]*schema.Item, error) {
	f.enter(ns, StageFallbackOffers)
	offers, err := f.offersPage(ctx, ns)
	if err != nil {
		return nil, err
	}
	if len(offers.Elements) == 0 {
		f.logger.Printf("No offers found for namespace %s, ignoring", ns)
		return nil, nil
	}

	f.enter(ns, StageItemResolution)
	ids := offers.ItemIDs()
	f.logger.Printf("Found %d items for namespace %s through %d offers", len(ids), ns, len(offers.Elements))

	items := make([]*schema.Item, 0, len(ids))
	for _, id := range ids {
		item, err := f.fetchItem(ctx, ns, id)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			f.logger.Printf("WARNING: failed to fetch item %s for namespace %s: %v", id, ns, err)
			continue
		}
		if item != nil {
			items = append(items, item)
		}
	}

	f.logger.Printf("Fetched %d items for namespace %s", len(items), ns)
	return items, nil
}

func (f *Fetcher) offersPage(ctx context.Context, ns string) (*schema.OfferPage, error) {
	if page, ok := f.offers.Get(ns); ok {
		f.logger.Printf("Using cached offers for namespace %s", ns)
		return page, nil
	}

	body, err := f.getter.Get(ctx, f.endpoints.Offers(ns, 0, f.pageSize))
	if err != nil {
		return nil, fmt.Errorf("failed to list offers for namespace %s: %w", ns, err)
	}
	if body == nil {
		return &schema.OfferPage{}, nil
	}

	page, err := schema.DecodeOfferPage(body)
	if err != nil {
		return nil, fmt.Errorf("namespace %s: %w", ns, err)
	}
	f.offers.Put(ns, page)
	return page, nil
}

func (f *Fetcher) fetchItem(ctx context.Context, ns, id string) (*schema.Item, error) {
	return fetchItem(ctx, f.getter, f.endpoints, ns, id)
}

func (f *Fetcher) enter(ns string, stage Stage) {
	if f.onStage != nil {
		f.onStage(ns, stage)
	}
}

// fetchItem fetches a single item. Not found yields nil, nil.
func fetchItem(ctx context.Context, getter Getter, endpoints Endpoints, ns, id string) (*schema.Item, error) {
	body, err := getter.Get(ctx, endpoints.Item(ns, id))
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, nil
	}
	return schema.DecodeItem(body)
}
