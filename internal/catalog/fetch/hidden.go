package fetch

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/egdb/catalog-mirror/internal/catalog/schema"
	"github.com/egdb/catalog-mirror/internal/remote"
	"github.com/tidwall/gjson"
)

// HiddenConfig configures a HiddenResolver.
type HiddenConfig struct {
	Endpoints Endpoints
	Index     map[string][]string
	Pacing    Pacing
	Sleep     remote.Sleeper
}

// HiddenResolver discovers items that are reachable through an offer's
// sub-items but missing from the primary listing.
type HiddenResolver struct {
	getter    Getter
	endpoints Endpoints
	index     map[string][]string
	pacing    Pacing
	sleep     remote.Sleeper
	logger    *log.Logger
}

// NewHiddenResolver creates a resolver over the namespace → offer index.
func NewHiddenResolver(getter Getter, cfg HiddenConfig, logger *log.Logger) *HiddenResolver {
	if logger == nil {
		logger = log.New(os.Stderr, "[hidden] ", log.LstdFlags)
	}
	if cfg.Sleep == nil {
		cfg.Sleep = remote.SleepContext
	}
	return &HiddenResolver{
		getter:    getter,
		endpoints: cfg.Endpoints.withDefaults(),
		index:     cfg.Index,
		pacing:    cfg.Pacing,
		sleep:     cfg.Sleep,
		logger:    logger,
	}
}

// Augment appends the hidden items of ns to items.
//
// Existing elements are never reordered or removed. No id already in items
// is added, and no hidden id is added twice, so augmenting an augmented list
// adds nothing. A namespace missing from the index is returned unchanged.
func (h *HiddenResolver) Augment(ctx context.Context, items []*schema.Item, ns string) ([]*schema.Item, error) {
	if h.index == nil {
		return nil, ErrNoNamespaceIndex
	}
	offers, ok := h.index[ns]
	if !ok {
		return items, nil
	}

	h.logger.Printf("Looking for hidden items in namespace %s (offers: %d)", ns, len(offers))

	known := make(map[string]bool, len(items))
	for _, item := range items {
		known[item.ID] = true
	}

	collected := make(map[string]bool)
	var hidden []*schema.Item

	for i, offerID := range offers {
		if i > 0 {
			if err := h.sleep(ctx, h.pacing.OfferDelay); err != nil {
				return nil, err
			}
		}

		ids, err := h.subItemIDs(ctx, ns, offerID)
		if err != nil {
			return nil, fmt.Errorf("failed to query sub-items of offer %s: %w", offerID, err)
		}

		for _, id := range ids {
			if known[id] || collected[id] {
				continue
			}
			collected[id] = true

			item, err := fetchItem(ctx, h.getter, h.endpoints, ns, id)
			switch {
			case err != nil && ctx.Err() != nil:
				return nil, ctx.Err()
			case err != nil:
				h.logger.Printf("WARNING: failed to fetch hidden item %s: %v", id, err)
			case item != nil:
				hidden = append(hidden, item)
			}

			if err := h.sleep(ctx, h.pacing.ItemDelay); err != nil {
				return nil, err
			}
		}
	}

	out := make([]*schema.Item, len(items), len(items)+len(hidden))
	copy(out, items)
	added := 0
	for _, item := range hidden {
		if known[item.ID] {
			continue
		}
		known[item.ID] = true
		out = append(out, item)
		added++
	}

	h.logger.Printf("Found %d hidden items for namespace %s (fetched: %d)", added, ns, len(hidden))
	return out, nil
}

// subItemIDs returns the non-empty sub-item ids of an offer.
func (h *HiddenResolver) subItemIDs(ctx context.Context, ns, offerID string) ([]string, error) {
	body, err := h.getter.Get(ctx, h.endpoints.OfferSubItems(ns, offerID))
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, nil
	}

	list := gjson.GetBytes(body, "data.Catalog.offerSubItems")
	if !list.IsArray() {
		return nil, nil
	}

	var ids []string
	list.ForEach(func(_, sub gjson.Result) bool {
		if id := sub.Get("id").String(); id != "" {
			ids = append(ids, id)
		}
		return true
	})
	return ids, nil
}
