package schema

import (
	"encoding/json"
	"fmt"
)

// Paging is the cursor returned with every listing page.
// Count is the number of elements on the page just returned, not the page size requested.
type Paging struct {
	Start int `json:"start"`
	Count int `json:"count"`
	Total int `json:"total"`
}

// Page is one page of the primary item listing.
type Page struct {
	Elements []*Item `json:"elements"`
	Paging   Paging  `json:"paging"`
}

// Advance returns how far the cursor moves after this page.
// A page that reports no count advances by the number of elements it carried.
func (p *Page) Advance() int {
	if p.Paging.Count > 0 {
		return p.Paging.Count
	}
	return len(p.Elements)
}

// DecodePage parses a listing page.
func DecodePage(data []byte) (*Page, error) {
	var page Page
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, fmt.Errorf("failed to parse listing page: %w", err)
	}
	return &page, nil
}

// ItemRef is a reference to an item by id.
type ItemRef struct {
	ID        string `json:"id"`
	Namespace string `json:"namespace,omitempty"`
}

// OfferItem is a sub-item of an offer.
type OfferItem struct {
	ID           string   `json:"id"`
	Namespace    string   `json:"namespace,omitempty"`
	MainGameItem *ItemRef `json:"mainGameItem,omitempty"`
}

// ResolvedID prefers the headline game item over the sub-item's own id.
func (oi OfferItem) ResolvedID() string {
	if oi.MainGameItem != nil && oi.MainGameItem.ID != "" {
		return oi.MainGameItem.ID
	}
	return oi.ID
}

// Offer is a sellable unit bundling one or more items.
type Offer struct {
	ID        string      `json:"id"`
	Namespace string      `json:"namespace,omitempty"`
	Title     string      `json:"title,omitempty"`
	Items     []OfferItem `json:"items,omitempty"`
}

// OfferPage is one page of the offers listing.
type OfferPage struct {
	Elements []Offer `json:"elements"`
	Paging   Paging  `json:"paging"`
}

// DecodeOfferPage parses an offers page.
func DecodeOfferPage(data []byte) (*OfferPage, error) {
	var page OfferPage
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, fmt.Errorf("failed to parse offers page: %w", err)
	}
	return &page, nil
}

// ItemIDs flattens every offer's sub-items into resolved ids, in order.
// Empty ids are dropped; duplicates are kept.
func (p *OfferPage) ItemIDs() []string {
	var ids []string
	for _, offer := range p.Elements {
		for _, sub := range offer.Items {
			if id := sub.ResolvedID(); id != "" {
				ids = append(ids, id)
			}
		}
	}
	return ids
}
