package fetch

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// Catalog and storefront defaults.
const (
	DefaultCatalogBase        = "https://catalog-public-service-prod06.ol.epicgames.com/catalog/api/shared"
	DefaultGraphQLURL         = "https://store.epicgames.com/graphql"
	DefaultOperationName      = "getCatalogOfferSubItems"
	DefaultPersistedQueryHash = "7f0327250294745d88bb463ba90a9cf6d27cef7c5eb070c015e0def9e3471832"
	DefaultStatusFilter       = "SUNSET|ACTIVE"
	DefaultCountry            = "US"
	DefaultLocale             = "en"
	DefaultGraphQLLocale      = "en-US"
	DefaultPageSize           = 1000
)

// Endpoints builds the URLs of every remote surface the fetcher talks to.
type Endpoints struct {
	CatalogBase  string
	StatusFilter string
	Country      string
	Locale       string

	GraphQLURL         string
	GraphQLLocale      string
	OperationName      string
	PersistedQueryHash string
}

// DefaultEndpoints returns the production endpoints.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		CatalogBase:        DefaultCatalogBase,
		StatusFilter:       DefaultStatusFilter,
		Country:            DefaultCountry,
		Locale:             DefaultLocale,
		GraphQLURL:         DefaultGraphQLURL,
		GraphQLLocale:      DefaultGraphQLLocale,
		OperationName:      DefaultOperationName,
		PersistedQueryHash: DefaultPersistedQueryHash,
	}
}

// withDefaults fills empty fields from DefaultEndpoints.
func (e Endpoints) withDefaults() Endpoints {
	d := DefaultEndpoints()
	if e.CatalogBase == "" {
		e.CatalogBase = d.CatalogBase
	}
	if e.StatusFilter == "" {
		e.StatusFilter = d.StatusFilter
	}
	if e.Country == "" {
		e.Country = d.Country
	}
	if e.Locale == "" {
		e.Locale = d.Locale
	}
	if e.GraphQLURL == "" {
		e.GraphQLURL = d.GraphQLURL
	}
	if e.GraphQLLocale == "" {
		e.GraphQLLocale = d.GraphQLLocale
	}
	if e.OperationName == "" {
		e.OperationName = d.OperationName
	}
	if e.PersistedQueryHash == "" {
		e.PersistedQueryHash = d.PersistedQueryHash
	}
	e.CatalogBase = strings.TrimRight(e.CatalogBase, "/")
	return e
}

func (e Endpoints) namespacePath(ns string) string {
	return e.CatalogBase + "/namespace/" + url.PathEscape(ns)
}

func (e Endpoints) listQuery(start, count int) string {
	return fmt.Sprintf("status=%s&sortBy=creationDate&country=%s&locale=%s&start=%d&count=%d",
		url.QueryEscape(e.StatusFilter), url.QueryEscape(e.Country), url.QueryEscape(e.Locale), start, count)
}

// Items is the primary listing URL for one page of a namespace.
func (e Endpoints) Items(ns string, start, count int) string {
	return e.namespacePath(ns) + "/items?" + e.listQuery(start, count)
}

// Offers is the offers listing URL used by the fallback path.
func (e Endpoints) Offers(ns string, start, count int) string {
	return e.namespacePath(ns) + "/offers?" + e.listQuery(start, count)
}

// Item is the single-item URL.
func (e Endpoints) Item(ns, id string) string {
	return e.namespacePath(ns) + "/items/" + url.PathEscape(id)
}

type subItemsVariables struct {
	Locale    string `json:"locale"`
	OfferID   string `json:"offerId"`
	SandboxID string `json:"sandboxId"`
}

type persistedQuery struct {
	Version    int    `json:"version"`
	Sha256Hash string `json:"sha256Hash"`
}

// OfferSubItems is the persisted GraphQL query listing an offer's sub-items.
func (e Endpoints) OfferSubItems(ns, offerID string) string {
	variables, _ := json.Marshal(subItemsVariables{
		Locale:    e.GraphQLLocale,
		OfferID:   offerID,
		SandboxID: ns,
	})
	extensions, _ := json.Marshal(map[string]persistedQuery{
		"persistedQuery": {Version: 1, Sha256Hash: e.PersistedQueryHash},
	})

	q := url.Values{}
	q.Set("operationName", e.OperationName)
	q.Set("variables", string(variables))
	q.Set("extensions", string(extensions))
	return e.GraphQLURL + "?" + q.Encode()
}
