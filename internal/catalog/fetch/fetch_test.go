package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/egdb/catalog-mirror/internal/catalog/schema"
	"github.com/egdb/catalog-mirror/internal/remote"
)

type response struct {
	body     string
	err      error
	notFound bool
}

// fakeGetter serves canned responses by URL and records every call.
type fakeGetter struct {
	t         *testing.T
	responses map[string]response
	calls     []string
}

func (g *fakeGetter) Get(_ context.Context, url string) ([]byte, error) {
	g.calls = append(g.calls, url)
	r, ok := g.responses[url]
	if !ok {
		g.t.Errorf("unexpected request: %s", url)
		return nil, errors.New("unexpected request")
	}
	if r.err != nil {
		return nil, r.err
	}
	if r.notFound {
		return nil, nil
	}
	return []byte(r.body), nil
}

func (g *fakeGetter) count(prefix string) int {
	n := 0
	for _, c := range g.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

type sleepRecorder struct {
	pauses []time.Duration
}

func (s *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	s.pauses = append(s.pauses, d)
	return ctx.Err()
}

var testEndpoints = Endpoints{CatalogBase: "http://catalog", GraphQLURL: "http://gql"}.withDefaults()

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func itemJSON(id string) string {
	return fmt.Sprintf(`{"id":%q,"namespace":"ns","title":"Title %s"}`, id, id)
}

func pageJSON(total, count int, ids ...string) string {
	elems := make([]string, len(ids))
	for i, id := range ids {
		elems[i] = itemJSON(id)
	}
	return fmt.Sprintf(`{"elements":[%s],"paging":{"start":0,"count":%d,"total":%d}}`, strings.Join(elems, ","), count, total)
}

func subItemsJSON(ids ...string) string {
	subs := make([]string, len(ids))
	for i, id := range ids {
		subs[i] = fmt.Sprintf(`{"id":%q,"namespace":"ns"}`, id)
	}
	return fmt.Sprintf(`{"data":{"Catalog":{"offerSubItems":[%s]}}}`, strings.Join(subs, ","))
}

func newTestFetcher(g Getter, index map[string][]string, sleeper *sleepRecorder, stages *[]Stage) *Fetcher {
	return New(g, Config{
		Endpoints: testEndpoints,
		Pacing:    DefaultPacing(),
		Index:     index,
		Sleep:     sleeper.Sleep,
		OnStage: func(_ string, s Stage) {
			if stages != nil {
				*stages = append(*stages, s)
			}
		},
	}, quietLogger())
}

func ids(items []*schema.Item) string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return strings.Join(out, ",")
}

func TestFetchNamespace_EmptyEverywhere(t *testing.T) {
	g := &fakeGetter{t: t, responses: map[string]response{
		testEndpoints.Items("ns", 0, DefaultPageSize):  {body: pageJSON(0, 0)},
		testEndpoints.Offers("ns", 0, DefaultPageSize): {body: `{"elements":[],"paging":{"start":0,"count":0,"total":0}}`},
	}}
	var stages []Stage
	f := newTestFetcher(g, map[string][]string{"ns": {"offer1"}}, &sleepRecorder{}, &stages)

	items, err := f.FetchNamespace(context.Background(), "ns")
	if err != nil {
		t.Fatalf("FetchNamespace() failed: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("got %d items, want 0", len(items))
	}
	if n := g.count("http://gql"); n != 0 {
		t.Errorf("issued %d hidden-item queries, want 0", n)
	}
	if f.offers.Len() != 0 {
		t.Error("empty offers page was cached")
	}
	want := []Stage{StageListing, StageFallbackOffers}
	if fmt.Sprint(stages) != fmt.Sprint(want) {
		t.Errorf("stages = %v, want %v", stages, want)
	}
}

func TestFetchNamespace_Pagination(t *testing.T) {
	g := &fakeGetter{t: t, responses: map[string]response{
		testEndpoints.Items("ns", 0, DefaultPageSize): {body: pageJSON(5, 2, "a", "b")},
		testEndpoints.Items("ns", 2, DefaultPageSize): {body: pageJSON(5, 2, "c", "d")},
		testEndpoints.Items("ns", 4, DefaultPageSize): {body: pageJSON(5, 1, "e")},
	}}
	sleeper := &sleepRecorder{}
	f := newTestFetcher(g, map[string][]string{}, sleeper, nil)

	items, err := f.FetchNamespace(context.Background(), "ns")
	if err != nil {
		t.Fatalf("FetchNamespace() failed: %v", err)
	}
	if got := ids(items); got != "a,b,c,d,e" {
		t.Errorf("items = %s, want a,b,c,d,e", got)
	}
	if len(sleeper.pauses) != 2 {
		t.Errorf("paused %d times between pages, want 2", len(sleeper.pauses))
	}
}

func TestFetchNamespace_StalledPagingTerminates(t *testing.T) {
	g := &fakeGetter{t: t, responses: map[string]response{
		testEndpoints.Items("ns", 0, DefaultPageSize): {body: pageJSON(10, 2, "a", "b")},
		testEndpoints.Items("ns", 2, DefaultPageSize): {body: pageJSON(10, 0)},
	}}
	f := newTestFetcher(g, map[string][]string{}, &sleepRecorder{}, nil)

	items, err := f.FetchNamespace(context.Background(), "ns")
	if err != nil {
		t.Fatalf("FetchNamespace() failed: %v", err)
	}
	if len(items) != 2 {
		t.Errorf("got %d items, want 2", len(items))
	}
	if len(g.calls) != 2 {
		t.Errorf("made %d calls, want 2", len(g.calls))
	}
}

func TestFetchNamespace_OffersFallback(t *testing.T) {
	offers := `{"elements":[
	  {"id":"o1","items":[{"id":"sub1","mainGameItem":{"id":"main1"}},{"id":"broken"}]},
	  {"id":"o2","items":[{"id":""},{"id":"plain"}]}
	],"paging":{"start":0,"count":2,"total":2}}`

	g := &fakeGetter{t: t, responses: map[string]response{
		testEndpoints.Items("ns", 0, DefaultPageSize):  {body: pageJSON(0, 0)},
		testEndpoints.Offers("ns", 0, DefaultPageSize): {body: offers},
		testEndpoints.Item("ns", "main1"):              {body: itemJSON("main1")},
		testEndpoints.Item("ns", "broken"):             {err: &remote.ExhaustedError{URL: "x", Attempts: 3, Cause: remote.ErrTransient}},
		testEndpoints.Item("ns", "plain"):              {body: itemJSON("plain")},
	}}
	var stages []Stage
	cache := NewOffersCache()
	f := New(g, Config{Endpoints: testEndpoints, Index: map[string][]string{}, Offers: cache,
		Sleep: (&sleepRecorder{}).Sleep, OnStage: func(_ string, s Stage) { stages = append(stages, s) }}, quietLogger())

	items, err := f.FetchNamespace(context.Background(), "ns")
	if err != nil {
		t.Fatalf("FetchNamespace() failed: %v", err)
	}
	if got := ids(items); got != "main1,plain" {
		t.Errorf("items = %s, want main1,plain", got)
	}
	want := []Stage{StageListing, StageFallbackOffers, StageItemResolution, StageHiddenResolution}
	if fmt.Sprint(stages) != fmt.Sprint(want) {
		t.Errorf("stages = %v, want %v", stages, want)
	}

	// A second fetcher sharing the cache reuses the offers page.
	f2 := New(g, Config{Endpoints: testEndpoints, Index: map[string][]string{}, Offers: cache,
		Sleep: (&sleepRecorder{}).Sleep}, quietLogger())
	if _, err := f2.FetchNamespace(context.Background(), "ns"); err != nil {
		t.Fatalf("second FetchNamespace() failed: %v", err)
	}
	if n := g.count(testEndpoints.Offers("ns", 0, DefaultPageSize)); n != 1 {
		t.Errorf("offers fetched %d times, want 1", n)
	}
}

func TestFetchNamespace_ListingExhausted(t *testing.T) {
	g := &fakeGetter{t: t, responses: map[string]response{
		testEndpoints.Items("ns", 0, DefaultPageSize): {err: &remote.ExhaustedError{URL: "u", Attempts: 3, Cause: remote.ErrTransient}},
	}}
	f := newTestFetcher(g, map[string][]string{}, &sleepRecorder{}, nil)

	_, err := f.FetchNamespace(context.Background(), "ns")
	if !errors.Is(err, remote.ErrExhaustedRetries) {
		t.Errorf("FetchNamespace() error = %v, want ErrExhaustedRetries", err)
	}
}

func TestFetchNamespace_NotFound(t *testing.T) {
	g := &fakeGetter{t: t, responses: map[string]response{
		testEndpoints.Items("ns", 0, DefaultPageSize): {notFound: true},
	}}
	f := newTestFetcher(g, map[string][]string{"ns": {"o1"}}, &sleepRecorder{}, nil)

	items, err := f.FetchNamespace(context.Background(), "ns")
	if err != nil || len(items) != 0 {
		t.Errorf("FetchNamespace() = %d items, %v; want 0, nil", len(items), err)
	}
}

func TestHiddenResolver_AddsMissingItems(t *testing.T) {
	g := &fakeGetter{t: t, responses: map[string]response{
		testEndpoints.Items("ns", 0, DefaultPageSize): {body: pageJSON(1, 1, "a")},
		testEndpoints.OfferSubItems("ns", "o1"):       {body: subItemsJSON("a", "h1", "")},
		testEndpoints.OfferSubItems("ns", "o2"):       {body: subItemsJSON("h1", "h2")},
		testEndpoints.Item("ns", "h1"):                {body: itemJSON("h1")},
		testEndpoints.Item("ns", "h2"):                {notFound: true},
	}}
	sleeper := &sleepRecorder{}
	f := newTestFetcher(g, map[string][]string{"ns": {"o1", "o2"}}, sleeper, nil)

	items, err := f.FetchNamespace(context.Background(), "ns")
	if err != nil {
		t.Fatalf("FetchNamespace() failed: %v", err)
	}
	if got := ids(items); got != "a,h1" {
		t.Errorf("items = %s, want a,h1", got)
	}
	if n := g.count(testEndpoints.Item("ns", "h1")); n != 1 {
		t.Errorf("h1 fetched %d times, want 1", n)
	}
	// one pause per hidden item fetched plus one between offers
	if len(sleeper.pauses) != 3 {
		t.Errorf("paused %d times, want 3", len(sleeper.pauses))
	}

	// Idempotence: augmenting again adds nothing and fetches no items.
	before := len(g.calls)
	again, err := f.Hidden().Augment(context.Background(), items, "ns")
	if err != nil {
		t.Fatalf("Augment() failed: %v", err)
	}
	if ids(again) != ids(items) {
		t.Errorf("second Augment() = %s, want %s", ids(again), ids(items))
	}
	for _, c := range g.calls[before:] {
		if strings.HasPrefix(c, "http://catalog") && !strings.Contains(c, "/items/h2") {
			t.Errorf("second Augment() fetched %s", c)
		}
	}
}

func TestHiddenResolver_IndexEdges(t *testing.T) {
	g := &fakeGetter{t: t, responses: map[string]response{}}
	items := []*schema.Item{{ID: "a"}}

	nilIndex := NewHiddenResolver(g, HiddenConfig{Endpoints: testEndpoints, Sleep: (&sleepRecorder{}).Sleep}, quietLogger())
	if _, err := nilIndex.Augment(context.Background(), items, "ns"); !errors.Is(err, ErrNoNamespaceIndex) {
		t.Errorf("Augment() with nil index error = %v, want ErrNoNamespaceIndex", err)
	}

	absent := NewHiddenResolver(g, HiddenConfig{Endpoints: testEndpoints, Index: map[string][]string{"other": {"o"}}}, quietLogger())
	out, err := absent.Augment(context.Background(), items, "ns")
	if err != nil {
		t.Fatalf("Augment() failed: %v", err)
	}
	if ids(out) != "a" || len(g.calls) != 0 {
		t.Errorf("Augment() for unindexed namespace = %s with %d calls", ids(out), len(g.calls))
	}
}

func TestEndpoints(t *testing.T) {
	e := DefaultEndpoints()

	items := e.Items("fn", 0, 1000)
	want := DefaultCatalogBase + "/namespace/fn/items?status=SUNSET%7CACTIVE&sortBy=creationDate&country=US&locale=en&start=0&count=1000"
	if items != want {
		t.Errorf("Items() = %s\nwant     %s", items, want)
	}
	if got := e.Item("fn", "abc"); got != DefaultCatalogBase+"/namespace/fn/items/abc" {
		t.Errorf("Item() = %s", got)
	}

	gql := e.OfferSubItems("fn", "offer1")
	for _, part := range []string{
		"operationName=getCatalogOfferSubItems",
		"sha256Hash%22%3A%22" + DefaultPersistedQueryHash,
		"%22offerId%22%3A%22offer1%22",
		"%22sandboxId%22%3A%22fn%22",
		"%22locale%22%3A%22en-US%22",
	} {
		if !strings.Contains(gql, part) {
			t.Errorf("OfferSubItems() = %s, missing %s", gql, part)
		}
	}
}
