package catalog

import (
	"context"
	"log"
	"net/url"
	"strconv"
	"time"

	json "github.com/goccy/go-json"

	"github.com/coachpo/stockwatch/errs"
	"github.com/coachpo/stockwatch/internal/fetch"
	"github.com/coachpo/stockwatch/lib/async"
)

// Fetcher is the subset of the HTTP adapter discovery relies on.
type Fetcher interface {
	GetWithRetry(ctx context.Context, rawURL string, params url.Values, timeout time.Duration) (*fetch.Response, error)
}

// Page is one decoded category listing page.
type Page struct {
	Number     int
	TotalPages int
	Products   []Product
}

type listingPage struct {
	Products   []json.RawMessage `json:"products"`
	Pagination *struct {
		TotalPages int `json:"totalPages"`
	} `json:"pagination"`
}

// DiscoveryOptions configures a Discovery.
type DiscoveryOptions struct {
	CategoryURL string
	BaseURL     string
	PageSize    int
	Workers     int
	Timeout     time.Duration
	Logger      *log.Logger
}

// Discovery enumerates every product listed under a filter.
type Discovery struct {
	fetcher     Fetcher
	categoryURL string
	baseURL     string
	pageSize    int
	workers     int
	timeout     time.Duration
	logger      *log.Logger
}

// NewDiscovery constructs a discovery service over fetcher.
func NewDiscovery(fetcher Fetcher, opts DiscoveryOptions) *Discovery {
	if opts.PageSize <= 0 {
		opts.PageSize = 40
	}
	if opts.Workers <= 0 {
		opts.Workers = 5
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Discovery{
		fetcher:     fetcher,
		categoryURL: opts.CategoryURL,
		baseURL:     opts.BaseURL,
		pageSize:    opts.PageSize,
		workers:     opts.Workers,
		timeout:     opts.Timeout,
		logger:      opts.Logger,
	}
}

// PageParams builds the category query for one page of filter.
func PageParams(filter string, page, pageSize int) url.Values {
	return url.Values{
		"fields":            {"SITE"},
		"currentPage":       {strconv.Itoa(page)},
		"pageSize":          {strconv.Itoa(pageSize)},
		"format":            {"json"},
		"query":             {":relevance:genderfilter:" + filter},
		"facets":            {"genderfilter:" + filter},
		"advfilter":         {"true"},
		"platform":          {"Desktop"},
		"is_ads_enable_plp": {"true"},
	}
}

// FetchPage fetches and decodes one listing page.
func (d *Discovery) FetchPage(ctx context.Context, filter string, page int) (Page, error) {
	resp, err := d.fetcher.GetWithRetry(ctx, d.categoryURL, PageParams(filter, page, d.pageSize), d.timeout)
	if err != nil {
		return Page{}, err
	}
	var lp listingPage
	if err := json.Unmarshal(resp.Body, &lp); err != nil {
		return Page{}, errs.New("catalog", errs.CodeParse, errs.WithMessage("decode listing page "+strconv.Itoa(page)), errs.WithCause(err))
	}

	out := Page{Number: page, TotalPages: 1, Products: make([]Product, 0, len(lp.Products))}
	if lp.Pagination != nil && lp.Pagination.TotalPages > 0 {
		out.TotalPages = lp.Pagination.TotalPages
	}
	for _, raw := range lp.Products {
		p, ok, err := ParseProduct(raw, d.baseURL, filter)
		if err != nil {
			d.logger.Printf("catalog: %s page %d: skip entry: %v", filter, page, err)
			continue
		}
		if ok {
			out.Products = append(out.Products, p)
		}
	}
	return out, nil
}

type pageResult struct {
	page Page
	err  error
}

// Discover returns every product for filter keyed by identifier. Page 1 is fetched
// first for the page count; remaining pages are fetched concurrently. Failed pages are
// skipped, and a failed page 1 yields an empty result.
func (d *Discovery) Discover(ctx context.Context, filter string) map[string]Product {
	products := make(map[string]Product)
	d.logger.Printf("catalog: fetching products for %s", filter)

	first, err := d.FetchPage(ctx, filter, 1)
	if err != nil {
		d.logger.Printf("catalog: failed to fetch page 1 for %s: %v", filter, err)
		return products
	}
	d.logger.Printf("catalog: %s has %d total pages", filter, first.TotalPages)
	merge(products, first.Products)

	if first.TotalPages <= 1 {
		return products
	}

	pages := make([]int, 0, first.TotalPages-1)
	for n := 2; n <= first.TotalPages; n++ {
		pages = append(pages, n)
	}
	results, err := async.FanOut(ctx, d.workers, pages, func(ctx context.Context, n int) pageResult {
		page, err := d.FetchPage(ctx, filter, n)
		if err != nil {
			page.Number = n
		}
		return pageResult{page: page, err: err}
	})
	if err != nil {
		d.logger.Printf("catalog: %s: %v", filter, err)
		return products
	}
	for r := range results {
		if r.err != nil {
			continue
		}
		d.logger.Printf("catalog: %s page %d: %d products", filter, r.page.Number, len(r.page.Products))
		merge(products, r.page.Products)
	}
	return products
}

func merge(dst map[string]Product, products []Product) {
	for _, p := range products {
		dst[p.Code] = p
	}
}
