package stock

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/coachpo/stockwatch/internal/fetch"
)

// Availability is the outcome of one verification.
type Availability int

const (
	// Unknown means the page could not be judged (access denied); callers must not
	// change state on it.
	Unknown Availability = iota
	// OutOfStock means no variant is purchasable, or the page was unusable.
	OutOfStock
	// InStock means at least one variant is purchasable.
	InStock
)

func (a Availability) String() string {
	switch a {
	case InStock:
		return "in_stock"
	case OutOfStock:
		return "out_of_stock"
	default:
		return "unknown"
	}
}

// Reasons reported with non in-stock results.
const (
	ReasonOutOfStock        = "Out of Stock"
	ReasonStructureOOSSafe  = "Structure Mismatch (OOS Safety)"
	ReasonStructureMismatch = "Structure Mismatch"
	ReasonNoData            = "No Data"
	ReasonForbidden         = "403"
	ReasonError             = "Error"
)

// rawInStockMarker is looked for when the embedded state has an unexpected shape.
const rawInStockMarker = `"stockLevelStatus":"inStock"`

// Result is a verification outcome. Details holds the size summary when in stock and
// the reason otherwise.
type Result struct {
	Code         string
	Availability Availability
	Details      string
}

// InStock reports whether the product is purchasable.
func (r Result) InStock() bool { return r.Availability == InStock }

// Fetcher is the subset of the HTTP adapter the verifier relies on.
type Fetcher interface {
	Get(ctx context.Context, rawURL string, params url.Values, timeout time.Duration) (*fetch.Response, error)
}

// Verifier checks one product's detail page.
type Verifier struct {
	fetcher Fetcher
	baseURL string
	timeout time.Duration
	logger  *log.Logger
}

// NewVerifier constructs a verifier fetching {baseURL}/p/{code}.
func NewVerifier(fetcher Fetcher, baseURL string, timeout time.Duration, logger *log.Logger) *Verifier {
	if logger == nil {
		logger = log.Default()
	}
	return &Verifier{
		fetcher: fetcher,
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		logger:  logger,
	}
}

// Verify fetches the product page once and evaluates its embedded state.
func (v *Verifier) Verify(ctx context.Context, code string) Result {
	resp, err := v.fetcher.Get(ctx, v.baseURL+"/p/"+code, nil, v.timeout)
	if err != nil {
		v.logger.Printf("stock: checking %s: %v", code, err)
		return Result{Code: code, Availability: OutOfStock, Details: ReasonError}
	}
	switch resp.Status {
	case 200:
	case 403:
		v.logger.Printf("stock: 403 forbidden checking %s", code)
		return Result{Code: code, Availability: Unknown, Details: ReasonForbidden}
	default:
		return Result{Code: code, Availability: OutOfStock, Details: fmt.Sprintf("HTTP %d", resp.Status)}
	}

	res := Evaluate(resp.Body)
	if res.Details == ReasonNoData {
		if _, ok := ExtractEmbeddedState(resp.Body); ok {
			v.logger.Printf("stock: embedded state for %s is not valid JSON", code)
		}
	}
	res.Code = code
	return res
}

type variantStock struct {
	StockLevel       json.RawMessage `json:"stockLevel"`
	StockLevelStatus *string         `json:"stockLevelStatus"`
}

type qualifier struct {
	Qualifier string  `json:"qualifier"`
	Value     *string `json:"value"`
}

type variant struct {
	Stock      *variantStock `json:"stock"`
	Qualifiers []qualifier   `json:"variantOptionQualifiers"`
}

// Evaluate derives availability from a detail page body.
func Evaluate(body []byte) Result {
	blob, ok := ExtractEmbeddedState(body)
	if !ok {
		return Result{Availability: OutOfStock, Details: ReasonNoData}
	}
	var state map[string]json.RawMessage
	if err := json.Unmarshal(blob, &state); err != nil {
		return Result{Availability: OutOfStock, Details: ReasonNoData}
	}

	details, ok := productDetails(state)
	if !ok {
		if bytes.Contains(body, []byte(rawInStockMarker)) {
			return Result{Availability: OutOfStock, Details: ReasonStructureOOSSafe}
		}
		return Result{Availability: OutOfStock, Details: ReasonStructureMismatch}
	}

	var variants []variant
	if raw, ok := details["variantOptions"]; ok {
		_ = json.Unmarshal(raw, &variants)
	}

	sizes := make([]string, 0, len(variants))
	for _, v := range variants {
		qty, status := v.stockLevel()
		label := v.sizeLabel()
		switch {
		case qty.positive:
			sizes = append(sizes, fmt.Sprintf("%s (%s)", label, qty.text))
		case status == "inStock":
			sizes = append(sizes, label+" (In Stock)")
		}
	}
	if len(sizes) == 0 {
		return Result{Availability: OutOfStock, Details: ReasonOutOfStock}
	}
	return Result{Availability: InStock, Details: strings.Join(sizes, ", ")}
}

func productDetails(state map[string]json.RawMessage) (map[string]json.RawMessage, bool) {
	rawProduct, ok := state["product"]
	if !ok {
		return nil, false
	}
	var product map[string]json.RawMessage
	if err := json.Unmarshal(rawProduct, &product); err != nil || product == nil {
		return nil, false
	}
	rawDetails, ok := product["productDetails"]
	if !ok {
		return nil, false
	}
	var details map[string]json.RawMessage
	if err := json.Unmarshal(rawDetails, &details); err != nil {
		return nil, false
	}
	if details == nil {
		details = map[string]json.RawMessage{}
	}
	return details, true
}

type quantity struct {
	text     string
	positive bool
}

func (v variant) stockLevel() (quantity, string) {
	status := "outOfStock"
	if v.Stock == nil {
		return quantity{text: "0"}, status
	}
	if v.Stock.StockLevelStatus != nil {
		status = *v.Stock.StockLevelStatus
	}
	return parseQuantity(v.Stock.StockLevel), status
}

// parseQuantity accepts a JSON number or a numeric string.
func parseQuantity(raw json.RawMessage) quantity {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return quantity{text: "0"}
	}
	text := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return quantity{text: "0"}
		}
		text = strings.TrimSpace(text)
	}
	n := json.Number(text)
	f, err := n.Float64()
	if err != nil {
		return quantity{text: "0"}
	}
	return quantity{text: text, positive: f > 0}
}

func (v variant) sizeLabel() string {
	for _, q := range v.Qualifiers {
		if q.Qualifier == "size" {
			if q.Value == nil {
				return "Unknown"
			}
			return *q.Value
		}
	}
	return "Unknown"
}
