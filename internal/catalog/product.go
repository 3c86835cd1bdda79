// Package catalog discovers product listings from the storefront category API.
package catalog

import (
	"bytes"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/coachpo/stockwatch/errs"
)

const (
	// UnknownName is used when a listing carries no display name.
	UnknownName = "Unknown Product"
	// UnknownPrice is used when neither retail nor offer price is present.
	UnknownPrice = "N/A"
)

// Product is a normalised listing entry. Products live for one cycle only.
type Product struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	Price    string `json:"price"`
	ImageURL string `json:"image"`
	URL      string `json:"url"`
	Category string `json:"category"`
}

type displayPrice struct {
	DisplayFormattedValue *string `json:"displayformattedValue"`
}

type colorVariant struct {
	OutfitPictureURL *string `json:"outfitPictureURL"`
}

type image struct {
	URL string `json:"url"`
}

type rawProduct struct {
	Code                json.RawMessage `json:"code"`
	Name                *string         `json:"name"`
	URL                 *string         `json:"url"`
	RetailPrice         *displayPrice   `json:"retailPrice"`
	OfferPrice          *displayPrice   `json:"offerPrice"`
	FnlColorVariantData *colorVariant   `json:"fnlColorVariantData"`
	Images              []image         `json:"images"`
}

// ParseProduct normalises one raw listing entry. ok is false when the entry has no
// identifier; such entries must be dropped. baseURL is prefixed to the listing path.
func ParseProduct(raw []byte, baseURL, category string) (Product, bool, error) {
	var p rawProduct
	if err := json.Unmarshal(raw, &p); err != nil {
		return Product{}, false, errs.New("catalog", errs.CodeParse, errs.WithMessage("decode listing entry"), errs.WithCause(err))
	}

	code := decodeCode(p.Code)
	if code == "" {
		return Product{}, false, nil
	}

	name := UnknownName
	if p.Name != nil && *p.Name != "" {
		name = *p.Name
	}

	price := UnknownPrice
	switch {
	case p.RetailPrice != nil && p.RetailPrice.DisplayFormattedValue != nil:
		price = *p.RetailPrice.DisplayFormattedValue
	case p.OfferPrice != nil && p.OfferPrice.DisplayFormattedValue != nil:
		price = *p.OfferPrice.DisplayFormattedValue
	}

	img := ""
	switch {
	case p.FnlColorVariantData != nil && p.FnlColorVariantData.OutfitPictureURL != nil:
		img = *p.FnlColorVariantData.OutfitPictureURL
	case len(p.Images) > 0:
		img = p.Images[0].URL
	}

	path := "/p/" + code
	if p.URL != nil && *p.URL != "" {
		path = *p.URL
	}

	return Product{
		Code:     code,
		Name:     name,
		Price:    price,
		ImageURL: img,
		URL:      strings.TrimRight(baseURL, "/") + path,
		Category: category,
	}, true, nil
}

// decodeCode accepts a JSON string or number. Empty strings, zero and null yield "".
func decodeCode(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return ""
	}
	if f, err := n.Float64(); err != nil || f == 0 {
		return ""
	}
	return n.String()
}
