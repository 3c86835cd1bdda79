package fetch

import (
	"sort"
	"strings"
)

const (
	chromeUserAgent  = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/110.0.0.0 Safari/537.36"
	safariUserAgent  = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/15.6.1 Safari/605.1.15"
	firefoxUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:117.0) Gecko/20100101 Firefox/117.0"
)

// canonical browser header order, lower-case.
var headerOrder = []string{
	"accept",
	"accept-language",
	"cache-control",
	"pragma",
	"referer",
	"user-agent",
}

// DefaultHeaders returns the browser-like headers sent for profile.
func DefaultHeaders(profile string) map[string]string {
	return map[string]string{
		"Accept":          "text/html,application/xhtml+xml,application/json;q=0.9,*/*;q=0.8",
		"Accept-Language": "en-IN,en-GB;q=0.9,en;q=0.8",
		"Cache-Control":   "no-cache",
		"Pragma":          "no-cache",
		"User-Agent":      userAgentFor(profile),
	}
}

func userAgentFor(profile string) string {
	p := strings.ToLower(profile)
	switch {
	case strings.HasPrefix(p, "safari"):
		return safariUserAgent
	case strings.HasPrefix(p, "firefox"):
		return firefoxUserAgent
	default:
		return chromeUserAgent
	}
}

// orderedHeaderKeys sorts keys by their position in headerOrder; unknown keys keep
// alphabetical order after the known ones.
func orderedHeaderKeys(keys []string) []string {
	rank := make(map[string]int, len(headerOrder))
	for i, k := range headerOrder {
		rank[k] = i
	}
	out := append([]string(nil), keys...)
	sort.SliceStable(out, func(i, j int) bool {
		ri, iok := rank[out[i]]
		rj, jok := rank[out[j]]
		switch {
		case iok && jok:
			return ri < rj
		case iok:
			return true
		case jok:
			return false
		default:
			return out[i] < out[j]
		}
	})
	return out
}
