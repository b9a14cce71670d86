package adapter

import (
	"bytes"

	"github.com/PuerkitoBio/goquery"
)

// Detector decides whether a fetched page needs JavaScript rendering before
// its listings are parseable.
type Detector struct {
	minHTMLBytes int
	selectors    []string
	keywords     [][]byte
}

// NewDetector constructs a detector with the given thresholds. An empty
// selector on a shell page is the main signal boards like Dice give off.
func NewDetector(minBytes int, selectors, keywords []string) *Detector {
	lower := make([][]byte, 0, len(keywords))
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		lower = append(lower, bytes.ToLower([]byte(kw)))
	}
	return &Detector{
		minHTMLBytes: minBytes,
		selectors:    selectors,
		keywords:     lower,
	}
}

// NeedsJS inspects the static page body for signs it is a JS shell.
func (d *Detector) NeedsJS(body []byte) bool {
	if d == nil {
		return false
	}
	switch {
	case d.minHTMLBytes > 0 && len(body) < d.minHTMLBytes:
		return true
	case d.containsKeywords(body):
		return true
	default:
		return d.missingSelectors(body)
	}
}

func (d *Detector) containsKeywords(body []byte) bool {
	if len(body) == 0 || len(d.keywords) == 0 {
		return false
	}
	lowerBody := bytes.ToLower(body)
	for _, kw := range d.keywords {
		if bytes.Contains(lowerBody, kw) {
			return true
		}
	}
	return false
}

func (d *Detector) missingSelectors(body []byte) bool {
	if len(d.selectors) == 0 || len(body) == 0 {
		return false
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return true
	}
	for _, sel := range d.selectors {
		if sel == "" {
			continue
		}
		if doc.Find(sel).Length() == 0 {
			return true
		}
	}
	return false
}
