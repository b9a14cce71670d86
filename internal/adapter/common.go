package adapter

import (
	"html"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

func cleanText(value string) string {
	value = html.UnescapeString(value)
	return strings.Join(strings.Fields(value), " ")
}

func absoluteURL(base, href string) string {
	if href == "" {
		return ""
	}
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	if strings.HasPrefix(href, "//") {
		return "https:" + href
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return baseURL.ResolveReference(ref).String()
}

func parsePostedAt(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	layouts := []string{
		time.RFC3339,
		time.RFC3339Nano,
		"2006-01-02",
		"2006-01-02T15:04:05-0700",
		"2006-01-02 15:04:05",
	}
	for _, layout := range layouts {
		if ts, err := time.Parse(layout, value); err == nil {
			utc := ts.UTC()
			return &utc
		}
	}
	return nil
}

func isRemote(fields ...string) bool {
	joined := strings.ToLower(strings.Join(fields, " "))
	return strings.Contains(joined, "remote")
}

// salaryPattern matches "$120k", "$120,000", "120000 USD" style figures.
var salaryPattern = regexp.MustCompile(`(?i)[\$€£]?\s*(\d{1,3}(?:,\d{3})+|\d{2,3}k|\d{5,6})`)

// parseSalaryRange extracts up to two annual salary figures from free text.
// Sources that publish structured salary fields bypass this entirely.
func parseSalaryRange(text string) (min, max *float64) {
	matches := salaryPattern.FindAllStringSubmatch(text, 2)
	var values []float64
	for _, m := range matches {
		if v, ok := parseSalaryFigure(m[1]); ok {
			values = append(values, v)
		}
	}
	switch len(values) {
	case 0:
		return nil, nil
	case 1:
		return &values[0], nil
	default:
		lo, hi := values[0], values[1]
		if lo > hi {
			lo, hi = hi, lo
		}
		return &lo, &hi
	}
}

func parseSalaryFigure(raw string) (float64, bool) {
	raw = strings.ToLower(strings.ReplaceAll(raw, ",", ""))
	mult := 1.0
	if strings.HasSuffix(raw, "k") {
		raw = strings.TrimSuffix(raw, "k")
		mult = 1000
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	v *= mult
	// Plausible annual figures only; hourly rates and noise are discarded.
	if v < 10_000 || v > 2_000_000 {
		return 0, false
	}
	return v, true
}
