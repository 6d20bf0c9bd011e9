// internal/extract/parts.go

// Package extract pulls part and vehicle fields out of catalog HTML.
//
// Everything here is best effort. The target markup is neither documented
// nor stable, so these functions guess: they never fail, and a result with
// no parts or with placeholder parts is an expected outcome.
package extract

import (
	"html"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/valpere/vinparts/pkg/types"
)

// MaxPlaceholders caps the diagnostic records produced by the fallback scan.
const MaxPlaceholders = 10

// PlaceholderDescription labels every fallback record.
const PlaceholderDescription = "Unverified part reference (diagnostic placeholder)"

// Result is the output of Parts.
type Result struct {
	Parts []types.PartRecord
	// Placeholder is set when no structural pattern matched and Parts holds
	// fallback tokens rather than catalog rows.
	Placeholder bool
}

// structuralPatterns are tried in order; the first one producing any part wins.
var structuralPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<div[^>]*class="[^"]*(?:part|product|item|result)[^"]*"[^>]*>(.*?)</div>`),
	regexp.MustCompile(`(?is)<li[^>]*>(.*?)</li>`),
	regexp.MustCompile(`(?is)<tr[^>]*>(.*?)</tr>`),
	regexp.MustCompile(`(?is)<article[^>]*>(.*?)</article>`),
}

var currencyPattern = regexp.MustCompile(`[£$€]|\b(?:AED|USD|EUR|GBP)\b`)

var namePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)class="[^"]*(?:name|title|description)[^"]*"[^>]*>\s*([^<]+?)\s*<`),
	regexp.MustCompile(`(?is)<h[1-6][^>]*>\s*([^<]+?)\s*</h[1-6]>`),
	regexp.MustCompile(`(?is)<a[^>]*>\s*([^<]+?)\s*</a>`),
}

var partNumberPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)data-(?:part-?number|sku|oem)="([^"]+)"`),
	regexp.MustCompile(`(?is)class="[^"]*(?:part-?number|partno|sku|oem|number)[^"]*"[^>]*>\s*([A-Z0-9][A-Z0-9 .\-]{2,}?)\s*<`),
	regexp.MustCompile(`(?i)(?:part\s*(?:no|number|#)|oem|sku)[\s.:#]*([A-Z0-9][A-Z0-9\-]{3,})`),
}

var pricePatterns = []*regexp.Regexp{
	regexp.MustCompile(`([£$€])\s*([0-9][0-9,]*(?:\.[0-9]{1,2})?)`),
	regexp.MustCompile(`([0-9][0-9,.]*)\s*(AED|USD|EUR|GBP|€)`),
}

var (
	brandPattern        = regexp.MustCompile(`(?is)class="[^"]*(?:brand|manufacturer)[^"]*"[^>]*>\s*([^<]+?)\s*<`)
	availabilityPattern = regexp.MustCompile(`(?is)class="[^"]*(?:availability|stock)[^"]*"[^>]*>\s*([^<]+?)\s*<`)
	cellPattern         = regexp.MustCompile(`(?is)<td[^>]*>\s*([^<]+?)\s*</td>`)
	tokenPattern        = regexp.MustCompile(`\b[A-Z0-9]{8,}\b`)
	digitPattern        = regexp.MustCompile(`[0-9]`)
)

var currencySymbols = map[string]string{
	"£":   "GBP",
	"$":   "USD",
	"€":   "EUR",
	"AED": "AED",
	"USD": "USD",
	"EUR": "EUR",
	"GBP": "GBP",
}

// Parts extracts part records from html. Tokens listed in exclude (usually
// the VIN being looked up) are never reported as fallback part numbers.
func Parts(page string, exclude ...string) Result {
	for _, pattern := range structuralPatterns {
		parts := matchFragments(pattern, page)
		if len(parts) > 0 {
			return Result{Parts: parts}
		}
	}

	placeholders := fallbackTokens(page, exclude)
	return Result{Parts: placeholders, Placeholder: len(placeholders) > 0}
}

func matchFragments(pattern *regexp.Regexp, page string) []types.PartRecord {
	var parts []types.PartRecord
	for _, m := range pattern.FindAllStringSubmatch(page, -1) {
		fragment := m[1]
		if !currencyPattern.MatchString(fragment) {
			continue
		}
		part, ok := parseFragment(fragment)
		if !ok {
			continue
		}
		part.ID = len(parts) + 1
		parts = append(parts, part)
	}
	return parts
}

// parseFragment needs a price plus either a name or a part number.
func parseFragment(fragment string) (types.PartRecord, bool) {
	price, currency, ok := parsePrice(fragment)
	if !ok {
		return types.PartRecord{}, false
	}

	name := firstMatch(namePatterns, fragment)
	number := firstMatch(partNumberPatterns, fragment)

	// table rows rarely carry classes; fall back to positional cells
	if name == "" || number == "" {
		cells := cellPattern.FindAllStringSubmatch(fragment, -1)
		if number == "" && len(cells) > 0 && !currencyPattern.MatchString(cells[0][1]) {
			number = clean(cells[0][1])
		}
		if name == "" && len(cells) > 1 && !currencyPattern.MatchString(cells[1][1]) {
			name = clean(cells[1][1])
		}
	}

	if name == "" && number == "" {
		return types.PartRecord{}, false
	}

	part := types.PartRecord{
		Kind:         types.PartKindReal,
		PartNumber:   strings.ToUpper(strings.ReplaceAll(number, " ", "")),
		Description:  name,
		Price:        price,
		Currency:     currency,
		Availability: "Unknown",
	}
	if m := brandPattern.FindStringSubmatch(fragment); m != nil {
		part.Brand = clean(m[1])
	}
	if m := availabilityPattern.FindStringSubmatch(fragment); m != nil {
		part.Availability = clean(m[1])
	}
	return part, true
}

func firstMatch(patterns []*regexp.Regexp, fragment string) string {
	for _, p := range patterns {
		if m := p.FindStringSubmatch(fragment); m != nil {
			if v := clean(m[1]); v != "" {
				return v
			}
		}
	}
	return ""
}

func parsePrice(fragment string) (float64, string, bool) {
	if m := pricePatterns[0].FindStringSubmatch(fragment); m != nil {
		if v, ok := parseAmount(m[2]); ok {
			return v, currencySymbols[m[1]], true
		}
	}
	if m := pricePatterns[1].FindStringSubmatch(fragment); m != nil {
		if v, ok := parseAmount(m[1]); ok {
			return v, currencySymbols[m[2]], true
		}
	}
	return 0, "", false
}

// parseAmount accepts "1,234.50", "1234.5" and the decimal-comma "12,50".
func parseAmount(s string) (float64, bool) {
	s = strings.TrimRight(s, ".,")
	if i := strings.LastIndex(s, ","); i >= 0 && !strings.Contains(s, ".") && len(s)-i-1 <= 2 {
		s = s[:i] + "." + s[i+1:]
	}
	s = strings.ReplaceAll(s, ",", "")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// fallbackTokens scans visible page text for part-number-like tokens.
func fallbackTokens(page string, exclude []string) []types.PartRecord {
	text := visibleText(page)

	skip := make(map[string]bool, len(exclude))
	for _, e := range exclude {
		skip[strings.ToUpper(e)] = true
	}

	var parts []types.PartRecord
	seen := make(map[string]bool)
	for _, token := range tokenPattern.FindAllString(text, -1) {
		if seen[token] || skip[token] || !digitPattern.MatchString(token) {
			continue
		}
		seen[token] = true
		parts = append(parts, types.PartRecord{
			ID:           len(parts) + 1,
			Kind:         types.PartKindPlaceholder,
			PartNumber:   token,
			Description:  PlaceholderDescription,
			Availability: "Unknown",
		})
		if len(parts) == MaxPlaceholders {
			break
		}
	}
	return parts
}

// visibleText drops scripts and styles so inline JS identifiers do not show
// up as part numbers.
func visibleText(page string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return page
	}
	doc.Find("script, style, noscript").Remove()
	return doc.Text()
}

func clean(s string) string {
	s = html.UnescapeString(s)
	return strings.Join(strings.Fields(s), " ")
}
