// internal/extract/vehicle.go
package extract

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/valpere/vinparts/pkg/types"
)

var (
	labelPatterns = map[string]*regexp.Regexp{
		"make":   regexp.MustCompile(`(?i)\b(?:make|brand|manufacturer)\s*[:\-]\s*([A-Za-z][A-Za-z \-]{1,30}?)\s*(?:[,;|\n]|$)`),
		"model":  regexp.MustCompile(`(?i)\bmodel\s*[:\-]\s*([^,;|\n]{1,40}?)\s*(?:[,;|\n]|$)`),
		"year":   regexp.MustCompile(`(?i)\b(?:model year|year|production date|date)\s*[:\-]\s*((?:19|20)\d{2})`),
		"engine": regexp.MustCompile(`(?i)\bengine(?: code)?\s*[:\-]\s*([^,;|\n]{1,40}?)\s*(?:[,;|\n]|$)`),
	}
	headingPattern = regexp.MustCompile(`\b((?:19|20)\d{2})\s+([A-Z][A-Za-z\-]+)\s+([A-Za-z0-9][A-Za-z0-9 .\-()]{0,40})`)
	yearPattern    = regexp.MustCompile(`^(?:19|20)\d{2}`)
)

// wmiMakes maps world manufacturer identifiers (VIN prefix) to makes for
// when the page itself does not say.
var wmiMakes = map[string]string{
	"WBA": "BMW", "WBS": "BMW", "WBY": "BMW", "WMW": "MINI",
	"WAU": "Audi", "WUA": "Audi", "WVW": "Volkswagen", "WV1": "Volkswagen", "WV2": "Volkswagen",
	"WDB": "Mercedes-Benz", "WDD": "Mercedes-Benz", "W1K": "Mercedes-Benz",
	"WP0": "Porsche", "VF1": "Renault", "VF3": "Peugeot", "VF7": "Citroen",
	"SAL": "Land Rover", "SAJ": "Jaguar", "SCC": "Lotus", "ZFA": "Fiat", "ZAR": "Alfa Romeo",
	"YV1": "Volvo", "TMB": "Skoda", "VSS": "SEAT",
	"JTD": "Toyota", "JTE": "Toyota", "JT1": "Toyota", "SB1": "Toyota",
	"JHM": "Honda", "1HG": "Honda", "SHH": "Honda", "JN1": "Nissan", "SJN": "Nissan",
	"KMH": "Hyundai", "KNA": "Kia", "JMZ": "Mazda", "JF1": "Subaru",
	"1FA": "Ford", "WF0": "Ford", "1G1": "Chevrolet", "5YJ": "Tesla",
}

var titleCaser = cases.Title(language.English)

// Vehicle extracts a vehicle descriptor from a lookup page. It returns nil
// when neither the page nor the VIN prefix says anything about the vehicle.
func Vehicle(page, vin string) *types.VehicleInfo {
	fields := labelledFields(page)

	info := &types.VehicleInfo{
		VIN:    vin,
		Make:   normalizeMake(fields["make"]),
		Model:  fields["model"],
		Engine: fields["engine"],
	}
	if y, err := strconv.Atoi(fields["year"]); err == nil {
		info.Year = y
	}

	if info.Make == "" && len(vin) >= 3 {
		info.Make = wmiMakes[strings.ToUpper(vin[:3])]
	}

	if ctx, ok := VehicleContext(page); ok {
		info.CatalogCode = ctx.CatalogCode
		info.VehicleID = ctx.VehicleID
		info.SessionData = ctx.SessionData
	}

	if info.Make == "" && info.Model == "" && info.Year == 0 && info.Engine == "" {
		return nil
	}
	return info
}

// labelledFields reads label/value pairs from definition lists and two-cell
// table rows, then from "Label: value" text, then from a "YEAR MAKE MODEL"
// heading.
func labelledFields(page string) map[string]string {
	fields := make(map[string]string)
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return fields
	}

	put := func(label, value string) {
		key := labelKey(label)
		value = clean(value)
		if key == "" || value == "" || fields[key] != "" {
			return
		}
		if key == "year" {
			value = yearPattern.FindString(value)
			if value == "" {
				return
			}
		}
		fields[key] = value
	}

	doc.Find("dt").Each(func(_ int, dt *goquery.Selection) {
		put(dt.Text(), dt.NextFiltered("dd").Text())
	})
	doc.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		cells := tr.Find("th, td")
		if cells.Length() == 2 {
			put(cells.Eq(0).Text(), cells.Eq(1).Text())
		}
	})

	doc.Find("script, style").Remove()
	text := doc.Text()
	for key, pattern := range labelPatterns {
		if fields[key] != "" {
			continue
		}
		if m := pattern.FindStringSubmatch(text); m != nil {
			fields[key] = clean(m[1])
		}
	}

	if fields["make"] == "" {
		heading := clean(doc.Find("h1").First().Text())
		if heading == "" {
			heading = clean(doc.Find("title").First().Text())
		}
		if m := headingPattern.FindStringSubmatch(heading); m != nil {
			if fields["year"] == "" {
				fields["year"] = m[1]
			}
			fields["make"] = m[2]
			if fields["model"] == "" {
				fields["model"] = strings.TrimSpace(m[3])
			}
		}
	}
	return fields
}

func labelKey(label string) string {
	label = strings.ToLower(strings.TrimSuffix(strings.TrimSpace(label), ":"))
	switch label {
	case "make", "brand", "manufacturer", "marque":
		return "make"
	case "model", "series":
		return "model"
	case "year", "model year", "production date", "date":
		return "year"
	case "engine", "engine code", "engine type":
		return "engine"
	}
	return ""
}

// normalizeMake maps known makes to their canonical spelling and title-cases
// the rest, keeping short acronyms as written.
func normalizeMake(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	for _, known := range wmiMakes {
		if strings.EqualFold(known, name) {
			return known
		}
	}
	if len(name) <= 4 && name == strings.ToUpper(name) {
		return name
	}
	return titleCaser.String(strings.ToLower(name))
}

// Context is the opaque catalog context the parts listing is requested under.
type Context struct {
	CatalogCode string // c
	VehicleID   string // vid
	SessionData string // ssd
	CategoryID  string // cid, optional
}

// VehicleContext recovers the catalog context from a lookup page, from
// catalog links first and hidden inputs or data attributes second.
func VehicleContext(page string) (Context, bool) {
	var ctx Context
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return ctx, false
	}

	doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		u, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return true
		}
		q := u.Query()
		if q.Get("c") == "" || q.Get("vid") == "" {
			return true
		}
		ctx = Context{
			CatalogCode: q.Get("c"),
			VehicleID:   q.Get("vid"),
			SessionData: q.Get("ssd"),
			CategoryID:  q.Get("cid"),
		}
		return false
	})
	if ctx.CatalogCode != "" {
		return ctx, true
	}

	lookup := func(name string) string {
		if v, ok := doc.Find(`input[name="` + name + `"]`).Attr("value"); ok && v != "" {
			return v
		}
		if v, ok := doc.Find(`[data-` + name + `]`).Attr("data-" + name); ok {
			return v
		}
		return ""
	}
	ctx = Context{
		CatalogCode: lookup("c"),
		VehicleID:   lookup("vid"),
		SessionData: lookup("ssd"),
		CategoryID:  lookup("cid"),
	}
	if ctx.CatalogCode == "" {
		ctx.CatalogCode = lookup("catalog")
	}
	return ctx, ctx.CatalogCode != "" && ctx.VehicleID != ""
}
