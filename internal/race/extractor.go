// Package race turns a race result document into one record per runner.
package race

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	// ErrVoidRace marks a race that was declared void or has no result.
	ErrVoidRace = errors.New("void race")
	// ErrMalformed marks a document that does not look like a result page.
	ErrMalformed = errors.New("malformed race document")
)

// Record is one runner's values, aligned to the run's header.
type Record []string

// Info describes the race a set of records belongs to.
type Info struct {
	Ref
	Region   string
	Off      string
	Name     string
	Type     string
	Class    string
	Distance string
	Going    string
	Runners  int
}

// Race is the extraction result for one document.
type Race struct {
	Info    Info
	Records []Record
}

// Enricher supplies extra per-runner fields keyed by race identity.
type Enricher interface {
	Lookup(date, region, off, horse string) (map[string]string, bool)
}

// Extractor parses one fetched document. enrich may be nil.
type Extractor interface {
	Extract(rawURL string, body []byte, enrich Enricher) (*Race, error)
}

var raceFields = map[string]struct{}{
	"date": {}, "region": {}, "course_id": {}, "course": {}, "race_id": {}, "off": {},
	"race_name": {}, "type": {}, "class": {}, "dist": {}, "going": {}, "ran": {},
}

var runnerFields = map[string]struct{}{
	"num": {}, "pos": {}, "draw": {}, "ovr_btn": {}, "btn": {}, "horse": {}, "age": {},
	"lbs": {}, "sp": {}, "jockey": {}, "trainer": {}, "or": {}, "rpr": {},
}

// HTMLExtractor reads racingpost.com result pages.
type HTMLExtractor struct {
	fields   []string
	regionOf func(courseID string) string
}

// NewHTMLExtractor validates fields against the columns it can produce.
// priceFields are accepted as enrichment columns.
func NewHTMLExtractor(fields, priceFields []string, regionOf func(courseID string) string) (*HTMLExtractor, error) {
	prices := make(map[string]struct{}, len(priceFields))
	for _, f := range priceFields {
		prices[f] = struct{}{}
	}
	for _, f := range fields {
		_, isRace := raceFields[f]
		_, isRunner := runnerFields[f]
		_, isPrice := prices[f]
		if !isRace && !isRunner && !isPrice {
			return nil, fmt.Errorf("unknown output field %q", f)
		}
	}
	if regionOf == nil {
		regionOf = func(string) string { return "" }
	}
	return &HTMLExtractor{fields: fields, regionOf: regionOf}, nil
}

// Extract parses body into one record per runner.
func (e *HTMLExtractor) Extract(rawURL string, body []byte, enrich Enricher) (*Race, error) {
	ref, err := ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: parse html: %v", ErrMalformed, err)
	}

	info, err := e.readInfo(doc, ref)
	if err != nil {
		return nil, err
	}

	rows := doc.Find("tr.rp-horseTable__mainRow")
	if rows.Length() == 0 {
		return nil, ErrVoidRace
	}
	info.Runners = rows.Length()

	runners := make([]map[string]string, 0, rows.Length())
	void := true
	var overall float64
	rows.Each(func(_ int, row *goquery.Selection) {
		r := readRunner(row)
		if !strings.EqualFold(r["pos"], "VOI") {
			void = false
		}
		if len(runners) == 0 && r["btn"] == "" {
			r["btn"] = "0"
		}
		if lengths, ok := ParseLengths(r["btn"]); ok {
			overall += lengths
			r["ovr_btn"] = formatLengths(overall)
		}
		runners = append(runners, r)
	})
	if void {
		return nil, ErrVoidRace
	}

	raceValues := map[string]string{
		"date":      info.Date,
		"region":    strings.ToUpper(info.Region),
		"course_id": info.CourseID,
		"course":    info.Course,
		"race_id":   info.RaceID,
		"off":       info.Off,
		"race_name": info.Name,
		"type":      info.Type,
		"class":     info.Class,
		"dist":      info.Distance,
		"going":     info.Going,
		"ran":       strconv.Itoa(info.Runners),
	}

	records := make([]Record, 0, len(runners))
	for _, r := range runners {
		var prices map[string]string
		if enrich != nil {
			prices, _ = enrich.Lookup(info.Date, info.Region, info.Off, r["horse"])
		}
		rec := make(Record, len(e.fields))
		for i, f := range e.fields {
			if v, ok := raceValues[f]; ok {
				rec[i] = clean(v)
			} else if v, ok := r[f]; ok {
				rec[i] = clean(v)
			} else {
				rec[i] = clean(prices[f])
			}
		}
		records = append(records, rec)
	}
	return &Race{Info: info, Records: records}, nil
}

func (e *HTMLExtractor) readInfo(doc *goquery.Document, ref Ref) (Info, error) {
	info := Info{Ref: ref, Region: e.regionOf(ref.CourseID)}

	info.Off = text(doc.Find(".rp-raceTimeCourseName__time").First())
	info.Name = text(doc.Find(".rp-raceTimeCourseName__title").First())
	if info.Off == "" || info.Name == "" {
		return Info{}, fmt.Errorf("%w: missing race header", ErrMalformed)
	}
	if course := text(doc.Find(".rp-raceTimeCourseName__name").First()); course != "" {
		info.Course = course
	}
	info.Class = strings.Trim(text(doc.Find(".rp-raceTimeCourseName_class").First()), "()")
	info.Distance = text(doc.Find(".rp-raceTimeCourseName_distance").First())
	info.Going = text(doc.Find(".rp-raceTimeCourseName_condition").First())
	info.Type = Classify(info.Name)
	return info, nil
}

func readRunner(row *goquery.Selection) map[string]string {
	r := map[string]string{
		"num":     strings.TrimSuffix(text(row.Find(".rp-horseTable__saddleClothNo").First()), "."),
		"pos":     text(row.Find("[data-test-selector='text-horsePosition']").First()),
		"draw":    strings.Trim(text(row.Find(".rp-horseTable__pos__draw").First()), "() "),
		"btn":     text(row.Find(".rp-horseTable__pos__length > span").First()),
		"horse":   text(row.Find("a[data-test-selector='link-horseName']").First()),
		"age":     text(row.Find("[data-test-selector='horse-age']").First()),
		"sp":      text(row.Find(".rp-horseTable__horse__price").First()),
		"jockey":  text(row.Find("a[data-test-selector='link-jockeyName']").First()),
		"trainer": text(row.Find("a[data-test-selector='link-trainerName']").First()),
		"or":      rating(text(row.Find("td[data-ending='OR']").First())),
		"rpr":     rating(text(row.Find("td[data-ending='RPR']").First())),
		"ovr_btn": "",
	}
	st, errSt := strconv.Atoi(text(row.Find("[data-test-selector='horse-weight-st']").First()))
	lb, errLb := strconv.Atoi(text(row.Find("[data-test-selector='horse-weight-lb']").First()))
	if errSt == nil && errLb == nil {
		r["lbs"] = strconv.Itoa(st*14 + lb)
	}
	return r
}

// Classify derives the race type from the race title.
func Classify(name string) string {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "chase"):
		return TypeChase
	case strings.Contains(lower, "hurdle"):
		return TypeHurdle
	case strings.Contains(lower, "national hunt flat"),
		strings.Contains(lower, "nh flat"),
		strings.Contains(lower, "bumper"):
		return TypeNHFlat
	default:
		return TypeFlat
	}
}

func rating(v string) string {
	if v == "–" || v == "-" {
		return ""
	}
	return v
}

func text(s *goquery.Selection) string {
	return strings.Join(strings.Fields(s.Text()), " ")
}

func clean(v string) string {
	return strings.TrimSpace(strings.ReplaceAll(v, ",", " "))
}
