// Package betfair builds the Betfair SP and exchange-price side dataset that
// race records are enriched with.
package betfair

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode"
)

// Key identifies one runner in one race.
type Key struct {
	Date   string
	Region string
	Off    string
	Horse  string
}

// MakeKey normalises the parts so that results-site and Betfair spellings of
// the same runner collide.
func MakeKey(date, region, off, horse string) Key {
	return Key{
		Date:   strings.TrimSpace(date),
		Region: strings.ToLower(strings.TrimSpace(region)),
		Off:    NormaliseOff(off),
		Horse:  NormaliseHorse(horse),
	}
}

// Row is one runner's price data in source order.
type Row struct {
	Date   string
	Region string
	Off    string
	Horse  string
	Values map[string]string
}

// Dataset is built once per run and only read afterwards.
type Dataset struct {
	fields []string
	rows   []Row
	index  map[Key]map[string]string
}

// NewDataset indexes rows under their normalised keys. fields is the column
// set rendered by WriteCSV.
func NewDataset(fields []string, rows []Row) *Dataset {
	index := make(map[Key]map[string]string, len(rows))
	for _, r := range rows {
		index[MakeKey(r.Date, r.Region, r.Off, r.Horse)] = r.Values
	}
	return &Dataset{fields: fields, rows: rows, index: index}
}

// Lookup returns the price fields for a runner.
func (d *Dataset) Lookup(date, region, off, horse string) (map[string]string, bool) {
	if d == nil {
		return nil, false
	}
	v, ok := d.index[MakeKey(date, region, off, horse)]
	return v, ok
}

// Len reports the number of rows.
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.rows)
}

// WriteCSV renders the dataset with the leading date,region,off,horse columns
// followed by the configured fields. Missing values render as empty strings.
func (d *Dataset) WriteCSV(w io.Writer) error {
	header := append([]string{"date", "region", "off", "horse"}, d.fields...)
	if _, err := io.WriteString(w, strings.Join(header, ",")+"\n"); err != nil {
		return err
	}
	for _, r := range d.rows {
		values := make([]string, 0, len(header))
		values = append(values, r.Date, r.Region, r.Off, clean(r.Horse))
		for _, f := range d.fields {
			values = append(values, clean(r.Values[f]))
		}
		if _, err := io.WriteString(w, strings.Join(values, ",")+"\n"); err != nil {
			return err
		}
	}
	return nil
}

// NormaliseOff converts an off time to 24h "HH:MM". The results site prints
// afternoon times on a 12h clock without a suffix.
func NormaliseOff(off string) string {
	off = strings.TrimSpace(off)
	hh, mm, ok := strings.Cut(off, ":")
	if !ok {
		return off
	}
	hour, err := strconv.Atoi(hh)
	if err != nil {
		return off
	}
	if hour < 10 {
		hour += 12
	}
	if len(mm) > 2 {
		mm = mm[:2]
	}
	return fmt.Sprintf("%02d:%s", hour, mm)
}

// NormaliseHorse lower-cases a horse name and drops the country suffix and
// punctuation.
func NormaliseHorse(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.LastIndex(name, "("); i > 0 && strings.HasSuffix(name, ")") {
		name = name[:i]
	}
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func clean(v string) string {
	return strings.TrimSpace(strings.ReplaceAll(v, ",", " "))
}
