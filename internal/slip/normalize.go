package slip

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const isoDate = "2006-01-02"

var thaiDigits = strings.NewReplacer(
	"๐", "0", "๑", "1", "๒", "2", "๓", "3", "๔", "4",
	"๕", "5", "๖", "6", "๗", "7", "๘", "8", "๙", "9",
)

// ThaiToASCIIDigits rewrites Thai numeral glyphs as ASCII digits
func ThaiToASCIIDigits(s string) string {
	return thaiDigits.Replace(s)
}

var currencyMarkers = strings.NewReplacer(
	"บาท", "",
	"บ.", "",
	"฿", "",
	"THB", "",
	"thb", "",
	"Baht", "",
	"BAHT", "",
	"baht", "",
)

var (
	reAmount        = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?|\.\d+`)
	reSecondDecimal = regexp.MustCompile(`^\.\d`)
)

// NormalizeAmount extracts a number from free-form amount text.
// ok is false when the text has no usable number, or when the number
// runs on into a second decimal point ("1.234.56").
func NormalizeAmount(raw string) (amount float64, ok bool) {
	s := ThaiToASCIIDigits(raw)
	s = currencyMarkers.Replace(s)
	s = strings.Join(strings.Fields(s), "")

	loc := reAmount.FindStringIndex(s)
	if loc == nil {
		return 0, false
	}
	if reSecondDecimal.MatchString(s[loc[1]:]) {
		return 0, false
	}

	num := s[loc[0]:loc[1]]
	if strings.HasPrefix(num, ".") {
		num = "0" + num
	}

	// with or without a decimal point, commas are thousands separators
	if strings.Contains(num, ",") {
		num = strings.ReplaceAll(num, ",", "")
	}

	d, err := decimal.NewFromString(num)
	if err != nil {
		return 0, false
	}
	return d.InexactFloat64(), true
}

// Thai month abbreviations, without dots, indexed by month number - 1
var thaiMonths = []string{
	"มค", "กพ", "มีค", "เมย", "พค", "มิย",
	"กค", "สค", "กย", "ตค", "พย", "ธค",
}

var (
	reThaiDate = regexp.MustCompile(
		`(\d{1,2})\s*(ม\.?ค\.?|ก\.?พ\.?|มี\.?ค\.?|เม\.?ย\.?|พ\.?ค\.?|มิ\.?ย\.?|ก\.?ค\.?|ส\.?ค\.?|ก\.?ย\.?|ต\.?ค\.?|พ\.?ย\.?|ธ\.?ค\.?)\s*(\d{4}|\d{2})`)
	reDelimitedDate = regexp.MustCompile(`\d{1,4}[/\-.]\d{1,2}[/\-.]\d{1,4}`)
	reCompactDate   = regexp.MustCompile(`\d{8}`)
)

type dateLayout struct {
	layout    string
	shortYear bool
}

// Delimited layouts, tried in order. Separators are rewritten to "/" first.
var delimitedLayouts = []dateLayout{
	{"2/1/2006", false},
	{"2/1/06", true},
	{"2006/1/2", false},
	{"06/1/2", true},
}

// NormalizeDate parses a slip date. The result is midnight UTC.
func NormalizeDate(raw string) (time.Time, bool) {
	s := ThaiToASCIIDigits(raw)

	if t, ok := parseThaiMonthDate(s); ok {
		return t, true
	}
	if t, ok := parseDelimitedDate(s); ok {
		return t, true
	}
	if t, ok := parseCompactDate(s); ok {
		return t, true
	}
	return time.Time{}, false
}

func parseThaiMonthDate(s string) (time.Time, bool) {
	for _, m := range reThaiDate.FindAllStringSubmatch(s, -1) {
		day, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		month := thaiMonthNumber(strings.ReplaceAll(m[2], ".", ""))
		if month == 0 {
			continue
		}
		year, err := strconv.Atoi(m[3])
		if err != nil {
			continue
		}
		if len(m[3]) == 2 {
			year += 2000
		}
		if t, ok := makeDate(year, month, day); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

func thaiMonthNumber(abbr string) int {
	for i, name := range thaiMonths {
		if name == abbr {
			return i + 1
		}
	}
	return 0
}

func parseDelimitedDate(s string) (time.Time, bool) {
	for _, token := range reDelimitedDate.FindAllString(s, -1) {
		token = strings.NewReplacer("-", "/", ".", "/").Replace(token)
		for _, l := range delimitedLayouts {
			t, err := time.Parse(l.layout, token)
			if err != nil {
				continue
			}
			year := t.Year()
			if l.shortYear {
				year = 2000 + year%100
			}
			return time.Date(year, t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}

func parseCompactDate(s string) (time.Time, bool) {
	for _, token := range reCompactDate.FindAllString(s, -1) {
		if t, err := time.Parse("20060102", token); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// makeDate rejects overflowing dates such as 31 February
func makeDate(year, month, day int) (time.Time, bool) {
	if month < 1 || month > 12 || day < 1 {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day || int(t.Month()) != month {
		return time.Time{}, false
	}
	return t, true
}

// NormalizeFields rewrites the date field as YYYY-MM-DD when it parses.
// An unparseable date keeps its raw text. Other fields are left untouched.
func NormalizeFields(fields ParsedFields) ParsedFields {
	out := make(ParsedFields, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	if raw, ok := fields.Get(FieldDate); ok {
		if t, ok := NormalizeDate(raw); ok {
			out.Set(FieldDate, t.Format(isoDate))
		}
	}
	return out
}
