package slip

import (
	"errors"
	"sort"
	"strings"

	"github.com/adverant/nexus/slipocr-worker/internal/ocr"
)

// ErrUnknownTransactionType is returned when no template can be chosen
var ErrUnknownTransactionType = errors.New("unknown transaction type: cannot determine bill/transfer")

// ParsedFields maps each field to its text. A nil value means no word matched.
type ParsedFields map[Field]*string

// Get returns the field text and whether any word matched
func (f ParsedFields) Get(field Field) (string, bool) {
	v, ok := f[field]
	if !ok || v == nil {
		return "", false
	}
	return *v, true
}

// Set stores a value for a field
func (f ParsedFields) Set(field Field, value string) {
	f[field] = &value
}

// Extract assigns words to the fields of the given template by centroid
// containment and rebuilds each field in reading order.
func Extract(t TransactionType, words []ocr.Word, width, height int) (ParsedFields, error) {
	zones, ok := ZonesFor(t)
	if !ok {
		return nil, ErrUnknownTransactionType
	}

	w, h := float64(width), float64(height)
	fields := make(ParsedFields, len(zones))

	for _, field := range Fields {
		zone, ok := zones[field]
		if !ok {
			continue
		}

		var matched []ocr.Word
		for _, word := range words {
			if word.Text == "" {
				continue
			}
			if zone.Contains(word.Centroid(), w, h) {
				matched = append(matched, word)
			}
		}

		fields[field] = concatWords(matched)
	}

	return fields, nil
}

// concatWords joins words top-to-bottom, left-to-right. Nil when empty.
func concatWords(words []ocr.Word) *string {
	if len(words) == 0 {
		return nil
	}

	sorted := make([]ocr.Word, len(words))
	copy(sorted, words)
	sort.SliceStable(sorted, func(i, j int) bool {
		yi, yj := sorted[i].MinY(), sorted[j].MinY()
		if yi != yj {
			return yi < yj
		}
		xi, xj := sorted[i].MinX(), sorted[j].MinX()
		if xi != xj {
			return xi < xj
		}
		// identical boxes: keep output independent of OCR order
		return sorted[i].Text < sorted[j].Text
	})

	texts := make([]string, 0, len(sorted))
	for _, w := range sorted {
		texts = append(texts, w.Text)
	}
	joined := strings.Join(texts, " ")
	return &joined
}
