package slip

import (
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/adverant/nexus/slipocr-worker/internal/ocr"
)

// Header markers printed by the bank app
const (
	billMarker     = "จ่ายบิล"
	transferMarker = "โอนเงิน"
)

var (
	normBillMarker     = norm.NFC.String(billMarker)
	normTransferMarker = norm.NFC.String(transferMarker)
)

// Classify decides the template from words whose centroid is in the header zone.
// Words are scanned in the order given and the first marker found wins.
func Classify(words []ocr.Word, width, height int) TransactionType {
	w, h := float64(width), float64(height)

	for _, word := range words {
		if word.Text == "" {
			continue
		}
		if !HeaderZone.Contains(word.Centroid(), w, h) {
			continue
		}

		text := norm.NFC.String(word.Text)
		if strings.Contains(text, normBillMarker) {
			return TransactionBill
		}
		if strings.Contains(text, normTransferMarker) {
			return TransactionTransfer
		}
	}

	return TransactionUnknown
}
