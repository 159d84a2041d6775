package slip

import "time"

// PayloadTypeExpense is the only transaction direction a slip produces
const PayloadTypeExpense = "expense"

var categories = map[TransactionType]string{
	TransactionBill:     "Bill Payment",
	TransactionTransfer: "Transfer",
}

// TransactionPayload is the body delivered under "data" on success.
// The Estimated flags mark values that were not read from the slip.
type TransactionPayload struct {
	Type            string  `json:"type"`
	Amount          float64 `json:"amount"`
	Date            string  `json:"date"`
	Description     string  `json:"description"`
	Category        string  `json:"category"`
	DateEstimated   bool    `json:"dateEstimated,omitempty"`
	AmountEstimated bool    `json:"amountEstimated,omitempty"`
}

// BuildPayload normalizes parsed fields into a payload.
// A missing or unreadable amount becomes 0, a missing or unreadable date becomes now.
func BuildPayload(result *ParseResult, now time.Time) *TransactionPayload {
	p := &TransactionPayload{
		Type:     PayloadTypeExpense,
		Category: categories[result.Type],
	}

	if raw, ok := result.Fields.Get(FieldAmount); ok {
		p.Amount, ok = NormalizeAmount(raw)
		p.AmountEstimated = !ok
	} else {
		p.AmountEstimated = true
	}

	if raw, ok := result.Fields.Get(FieldDate); ok {
		if t, ok := NormalizeDate(raw); ok {
			p.Date = t.Format(time.RFC3339)
		}
	}
	if p.Date == "" {
		p.Date = now.UTC().Format(time.RFC3339)
		p.DateEstimated = true
	}

	if payee, ok := result.Fields.Get(FieldPayee); ok {
		p.Description = payee
	} else if payer, ok := result.Fields.Get(FieldPayer); ok {
		p.Description = payer
	}

	return p
}

// Unreadable lists fields that were present but could not be normalized
func Unreadable(result *ParseResult) []Field {
	var out []Field
	if raw, ok := result.Fields.Get(FieldAmount); ok {
		if _, ok := NormalizeAmount(raw); !ok {
			out = append(out, FieldAmount)
		}
	}
	if raw, ok := result.Fields.Get(FieldDate); ok {
		if _, ok := NormalizeDate(raw); !ok {
			out = append(out, FieldDate)
		}
	}
	return out
}
