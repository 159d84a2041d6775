package slip

import (
	"time"

	"github.com/adverant/nexus/slipocr-worker/internal/ocr"
)

// ParseResult is the classified template plus the raw field texts
type ParseResult struct {
	Type   TransactionType `json:"type"`
	Fields ParsedFields    `json:"fields"`
}

// Parser turns recognized words into a transaction payload
type Parser struct {
	now func() time.Time
}

// NewParser creates a parser that stamps fallback dates with the wall clock
func NewParser() *Parser {
	return &Parser{now: time.Now}
}

// ParseFields classifies the slip and extracts its fields.
// An unclassifiable slip returns ErrUnknownTransactionType.
func (p *Parser) ParseFields(words []ocr.Word, width, height int) (*ParseResult, error) {
	t := Classify(words, width, height)
	if t == TransactionUnknown {
		return nil, ErrUnknownTransactionType
	}

	fields, err := Extract(t, words, width, height)
	if err != nil {
		return nil, err
	}

	return &ParseResult{Type: t, Fields: fields}, nil
}

// Parse runs ParseFields and builds the payload from the OCR result
func (p *Parser) Parse(res *ocr.Result) (*ParseResult, *TransactionPayload, error) {
	parsed, err := p.ParseFields(res.Words, res.Width, res.Height)
	if err != nil {
		return nil, nil, err
	}
	return parsed, BuildPayload(parsed, p.now()), nil
}
