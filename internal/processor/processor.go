/**
 * Slip Processor for the slip OCR worker
 *
 * Runs one job through the pipeline:
 * - Preprocessing filter chain (decode, grayscale, blur, contrast, upscale)
 * - Word-level OCR on the configured backend
 * - Template classification and spatial field extraction
 * - Optional Gemini disambiguation of missing payer/payee
 * - Payload construction and audit record
 */

package processor

import (
	"context"
	stderrors "errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/adverant/nexus/slipocr-worker/internal/errors"
	"github.com/adverant/nexus/slipocr-worker/internal/logging"
	"github.com/adverant/nexus/slipocr-worker/internal/ocr"
	"github.com/adverant/nexus/slipocr-worker/internal/slip"
	"github.com/adverant/nexus/slipocr-worker/internal/storage"
)

// SlipProcessorInterface is what the consumer needs from the pipeline
type SlipProcessorInterface interface {
	Process(ctx context.Context, req *ProcessRequest) (*ProcessResult, error)
}

// Disambiguator fills payer/payee when the zones came back empty.
// Returned pointers are nil when the helper has no suggestion.
type Disambiguator interface {
	SuggestParties(ctx context.Context, rawText string, fields slip.ParsedFields) (payer, payee *string, err error)
}

// ProcessorConfig holds processor dependencies
type ProcessorConfig struct {
	Engine        ocr.Engine
	Preprocessor  Preprocessor
	Parser        *slip.Parser
	Disambiguator Disambiguator     // optional
	Audit         storage.AuditSink // optional
}

// ProcessRequest represents a slip processing request
type ProcessRequest struct {
	JobID     string
	ImagePath string
}

// ProcessResult represents the processing result
type ProcessResult struct {
	Type             slip.TransactionType
	Fields           slip.ParsedFields
	Payload          *slip.TransactionPayload
	OCR              *ocr.Result
	ProcessingTimeMs int64
}

// SlipProcessor handles slip processing
type SlipProcessor struct {
	engine        ocr.Engine
	preprocessor  Preprocessor
	parser        *slip.Parser
	disambiguator Disambiguator
	audit         storage.AuditSink
	logger        *logging.Logger
}

// NewSlipProcessor creates a new slip processor
func NewSlipProcessor(cfg *ProcessorConfig) (*SlipProcessor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("OCR engine is required")
	}
	if cfg.Preprocessor == nil {
		return nil, fmt.Errorf("preprocessor is required")
	}

	parser := cfg.Parser
	if parser == nil {
		parser = slip.NewParser()
	}
	audit := cfg.Audit
	if audit == nil {
		audit = storage.NopSink{}
	}

	return &SlipProcessor{
		engine:        cfg.Engine,
		preprocessor:  cfg.Preprocessor,
		parser:        parser,
		disambiguator: cfg.Disambiguator,
		audit:         audit,
		logger:        logging.NewLogger("processor"),
	}, nil
}

// Process runs the slip pipeline. Every failure, panics included, comes back
// as a *errors.ProcessingError and leaves a failed audit record.
func (p *SlipProcessor) Process(ctx context.Context, req *ProcessRequest) (result *ProcessResult, err error) {
	start := time.Now()
	log := p.logger.With("job_id", req.JobID)
	var ocrResult *ocr.Result

	defer func() {
		if r := recover(); r != nil {
			stack := string(debug.Stack())
			result, err = nil, errors.NewJobPanicError(req.JobID, r, stack)
		}
		if err != nil {
			p.recordFailure(ctx, req.JobID, ocrResult, err, time.Since(start))
		}
	}()

	log.Info("Starting slip processing", "image_path", req.ImagePath)

	// Step 1: Preprocess
	img, err := p.preprocessor.Preprocess(ctx, req.JobID, req.ImagePath)
	if err != nil {
		return nil, errors.NewPreprocessingFailedError(req.JobID, req.ImagePath, err)
	}

	// Step 2: OCR
	ocrResult, err = p.engine.Recognize(ctx, img)
	if err != nil {
		return nil, errors.NewOCRFailedError(req.JobID, p.engine.Name(), err)
	}
	log.Info("OCR complete",
		"backend", ocrResult.Backend,
		"words", len(ocrResult.Words),
		"confidence_avg", ocrResult.ConfidenceAvg,
	)

	// Step 3: Classify and extract
	parsed, err := p.parser.ParseFields(ocrResult.Words, ocrResult.Width, ocrResult.Height)
	if err != nil {
		if stderrors.Is(err, slip.ErrUnknownTransactionType) {
			return nil, errors.NewUnknownTransactionTypeError(req.JobID, err)
		}
		return nil, fmt.Errorf("failed to parse slip: %w", err)
	}
	log.Info("Slip classified", "transaction_type", parsed.Type)

	// Step 4: Optional disambiguation of empty party fields
	p.disambiguate(ctx, log, ocrResult.RawText, parsed.Fields)

	for _, field := range slip.Unreadable(parsed) {
		raw, _ := parsed.Fields.Get(field)
		nerr := errors.NewFieldNormalizationError(req.JobID, string(field), raw)
		log.Warn("Field could not be normalized, using fallback",
			"error_code", nerr.Code,
			"field", field,
			"raw", raw,
		)
	}

	// Step 5: Payload
	payload := slip.BuildPayload(parsed, time.Now())

	result = &ProcessResult{
		Type:             parsed.Type,
		Fields:           slip.NormalizeFields(parsed.Fields),
		Payload:          payload,
		OCR:              ocrResult,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	}

	// Step 6: Audit (non-fatal)
	rec := storage.NewAuditRecord(req.JobID, storage.StatusSuccess)
	rec.TransactionType = result.Type
	rec.OCR = ocrResult
	rec.Fields = result.Fields
	rec.Payload = payload
	rec.ProcessingTimeMs = result.ProcessingTimeMs
	p.record(ctx, rec)

	log.Info("Slip processing complete",
		"amount", payload.Amount,
		"date", payload.Date,
		"processing_time_ms", result.ProcessingTimeMs,
	)

	return result, nil
}

func (p *SlipProcessor) disambiguate(ctx context.Context, log *logging.Logger, rawText string, fields slip.ParsedFields) {
	if p.disambiguator == nil {
		return
	}
	_, hasPayer := fields.Get(slip.FieldPayer)
	_, hasPayee := fields.Get(slip.FieldPayee)
	if hasPayer && hasPayee {
		return
	}

	payer, payee, err := p.disambiguator.SuggestParties(ctx, rawText, fields)
	if err != nil {
		log.Warn("Disambiguation helper failed, keeping extracted fields", "error", err)
		return
	}
	if !hasPayer && payer != nil {
		fields.Set(slip.FieldPayer, *payer)
		log.Info("Payer filled by disambiguation helper")
	}
	if !hasPayee && payee != nil {
		fields.Set(slip.FieldPayee, *payee)
		log.Info("Payee filled by disambiguation helper")
	}
}

func (p *SlipProcessor) recordFailure(ctx context.Context, jobID string, ocrResult *ocr.Result, err error, elapsed time.Duration) {
	rec := storage.NewAuditRecord(jobID, storage.StatusFailed)
	rec.OCR = ocrResult
	rec.ErrorCode = string(errors.CodeOf(err))
	rec.Error = err.Error()
	rec.Stack = errors.StackOf(err)
	rec.ProcessingTimeMs = elapsed.Milliseconds()

	var pe *errors.ProcessingError
	if stderrors.As(err, &pe) {
		rec.Details = pe.ToMap()
		delete(rec.Details, "stack") // already in rec.Stack
	}
	p.record(ctx, rec)
}

func (p *SlipProcessor) record(ctx context.Context, rec *storage.AuditRecord) {
	if err := p.audit.RecordJob(ctx, rec); err != nil {
		p.logger.Warn("Failed to write audit record",
			"job_id", rec.JobID,
			"sink", p.audit.Name(),
			"error", err,
		)
	}
}
