package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/civicsignal/feewatch/schedule"
)

// DefaultTextThreshold is the native-extraction length below which a
// PDF is treated as image-only and routed to OCR.
const DefaultTextThreshold = 100

// Config configures an Extractor.
type Config struct {
	// TextThreshold is the minimum native text length (runes) before
	// the OCR fallback kicks in. Default: DefaultTextThreshold.
	TextThreshold int

	// OCR performs page-image recognition. Nil disables the fallback;
	// documents under the threshold then fail with ExtractionError.
	OCR *OCRClient

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.TextThreshold <= 0 {
		c.TextThreshold = DefaultTextThreshold
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Extractor converts document bytes to text and mines fee records.
type Extractor struct {
	cfg  Config
	html *htmlConverter
}

// New creates an Extractor.
func New(cfg Config) *Extractor {
	cfg.defaults()
	return &Extractor{cfg: cfg, html: newHTMLConverter()}
}

// Text converts document bytes to text. PDFs go through native
// content-stream extraction first; when that yields less than the
// threshold, each page is rendered through the OCR service. HTML
// documents are sanitised and flattened. OCRUsed is reported via the
// Method tag on the result.
func (e *Extractor) Text(ctx context.Context, doc *schedule.Document) (*schedule.ExtractedText, error) {
	body := doc.Body

	if isHTMLDoc(doc) {
		text := e.html.text(body, doc.SourceURL)
		if strings.TrimSpace(text) == "" {
			return nil, &schedule.ExtractionError{Op: "native", Err: errors.New("empty html document")}
		}
		return &schedule.ExtractedText{Text: text, PageCount: 1, Method: schedule.MethodNative}, nil
	}

	pdf, err := readPDF(body)
	if err != nil {
		return nil, &schedule.ExtractionError{Op: "native", Err: err}
	}

	if len([]rune(pdf.text)) >= e.cfg.TextThreshold {
		return &schedule.ExtractedText{
			Text:      pdf.text,
			PageCount: pdf.pageCount,
			Method:    schedule.MethodNative,
		}, nil
	}

	// Too little text for a real schedule: image-only scan. OCR or bust.
	e.cfg.Logger.Info("extract: native text below threshold, trying ocr",
		"chars", len(pdf.text), "threshold", e.cfg.TextThreshold, "has_images", pdf.hasImages)

	if e.cfg.OCR == nil {
		return nil, &schedule.ExtractionError{Op: "ocr", Err: errors.New("ocr unavailable and native text below threshold")}
	}
	if !pdf.hasImages {
		// Nothing to recognise: not a scan, just a near-empty document.
		return nil, &schedule.ExtractionError{Op: "ocr", Err: errors.New("text below threshold but document has no page images")}
	}

	return e.ocrPages(ctx, body, pdf.pageCount)
}

// isHTMLDoc picks the extraction path: an explicit doc type wins, auto
// sniffs the bytes.
func isHTMLDoc(doc *schedule.Document) bool {
	switch doc.DocType {
	case "html":
		return true
	case "pdf":
		return false
	}
	return looksLikeHTML(doc.Body) && !looksLikePDF(doc.Body)
}

// ocrPages runs every page image through the OCR service and stitches
// the recognised text back together in page order.
func (e *Extractor) ocrPages(ctx context.Context, body []byte, pageCount int) (*schedule.ExtractedText, error) {
	var sb strings.Builder
	lowConf := 0
	recognised := 0

	for pageNr := 1; pageNr <= pageCount; pageNr++ {
		imgs, err := pdfPageImages(body, pageNr)
		if err != nil {
			return nil, &schedule.ExtractionError{Op: "ocr", Err: fmt.Errorf("page %d images: %w", pageNr, err)}
		}
		pageLow := false
		for _, img := range imgs {
			page, err := e.cfg.OCR.Recognize(ctx, img.data, img.format)
			if err != nil {
				return nil, &schedule.ExtractionError{Op: "ocr", Err: fmt.Errorf("page %d: %w", pageNr, err)}
			}
			if strings.TrimSpace(page.Text) == "" {
				continue
			}
			if sb.Len() > 0 {
				sb.WriteByte('\n')
			}
			sb.WriteString(page.Text)
			recognised++
			if page.Confidence > 0 && page.Confidence < lowConfidenceFloor {
				pageLow = true
			}
		}
		if pageLow {
			lowConf++
		}
	}

	if recognised == 0 {
		return nil, &schedule.ExtractionError{Op: "ocr", Err: errors.New("no recognisable page images")}
	}

	return &schedule.ExtractedText{
		Text:         sb.String(),
		PageCount:    pageCount,
		Method:       schedule.MethodOCR,
		LowConfPages: lowConf,
	}, nil
}

// Mine extracts one FeeStructure per tracked category from the text.
// Missing categories yield a nil entry plus a ValidationError in the
// returned slice; mining itself never fails the attempt.
func (e *Extractor) Mine(text string, target schedule.Target) (map[string]*schedule.FeeStructure, []error) {
	fees := make(map[string]*schedule.FeeStructure, len(target.Categories))
	var problems []error

	for category := range target.Categories {
		section, ok := FindSection(text, target.Aliases(category))
		if !ok {
			fees[category] = nil
			problems = append(problems, &schedule.ValidationError{Category: category})
			continue
		}
		fs := Fees(section)
		fs.Category = category
		fees[category] = fs
	}
	return fees, problems
}
