package extract

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// lowConfidenceFloor marks an OCR page as unreliable in the result
// metadata. The text is still used; the count is surfaced for audit.
const lowConfidenceFloor = 0.5

// OCRClient talks to an external vision-OCR HTTP service. One request
// per page image, JSON in, JSON out.
type OCRClient struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

// NewOCRClient creates a client for the given endpoint. A zero timeout
// defaults to 60s; OCR on dense pages is slow.
func NewOCRClient(endpoint string, timeout time.Duration, logger *slog.Logger) *OCRClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OCRClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

type ocrRequest struct {
	Image  string `json:"image"` // base64
	Format string `json:"format"`
}

// OCRPage is one recognised page.
type OCRPage struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Recognize submits one page image and returns the recognised text.
func (c *OCRClient) Recognize(ctx context.Context, image []byte, format string) (*OCRPage, error) {
	payload, err := json.Marshal(ocrRequest{
		Image:  base64.StdEncoding.EncodeToString(image),
		Format: format,
	})
	if err != nil {
		return nil, fmt.Errorf("ocr: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("ocr: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ocr: post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("ocr: http %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var page OCRPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("ocr: decode: %w", err)
	}
	return &page, nil
}

// pageImage is one raster image pulled out of a PDF page.
type pageImage struct {
	data   []byte
	format string
}

// pdfPageImages extracts the raster images of one page. Scanned fee
// schedules carry exactly one full-page image per page.
func pdfPageImages(body []byte, pageNr int) ([]pageImage, error) {
	conf := model.NewDefaultConfiguration()
	ctx, err := api.ReadValidateAndOptimize(bytes.NewReader(body), conf)
	if err != nil {
		return nil, err
	}

	imgs, err := pdfcpu.ExtractPageImages(ctx, pageNr, false)
	if err != nil {
		return nil, err
	}

	var out []pageImage
	for _, img := range imgs {
		data, err := io.ReadAll(img)
		if err != nil || len(data) == 0 {
			continue
		}
		format := img.FileType
		if format == "" {
			format = "png"
		}
		out = append(out, pageImage{data: data, format: format})
	}
	return out, nil
}
