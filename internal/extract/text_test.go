package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/civicsignal/feewatch/schedule"
)

const feeTableHTML = `<!DOCTYPE html>
<html><head><title>Fee Schedule</title></head><body>
<h1>Building Division Fee Schedule</h1>
<p>Effective July 1, 2024</p>
<h2>Electrical Permits</h2>
<table>
<tr><td>Base Fee</td><td>$150</td></tr>
<tr><td>Minimum Fee</td><td>$50</td></tr>
</table>
<script>trackPageView()</script>
</body></html>`

func TestTextHTML(t *testing.T) {
	e := New(Config{})
	doc := &schedule.Document{Body: []byte(feeTableHTML), SourceURL: "https://example.gov/fees"}

	got, err := e.Text(context.Background(), doc)
	if err != nil {
		t.Fatalf("Text: %v", err)
	}
	if got.Method != schedule.MethodNative {
		t.Errorf("method = %q, want native", got.Method)
	}
	for _, want := range []string{"$150", "$50", "Electrical"} {
		if !strings.Contains(got.Text, want) {
			t.Errorf("text missing %q:\n%s", want, got.Text)
		}
	}
	if strings.Contains(got.Text, "trackPageView") {
		t.Error("script content leaked into extracted text")
	}
}

// buildPDF assembles a minimal single-page PDF with the given content
// stream lines, computing the xref offsets as it goes.
func buildPDF(t *testing.T, streamLines ...string) []byte {
	t.Helper()
	stream := strings.Join(streamLines, "\n")

	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 4 0 R >> >> /Contents 5 0 R >>",
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream),
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects)+1)
	for i, obj := range objects {
		offsets[i+1] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for i := 1; i <= len(objects); i++ {
		fmt.Fprintf(&buf, "%010d 00000 n \n", offsets[i])
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

func TestTextPDFNative(t *testing.T) {
	body := buildPDF(t,
		"BT",
		"/F1 12 Tf",
		"(ELECTRICAL PERMITS) Tj",
		"T*",
		"(Base Fee: $150 Minimum Fee: $50) Tj",
		"ET",
	)

	e := New(Config{TextThreshold: 20})
	got, err := e.Text(context.Background(), &schedule.Document{Body: body})
	if err != nil {
		t.Fatalf("Text: %v", err)
	}
	if got.Method != schedule.MethodNative {
		t.Errorf("method = %q, want native", got.Method)
	}
	if got.PageCount != 1 {
		t.Errorf("page count = %d, want 1", got.PageCount)
	}
	for _, want := range []string{"ELECTRICAL PERMITS", "$150", "$50"} {
		if !strings.Contains(got.Text, want) {
			t.Errorf("text missing %q:\n%s", want, got.Text)
		}
	}

	fs := Fees(got.Text)
	if fs.BaseFee == nil || *fs.BaseFee != 150 {
		t.Errorf("mined base fee = %v, want 150", fs.BaseFee)
	}
}

func TestTextPDFBelowThresholdNoOCR(t *testing.T) {
	body := buildPDF(t, "BT", "(x) Tj", "ET")

	e := New(Config{}) // default threshold, no OCR client
	_, err := e.Text(context.Background(), &schedule.Document{Body: body})

	var extErr *schedule.ExtractionError
	if !errors.As(err, &extErr) {
		t.Fatalf("err = %v, want ExtractionError", err)
	}
	if extErr.Op != "ocr" {
		t.Errorf("op = %q, want ocr", extErr.Op)
	}
	if !strings.Contains(extErr.Error(), "ocr unavailable") {
		t.Errorf("message = %q", extErr.Error())
	}
}

func TestTextPDFImagelessSkipsOCRService(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		json.NewEncoder(w).Encode(OCRPage{Text: "should never be asked"})
	}))
	defer srv.Close()

	e := New(Config{OCR: NewOCRClient(srv.URL, 0, nil)})
	body := buildPDF(t, "BT", "(x) Tj", "ET")

	_, err := e.Text(context.Background(), &schedule.Document{Body: body})
	var extErr *schedule.ExtractionError
	if !errors.As(err, &extErr) || extErr.Op != "ocr" {
		t.Fatalf("err = %v, want ExtractionError in ocr", err)
	}
	if !strings.Contains(extErr.Error(), "no page images") {
		t.Errorf("message = %q", extErr.Error())
	}
	if called {
		t.Error("ocr service was called for a document with no page images")
	}
}

func TestTextDocTypeForcesPath(t *testing.T) {
	// A bare fragment carries no html prologue, so sniffing routes it
	// to the PDF parser and fails.
	frag := []byte("<div><h2>Electrical Permits</h2><p>Base Fee: $150</p></div>")
	e := New(Config{})

	if _, err := e.Text(context.Background(), &schedule.Document{Body: frag}); err == nil {
		t.Fatal("sniffed fragment should fail as a pdf")
	}

	got, err := e.Text(context.Background(), &schedule.Document{Body: frag, DocType: "html"})
	if err != nil {
		t.Fatalf("Text with forced html type: %v", err)
	}
	if got.Method != schedule.MethodNative || !strings.Contains(got.Text, "$150") {
		t.Errorf("result = %+v", got)
	}

	// The reverse force: html-looking bytes declared pdf never reach
	// the html converter.
	htmlBody := []byte(feeTableHTML)
	if _, err := e.Text(context.Background(), &schedule.Document{Body: htmlBody, DocType: "pdf"}); err == nil {
		t.Error("html bytes forced to pdf should fail native extraction")
	}
}

func TestTextUnparsableDocument(t *testing.T) {
	e := New(Config{})
	doc := &schedule.Document{Body: []byte("this is neither html nor pdf")}

	_, err := e.Text(context.Background(), doc)
	var extErr *schedule.ExtractionError
	if !errors.As(err, &extErr) {
		t.Fatalf("err = %v, want ExtractionError", err)
	}
	if extErr.Op != "native" {
		t.Errorf("op = %q, want native", extErr.Op)
	}
}

func TestMine(t *testing.T) {
	e := New(Config{})
	target := schedule.Target{
		City: "Dublin",
		Categories: map[string][]string{
			"electrical": {"electrical", "electric"},
			"plumbing":   {"plumbing"},
		},
	}
	text := "ELECTRICAL PERMITS\nBase Fee: $150\nMinimum Fee: $50\nValuation Rate: 1.6% of job cost"

	fees, problems := e.Mine(text, target)

	el := fees["electrical"]
	if el == nil {
		t.Fatal("electrical category not mined")
	}
	if el.Category != "electrical" {
		t.Errorf("category tag = %q", el.Category)
	}
	if el.BaseFee == nil || *el.BaseFee != 150 {
		t.Errorf("electrical base fee = %v, want 150", el.BaseFee)
	}

	if fees["plumbing"] != nil {
		t.Errorf("plumbing should be nil, got %+v", fees["plumbing"])
	}
	if len(problems) != 1 {
		t.Fatalf("problems = %v, want exactly one", problems)
	}
	var vErr *schedule.ValidationError
	if !errors.As(problems[0], &vErr) || vErr.Category != "plumbing" {
		t.Errorf("problem = %v, want ValidationError for plumbing", problems[0])
	}
}

func TestOCRClientRecognize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		var req struct {
			Image  string `json:"image"`
			Format string `json:"format"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Format != "png" {
			t.Errorf("format = %q, want png", req.Format)
		}
		json.NewEncoder(w).Encode(OCRPage{Text: "Base Fee: $150", Confidence: 0.93})
	}))
	defer srv.Close()

	c := NewOCRClient(srv.URL, 0, nil)
	page, err := c.Recognize(context.Background(), []byte{0x89, 0x50, 0x4e, 0x47}, "png")
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if page.Text != "Base Fee: $150" || page.Confidence != 0.93 {
		t.Errorf("page = %+v", page)
	}
}

func TestOCRClientServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewOCRClient(srv.URL, 0, nil)
	if _, err := c.Recognize(context.Background(), []byte("img"), "png"); err == nil {
		t.Fatal("expected error on http 503")
	}
}

func TestLooksLike(t *testing.T) {
	if !looksLikeHTML([]byte("  <!DOCTYPE html><html></html>")) {
		t.Error("doctype prologue not recognised as html")
	}
	if looksLikeHTML([]byte("%PDF-1.7 binary stuff")) {
		t.Error("pdf header misread as html")
	}
	if !looksLikePDF([]byte("%PDF-1.4\n")) {
		t.Error("pdf magic not recognised")
	}
}
