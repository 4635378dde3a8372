// Package extract pulls plain text out of PDF files, falling back to OCR
// for scanned documents without a text layer.
package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/ledongthuc/pdf"
)

var (
	// ErrParse means the PDF could not be read by the text-layer parser.
	ErrParse = errors.New("pdf parse failed")

	// ErrExtraction means OCR was attempted and failed.
	ErrExtraction = errors.New("text extraction failed")

	// ErrOCRUnavailable means the rasteriser or OCR engine is not installed.
	ErrOCRUnavailable = errors.New("ocr tools unavailable")
)

// Extractor turns a document file into plain text.
type Extractor interface {
	Extract(ctx context.Context, path string) (string, error)
}

// Options configures the PDF extractor.
type Options struct {
	OCREnabled    bool
	DPI           int
	Language      string
	PopplerPath   string // directory holding pdftoppm, empty means $PATH
	TesseractPath string // tesseract binary, empty means $PATH
}

// PDFExtractor reads the text layer of a PDF and runs OCR when it is empty.
type PDFExtractor struct {
	opts     Options
	runner   CommandRunner
	lookPath func(string) (string, error)
	readText func(path string) (string, error)
}

// NewPDFExtractor creates an extractor. A nil runner executes real commands.
func NewPDFExtractor(opts Options, runner CommandRunner) *PDFExtractor {
	if opts.DPI <= 0 {
		opts.DPI = 200
	}
	if opts.Language == "" {
		opts.Language = "eng"
	}
	if runner == nil {
		runner = ExecRunner{}
	}

	return &PDFExtractor{
		opts:     opts,
		runner:   runner,
		lookPath: defaultLookPath,
		readText: readPDFText,
	}
}

// Extract returns the document text. A scanned PDF with no OCR tooling
// installed yields "" and no error; callers treat that as "no text".
func (e *PDFExtractor) Extract(ctx context.Context, path string) (string, error) {
	text, parseErr := e.readText(path)
	if parseErr == nil && strings.TrimSpace(text) != "" {
		return text, nil
	}

	if parseErr != nil {
		parseErr = fmt.Errorf("%w: %s: %v", ErrParse, path, parseErr)
		log.Debug("Text layer parse failed", "path", path, "error", parseErr)
	}

	if !e.opts.OCREnabled {
		return "", parseErr
	}

	log.Info("No text layer, running OCR", "path", path, "dpi", e.opts.DPI)

	ocrText, err := e.ocr(ctx, path)
	if errors.Is(err, ErrOCRUnavailable) {
		log.Warn("OCR skipped", "path", path, "error", err)
		return "", parseErr
	}
	if err != nil {
		return "", err
	}

	if strings.TrimSpace(ocrText) == "" {
		return "", parseErr
	}

	return ocrText, nil
}

// OCRAvailable reports whether both OCR tools can be found.
func (e *PDFExtractor) OCRAvailable() bool {
	_, _, err := e.ocrTools()
	return err == nil
}

// readPDFText concatenates the plain text of every page, one line break
// between pages. Pages without content contribute an empty string.
func readPDFText(path string) (text string, err error) {
	// The parser panics on some malformed cross-reference tables
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parser panic: %v", r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var sb strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if !page.V.IsNull() {
			pageText, err := page.GetPlainText(nil)
			if err != nil {
				return "", fmt.Errorf("page %d: %w", i, err)
			}
			sb.WriteString(pageText)
		}
		sb.WriteString("\n")
	}

	return sb.String(), nil
}
