package extract

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
)

// CommandRunner runs an external program and returns its standard output.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run executes the command, folding stderr into the error on failure.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return out, fmt.Errorf("%s: %w: %s", filepath.Base(name), err, msg)
		}
		return out, fmt.Errorf("%s: %w", filepath.Base(name), err)
	}
	return out, nil
}

func defaultLookPath(file string) (string, error) {
	return exec.LookPath(file)
}

// ocrTools resolves the pdftoppm and tesseract binaries.
func (e *PDFExtractor) ocrTools() (string, string, error) {
	pdftoppm := "pdftoppm"
	if e.opts.PopplerPath != "" {
		pdftoppm = filepath.Join(e.opts.PopplerPath, "pdftoppm")
	}
	pdftoppm, err := e.lookPath(pdftoppm)
	if err != nil {
		return "", "", fmt.Errorf("%w: pdftoppm: %v", ErrOCRUnavailable, err)
	}

	tesseract := "tesseract"
	if e.opts.TesseractPath != "" {
		tesseract = e.opts.TesseractPath
	}
	tesseract, err = e.lookPath(tesseract)
	if err != nil {
		return "", "", fmt.Errorf("%w: tesseract: %v", ErrOCRUnavailable, err)
	}

	return pdftoppm, tesseract, nil
}

// ocr rasterises every page with pdftoppm and recognises each image with
// tesseract, in page order.
func (e *PDFExtractor) ocr(ctx context.Context, path string) (string, error) {
	pdftoppm, tesseract, err := e.ocrTools()
	if err != nil {
		return "", err
	}

	tmpDir, err := os.MkdirTemp("", "docrag-ocr-*")
	if err != nil {
		return "", fmt.Errorf("%w: failed to create temp dir: %v", ErrExtraction, err)
	}
	defer os.RemoveAll(tmpDir)

	prefix := filepath.Join(tmpDir, "page")
	if _, err := e.runner.Run(ctx, pdftoppm, "-r", strconv.Itoa(e.opts.DPI), "-png", path, prefix); err != nil {
		return "", fmt.Errorf("%w: failed to render pages: %v", ErrExtraction, err)
	}

	images, err := filepath.Glob(prefix + "*.png")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	if len(images) == 0 {
		return "", fmt.Errorf("%w: no pages rendered from %s", ErrExtraction, path)
	}
	// pdftoppm zero-pads page numbers to a common width
	sort.Strings(images)

	pages := make([]string, 0, len(images))
	for i, img := range images {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		out, err := e.runner.Run(ctx, tesseract, img, "stdout", "-l", e.opts.Language)
		if err != nil {
			return "", fmt.Errorf("%w: ocr failed on page %d: %v", ErrExtraction, i+1, err)
		}
		pages = append(pages, string(out))
	}

	log.Debug("OCR complete", "path", path, "pages", len(pages))

	return strings.Join(pages, "\n"), nil
}
