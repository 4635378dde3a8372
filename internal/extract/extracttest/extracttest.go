// Package extracttest fakes the OCR command line tools for tests.
package extracttest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Runner simulates pdftoppm and tesseract. Rendering writes one fake image
// per entry of Pages holding the text it "depicts"; recognition reads it back.
type Runner struct {
	Pages     []string
	RenderErr error
	OCRErr    error

	mu    sync.Mutex
	calls []string
}

// Run implements extract.CommandRunner.
func (r *Runner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	r.mu.Lock()
	r.calls = append(r.calls, filepath.Base(name)+" "+strings.Join(args, " "))
	r.mu.Unlock()

	switch filepath.Base(name) {
	case "pdftoppm":
		if r.RenderErr != nil {
			return nil, r.RenderErr
		}
		prefix := args[len(args)-1]
		for i, text := range r.Pages {
			img := fmt.Sprintf("%s-%02d.png", prefix, i+1)
			if err := os.WriteFile(img, []byte(text), 0644); err != nil {
				return nil, err
			}
		}
		return nil, nil
	case "tesseract":
		if r.OCRErr != nil {
			return nil, r.OCRErr
		}
		return os.ReadFile(args[0])
	}
	return nil, fmt.Errorf("unexpected command %s", name)
}

// Calls returns the commands run so far, program base name first.
func (r *Runner) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// InstallTools creates executable placeholder pdftoppm and tesseract files
// in dir so tool lookup succeeds. It returns the values for the poppler
// directory and tesseract path options.
func InstallTools(dir string) (popplerPath, tesseractPath string, err error) {
	for _, name := range []string{"pdftoppm", "tesseract"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("#!/bin/sh\nexit 1\n"), 0755); err != nil {
			return "", "", err
		}
	}
	return dir, filepath.Join(dir, "tesseract"), nil
}
