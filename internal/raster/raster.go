// Package raster turns a PDF into one PNG image per page.
package raster

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/book-expert/logger"
	"github.com/book-expert/page-narrator/internal/command"
)

// DefaultDPI keeps small print legible for the analysis model.
const DefaultDPI = 300

const pagePrefix = "page"

var (
	// ErrNotPDF indicates input that does not carry the PDF signature.
	ErrNotPDF = errors.New("document is not a PDF")
	// ErrEmptyDocument indicates zero-length input.
	ErrEmptyDocument = errors.New("document is empty")
	// ErrNoPages indicates a PDF that produced no page images.
	ErrNoPages = errors.New("document has no pages")
)

// Rasterizer renders a PDF file into ordered page images.
type Rasterizer interface {
	Rasterize(ctx context.Context, pdfPath, outDir string) ([]string, error)
}

// ValidatePDF checks the PDF signature near the start of data.
func ValidatePDF(data []byte) error {
	if len(data) == 0 {
		return ErrEmptyDocument
	}

	head := data
	if len(head) > 1024 {
		head = head[:1024]
	}

	if !bytes.Contains(head, []byte("%PDF-")) {
		return ErrNotPDF
	}

	return nil
}

// Pdftoppm renders pages with poppler's pdftoppm.
type Pdftoppm struct {
	binary string
	dpi    int
	runner command.Runner
	log    *logger.Logger
}

// NewPdftoppm returns a rasterizer. Empty binary and non-positive dpi use defaults.
func NewPdftoppm(binary string, dpi int, runner command.Runner, log *logger.Logger) *Pdftoppm {
	if binary == "" {
		binary = "pdftoppm"
	}

	if dpi <= 0 {
		dpi = DefaultDPI
	}

	if runner == nil {
		runner = command.ExecRunner{}
	}

	return &Pdftoppm{binary: binary, dpi: dpi, runner: runner, log: log}
}

// Rasterize writes page images into outDir and returns them in page order.
func (p *Pdftoppm) Rasterize(ctx context.Context, pdfPath, outDir string) ([]string, error) {
	data, err := os.ReadFile(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}

	validationErr := ValidatePDF(data)
	if validationErr != nil {
		return nil, validationErr
	}

	mkdirErr := os.MkdirAll(outDir, 0o755)
	if mkdirErr != nil {
		return nil, fmt.Errorf("failed to create page directory: %w", mkdirErr)
	}

	args := []string{"-r", strconv.Itoa(p.dpi), "-png", pdfPath, filepath.Join(outDir, pagePrefix)}

	_, runErr := p.runner.Run(ctx, p.binary, args...)
	if runErr != nil {
		return nil, fmt.Errorf("failed to rasterize document: %w", runErr)
	}

	pages, err := collectPages(outDir)
	if err != nil {
		return nil, err
	}

	if len(pages) == 0 {
		return nil, ErrNoPages
	}

	p.log.Info("Rasterized %s into %d page(s) at %d dpi", filepath.Base(pdfPath), len(pages), p.dpi)

	return pages, nil
}

// collectPages finds page-N.png files and sorts them by N. pdftoppm pads N
// to the width of the page count, so lexical order is not enough.
func collectPages(outDir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(outDir, pagePrefix+"-*.png"))
	if err != nil {
		return nil, fmt.Errorf("failed to list page images: %w", err)
	}

	type numbered struct {
		path   string
		number int
	}

	pages := make([]numbered, 0, len(matches))

	for _, match := range matches {
		name := strings.TrimSuffix(filepath.Base(match), ".png")

		number, convErr := strconv.Atoi(strings.TrimPrefix(name, pagePrefix+"-"))
		if convErr != nil {
			continue
		}

		pages = append(pages, numbered{path: match, number: number})
	}

	sort.Slice(pages, func(i, j int) bool { return pages[i].number < pages[j].number })

	paths := make([]string, 0, len(pages))
	for _, page := range pages {
		paths = append(paths, page.path)
	}

	return paths, nil
}
