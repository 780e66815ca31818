// Package pdf downloads regulation PDFs and extracts the text passages
// relevant to a species, keeping downloads and extracted text within
// configurable byte and page caps.
package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pbberlin/pdf"
	"go.uber.org/zap"

	"github.com/seasonwatch/regs-crawler/internal/regs"
)

// Config caps how much of a remote PDF is fetched and parsed.
type Config struct {
	MaxBytes        int64
	MaxPages        int
	MaxContextChars int
}

func (c *Config) applyDefaults() {
	if c.MaxBytes <= 0 {
		c.MaxBytes = 40_000_000
	}
	if c.MaxPages <= 0 {
		c.MaxPages = 80
	}
	if c.MaxContextChars <= 0 {
		c.MaxContextChars = 60_000
	}
}

// ContentInfo is the result of a HEAD probe against a PDF URL.
type ContentInfo struct {
	ContentType   string
	ContentLength int64
	IsPDF         bool
	TooLarge      bool
}

type Extractor struct {
	fetcher regs.Fetcher
	cfg     Config
	logger  *zap.Logger
}

func New(fetcher regs.Fetcher, cfg Config, logger *zap.Logger) *Extractor {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{fetcher: fetcher, cfg: cfg, logger: logger}
}

// Probe issues a HEAD request so oversized documents can be rejected
// before any bytes are downloaded. Servers that refuse HEAD are treated
// as unknown rather than failed.
func (e *Extractor) Probe(ctx context.Context, url string) (ContentInfo, error) {
	res, err := e.fetcher.Fetch(ctx, regs.FetchRequest{URL: url, HeadOnly: true})
	if err != nil {
		return ContentInfo{}, err
	}
	ct := strings.ToLower(res.ContentType)
	return ContentInfo{
		ContentType:   res.ContentType,
		ContentLength: res.ContentLength,
		IsPDF:         strings.Contains(ct, "application/pdf") || strings.Contains(ct, "application/octet-stream"),
		TooLarge:      res.ContentLength > e.cfg.MaxBytes,
	}, nil
}

// Download fetches the PDF body with a hard byte cap enforced
// mid-stream, so a lying Content-Length header cannot blow memory.
func (e *Extractor) Download(ctx context.Context, url string) ([]byte, error) {
	info, err := e.Probe(ctx, url)
	if err == nil {
		if info.TooLarge {
			return nil, &SkipError{Reason: regs.SkipPDFTooLarge, Detail: fmt.Sprintf("content-length %d exceeds cap %d", info.ContentLength, e.cfg.MaxBytes)}
		}
		if info.ContentType != "" && !info.IsPDF {
			return nil, &SkipError{Reason: regs.SkipPDFParseFailed, Detail: "not a PDF: " + info.ContentType}
		}
	} else {
		e.logger.Debug("pdf head probe failed, downloading anyway", zap.String("url", url), zap.Error(err))
	}

	res, err := e.fetcher.Fetch(ctx, regs.FetchRequest{URL: url, MaxBytes: e.cfg.MaxBytes})
	if err != nil {
		if errors.Is(err, regs.ErrTooLarge) {
			return nil, &SkipError{Reason: regs.SkipPDFTooLarge, Detail: fmt.Sprintf("body exceeds cap %d", e.cfg.MaxBytes)}
		}
		return nil, err
	}
	if !bytes.HasPrefix(res.Body, []byte("%PDF-")) {
		return nil, &SkipError{Reason: regs.SkipPDFParseFailed, Detail: "response body is not a PDF"}
	}
	return res.Body, nil
}

// ExtractText parses the PDF and concatenates page text up to the
// configured page and character caps.
func (e *Extractor) ExtractText(data []byte) (string, error) {
	rdr, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", &SkipError{Reason: regs.SkipPDFParseFailed, Detail: err.Error()}
	}

	var buf bytes.Buffer
	numPages := rdr.NumPage()
	for j := 1; j <= numPages; j++ {
		if j > e.cfg.MaxPages {
			e.logger.Debug("pdf page cap reached", zap.Int("max_pages", e.cfg.MaxPages), zap.Int("total_pages", numPages))
			break
		}
		page := rdr.Page(j)
		cnt, err := pageContent(&page)
		if err != nil {
			e.logger.Debug("pdf page extraction failed", zap.Int("page", j), zap.Error(err))
			continue
		}
		for _, t := range cnt.Text {
			buf.WriteString(t.S)
		}
		buf.WriteString("\n")
		if buf.Len() >= e.cfg.MaxContextChars {
			break
		}
	}
	text := buf.String()
	if len(text) > e.cfg.MaxContextChars {
		text = text[:e.cfg.MaxContextChars]
	}
	if strings.TrimSpace(text) == "" {
		return "", &SkipError{Reason: regs.SkipPDFParseFailed, Detail: "no extractable text"}
	}
	return text, nil
}

// pageContent guards against the panics the parser raises on malformed
// content streams.
func pageContent(p *pdf.Page) (cnt *pdf.Content, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf content recover: %v", r)
		}
	}()
	c := p.Content()
	cnt = &c
	return
}

// SkipError marks a PDF as unusable for a recorded reason rather than a
// transient failure.
type SkipError struct {
	Reason string
	Detail string
}

func (e *SkipError) Error() string {
	return e.Reason + ": " + e.Detail
}

var speciesKeywords = map[string][]string{
	"deer":   {"deer", "buck", "doe", "antler", "archery", "firearm", "muzzleloader", "whitetail", "mule deer"},
	"turkey": {"turkey", "gobbler", "hen", "spring", "fall", "beard"},
}

var seasonKeywords = []string{
	"season", "bag limit", "harvest", "hunting", "open", "closed", "dates", "tag", "permit",
}

// FilterRelevantContent keeps only the passages of a regulation PDF
// that mention the species or season structure, with a few lines of
// leading context per match. Sections end after a long run of lines
// with no species mention.
func FilterRelevantContent(text, species string, maxChars int) string {
	kws := speciesKeywords[strings.ToLower(species)]
	if len(kws) == 0 {
		kws = []string{strings.ToLower(species)}
	}

	lines := strings.Split(text, "\n")
	var out []string
	var contextBuf []string
	inSection := false
	sinceSpecies := 0
	total := 0

	for _, line := range lines {
		lower := strings.ToLower(line)
		hasSpecies := containsAny(lower, kws)
		hasSeason := containsAny(lower, seasonKeywords)

		switch {
		case hasSpecies:
			if !inSection {
				inSection = true
				for _, c := range contextBuf {
					out = append(out, c)
					total += len(c) + 1
				}
			}
			out = append(out, line)
			total += len(line) + 1
			sinceSpecies = 0
		case inSection && hasSeason:
			out = append(out, line)
			total += len(line) + 1
			sinceSpecies++
		case inSection:
			sinceSpecies++
			if sinceSpecies > 50 {
				inSection = false
				sinceSpecies = 0
			}
		}

		contextBuf = append(contextBuf, line)
		if len(contextBuf) > 3 {
			contextBuf = contextBuf[1:]
		}
		if maxChars > 0 && total >= maxChars {
			break
		}
	}

	joined := strings.Join(out, "\n")
	if maxChars > 0 && len(joined) > maxChars {
		joined = joined[:maxChars]
	}
	return joined
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
