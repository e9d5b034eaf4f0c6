package qc

import (
	"fmt"
	"log/slog"

	"github.com/jashan-lco/banzai/internal/frames"
)

// Keyword value ranges considered sane.
const (
	raMin  = 0.0
	raMax  = 360.0
	decMin = -90.0
	decMax = 90.0
)

// Diagnostic describes one header sanity problem. Diagnostics never block
// ingestion; operators review them in the logs.
type Diagnostic struct {
	Keyword string `json:"keyword"`
	Problem string `json:"problem"`
	Value   string `json:"value,omitempty"`
}

// HeaderChecker validates important header keywords.
type HeaderChecker struct {
	expectedKeywords []string
	log              *slog.Logger
}

// NewHeaderChecker returns a checker for the standard keyword set.
func NewHeaderChecker(logger *slog.Logger) *HeaderChecker {
	return &HeaderChecker{
		expectedKeywords: []string{
			"RA", "DEC", "CAT-RA", "CAT-DEC",
			"OFST-RA", "OFST-DEC", "TPT-RA", "TPT-DEC",
			"PM-RA", "PM-DEC",
			"CRVAL1", "CRVAL2", "CRPIX1", "CRPIX2",
			"EXPTIME",
		},
		log: logger,
	}
}

// Check validates the frame header and returns diagnostics for every
// missing, placeholder, or out-of-range keyword. An empty slice means the
// header passed.
func (c *HeaderChecker) Check(frame frames.Frame) []Diagnostic {
	var diags []Diagnostic

	bad := map[string]bool{}
	for _, keyword := range c.expectedKeywords {
		value, present := frame.Header[keyword]
		if !present {
			diags = append(diags, Diagnostic{Keyword: keyword, Problem: "missing"})
			bad[keyword] = true
			continue
		}
		if s, ok := value.(string); ok && s == "N/A" {
			diags = append(diags, Diagnostic{Keyword: keyword, Problem: "placeholder value N/A"})
			bad[keyword] = true
		}
	}

	if !bad["RA"] && (frame.RA < raMin || frame.RA >= raMax) {
		diags = append(diags, Diagnostic{
			Keyword: "RA",
			Problem: fmt.Sprintf("outside [%g, %g)", raMin, raMax),
			Value:   fmt.Sprintf("%g", frame.RA),
		})
	}
	if !bad["DEC"] && (frame.Dec < decMin || frame.Dec > decMax) {
		diags = append(diags, Diagnostic{
			Keyword: "DEC",
			Problem: fmt.Sprintf("outside [%g, %g]", decMin, decMax),
			Value:   fmt.Sprintf("%g", frame.Dec),
		})
	}
	if !bad["EXPTIME"] && frame.ExpTime < 0 {
		diags = append(diags, Diagnostic{
			Keyword: "EXPTIME",
			Problem: "negative exposure time",
			Value:   fmt.Sprintf("%g", frame.ExpTime),
		})
	}

	for _, d := range diags {
		c.log.Warn("header sanity check failed",
			"filename", frame.Filename,
			"site", frame.Site,
			"instrument", frame.Instrument,
			"keyword", d.Keyword,
			"problem", d.Problem,
		)
	}
	return diags
}
