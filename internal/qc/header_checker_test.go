package qc

import (
	"io"
	"log/slog"
	"testing"

	"github.com/jashan-lco/banzai/internal/frames"
)

func newTestChecker() *HeaderChecker {
	return NewHeaderChecker(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func goodHeader() frames.Header {
	h := frames.Header{}
	for _, k := range []string{
		"RA", "DEC", "CAT-RA", "CAT-DEC",
		"OFST-RA", "OFST-DEC", "TPT-RA", "TPT-DEC",
		"PM-RA", "PM-DEC",
		"CRVAL1", "CRVAL2", "CRPIX1", "CRPIX2",
		"EXPTIME",
	} {
		h[k] = 1.0
	}
	return h
}

func hasDiagnostic(diags []Diagnostic, keyword, problem string) bool {
	for _, d := range diags {
		if d.Keyword == keyword && d.Problem == problem {
			return true
		}
	}
	return false
}

func TestCheckPassesCompleteHeader(t *testing.T) {
	frame := frames.ParseHeader("ok.fits", goodHeader())
	if diags := newTestChecker().Check(frame); len(diags) != 0 {
		t.Fatalf("expected no diagnostics, got %+v", diags)
	}
}

func TestCheckFlagsMissingKeywords(t *testing.T) {
	h := goodHeader()
	delete(h, "CRVAL1")
	delete(h, "PM-DEC")
	frame := frames.ParseHeader("missing.fits", h)

	diags := newTestChecker().Check(frame)
	if !hasDiagnostic(diags, "CRVAL1", "missing") || !hasDiagnostic(diags, "PM-DEC", "missing") {
		t.Fatalf("missing keywords not flagged: %+v", diags)
	}
	if len(diags) != 2 {
		t.Fatalf("expected 2 diagnostics, got %d", len(diags))
	}
}

func TestCheckFlagsPlaceholderValues(t *testing.T) {
	h := goodHeader()
	h["CAT-RA"] = "N/A"
	frame := frames.ParseHeader("placeholder.fits", h)

	diags := newTestChecker().Check(frame)
	if !hasDiagnostic(diags, "CAT-RA", "placeholder value N/A") {
		t.Fatalf("placeholder not flagged: %+v", diags)
	}
}

func TestCheckFlagsOutOfRangeCoordinates(t *testing.T) {
	h := goodHeader()
	h["RA"] = 360.0
	h["DEC"] = -91.5
	frame := frames.ParseHeader("coords.fits", h)

	diags := newTestChecker().Check(frame)
	found := 0
	for _, d := range diags {
		if d.Keyword == "RA" || d.Keyword == "DEC" {
			found++
		}
	}
	if found != 2 {
		t.Fatalf("expected RA and DEC range diagnostics, got %+v", diags)
	}
}

func TestCheckSkipsRangeWhenKeywordIsBad(t *testing.T) {
	h := goodHeader()
	h["RA"] = "N/A"
	frame := frames.ParseHeader("na-ra.fits", h)

	// RA parses to 0 which is in range, but even an out-of-range parse must
	// not double-report a keyword already flagged as a placeholder.
	diags := newTestChecker().Check(frame)
	count := 0
	for _, d := range diags {
		if d.Keyword == "RA" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one RA diagnostic, got %+v", diags)
	}
}

func TestCheckFlagsNegativeExposureTime(t *testing.T) {
	h := goodHeader()
	h["EXPTIME"] = -1.0
	frame := frames.ParseHeader("negexp.fits", h)

	diags := newTestChecker().Check(frame)
	if !hasDiagnostic(diags, "EXPTIME", "negative exposure time") {
		t.Fatalf("negative exposure time not flagged: %+v", diags)
	}
}
