package match

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseProgressLine(t *testing.T) {
	message, percent, ok := parseProgressLine("PROGRESS 50 Matching skills against requirements")
	if !ok {
		t.Fatal("expected progress line to parse")
	}
	if percent != 50 {
		t.Fatalf("percent = %d, want 50", percent)
	}
	if message != "Matching skills against requirements" {
		t.Fatalf("unexpected message: %q", message)
	}
}

func TestParseProgressLineWithoutMessage(t *testing.T) {
	message, percent, ok := parseProgressLine("PROGRESS 100")
	if !ok {
		t.Fatal("expected progress line to parse")
	}
	if percent != 100 || message != "" {
		t.Fatalf("unexpected result: %q %d", message, percent)
	}
}

func TestParseProgressLineClampsPercent(t *testing.T) {
	_, percent, ok := parseProgressLine("PROGRESS 140 overshoot")
	if !ok || percent != 100 {
		t.Fatalf("expected clamp to 100, got %d (ok=%v)", percent, ok)
	}
}

func TestParseProgressLineRejectsOther(t *testing.T) {
	if _, _, ok := parseProgressLine("loading embedding model"); ok {
		t.Fatal("plain log line should not parse as progress")
	}
	if _, _, ok := parseProgressLine("PROGRESS abc message"); ok {
		t.Fatal("non-numeric percent should not parse")
	}
}

func TestLoadReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), ReportFilename)
	payload := `{"decision":"HIRE","score":0.87,"summary":"strong match"}`
	if err := os.WriteFile(path, []byte(payload), 0o640); err != nil {
		t.Fatalf("failed to write report: %v", err)
	}

	report, err := LoadReport(path)
	if err != nil {
		t.Fatalf("LoadReport returned error: %v", err)
	}
	if report.Decision != "HIRE" {
		t.Fatalf("decision = %s, want HIRE", report.Decision)
	}
	if len(report.Raw) == 0 {
		t.Fatal("expected raw payload to be kept")
	}
}

func TestLoadReportMissingFile(t *testing.T) {
	if _, err := LoadReport(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error for missing report")
	}
}

func TestLoadReportInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), ReportFilename)
	if err := os.WriteFile(path, []byte("not json"), 0o640); err != nil {
		t.Fatalf("failed to write report: %v", err)
	}
	if _, err := LoadReport(path); err == nil {
		t.Fatal("expected error for invalid report")
	}
}
