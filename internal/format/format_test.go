package format_test

import (
	"strings"
	"testing"
	"time"

	"steerbench/internal/format"
)

func TestASCII_BasicTable(t *testing.T) {
	tb := format.NewTable(format.ASCII)
	tb.Header("Persona", "Sensitivity", "Specificity")
	tb.Row("INTJ", 0.95, 0.88)
	tb.Row("ENFP", 0.75, 0.62)
	out := tb.String()

	// StyleLight renders headers upper-cased.
	if !strings.Contains(strings.ToUpper(out), "PERSONA") {
		t.Errorf("expected header 'Persona' in output:\n%s", out)
	}
	if !strings.Contains(out, "INTJ") {
		t.Errorf("expected 'INTJ' in output:\n%s", out)
	}
	if !strings.Contains(out, "0.95") {
		t.Errorf("expected '0.95' in output:\n%s", out)
	}
	// ASCII uses box-drawing characters from StyleLight.
	if !strings.Contains(out, "───") {
		t.Errorf("expected box-drawing characters in ASCII output:\n%s", out)
	}
}

func TestMarkdown_BasicTable(t *testing.T) {
	tb := format.NewTable(format.Markdown)
	tb.Header("Persona", "Sensitivity")
	tb.Row("INTJ", "1.000")
	tb.Row("ENFP", "0.667")
	out := tb.String()

	if !strings.Contains(strings.ToUpper(out), "| PERSONA") {
		t.Errorf("expected markdown header with '| Persona':\n%s", out)
	}
	if !strings.Contains(out, "---") {
		t.Errorf("expected markdown separator '---':\n%s", out)
	}
}

func TestMarkdown_WithFooter(t *testing.T) {
	tb := format.NewTable(format.Markdown)
	tb.Header("Persona", "Score")
	tb.Row("INTJ", "0.900")
	tb.Row("ENFP", "0.700")
	tb.Footer("MEAN", "0.800")
	out := tb.String()

	if !strings.Contains(out, "MEAN") {
		t.Errorf("expected footer 'MEAN' in output:\n%s", out)
	}
	if !strings.Contains(out, "0.800") {
		t.Errorf("expected footer value '0.800' in output:\n%s", out)
	}
}

func TestColumns_RightAlign(t *testing.T) {
	tb := format.NewTable(format.ASCII)
	tb.Header("Persona", "Observations")
	tb.Row("INTJ", 12345)
	tb.Columns(format.ColumnConfig{Number: 2, Align: format.AlignRight})
	out := tb.String()

	if !strings.Contains(out, "12345") {
		t.Errorf("expected '12345' in output:\n%s", out)
	}
}

func TestSameData_DualFormat(t *testing.T) {
	build := func(m format.Mode) string {
		tb := format.NewTable(m)
		tb.Header("A", "B")
		tb.Row("x", "y")
		return tb.String()
	}

	ascii := build(format.ASCII)
	md := build(format.Markdown)

	if ascii == md {
		t.Error("ASCII and Markdown output should differ")
	}
	for _, out := range []string{ascii, md} {
		if !strings.Contains(out, "x") || !strings.Contains(out, "y") {
			t.Errorf("expected data in output:\n%s", out)
		}
	}
}

// --- Helper tests ---

func TestFmtScore(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0.000"},
		{0.5, "0.500"},
		{0.6667, "0.667"},
		{1, "1.000"},
	}
	for _, tc := range tests {
		if got := format.FmtScore(tc.in); got != tc.want {
			t.Errorf("FmtScore(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestFmtPercent(t *testing.T) {
	if got := format.FmtPercent(0.125); got != "12.5%" {
		t.Errorf("FmtPercent(0.125) = %q, want 12.5%%", got)
	}
}

func TestFmtDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0s"},
		{30 * time.Second, "30s"},
		{90 * time.Second, "1m 30s"},
	}
	for _, tc := range tests {
		if got := format.FmtDuration(tc.in); got != tc.want {
			t.Errorf("FmtDuration(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in     string
		maxLen int
		want   string
	}{
		{"hello", 10, "hello"},
		{"hello world", 8, "hello..."},
		{"abcdef", 3, "abc"},
	}
	for _, tc := range tests {
		if got := format.Truncate(tc.in, tc.maxLen); got != tc.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tc.in, tc.maxLen, got, tc.want)
		}
	}
}
