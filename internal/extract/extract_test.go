package extract

import "testing"

func TestHasText(t *testing.T) {
	tests := []struct {
		name  string
		pages []Page
		want  bool
	}{
		{"nil", nil, false},
		{"empty pages", []Page{{Number: 1}, {Number: 2}}, false},
		{"whitespace only", []Page{{Number: 1, Text: "  \n\t "}}, false},
		{"one page with text", []Page{{Number: 1}, {Number: 2, Text: "hello"}}, true},
	}
	for _, tt := range tests {
		if got := HasText(tt.pages); got != tt.want {
			t.Errorf("%s: HasText = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestExtractBytesRejectsGarbage(t *testing.T) {
	e := NewExtractor()
	if _, err := e.ExtractBytes([]byte("not a pdf at all")); err == nil {
		t.Error("expected error for non-PDF content")
	}
}
