package kb

import "testing"

func TestParseDelimitedSimple(t *testing.T) {
	rows, err := parseDelimited("name,wing,year\nAmphora,East,1922\n")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[1][0] != "Amphora" || rows[1][2] != "1922" {
		t.Errorf("unexpected row %v", rows[1])
	}
}

func TestParseDelimitedQuotedSeparator(t *testing.T) {
	rows, err := parseDelimited(`name,caption
vase,"blue, with handles"`)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if rows[1][1] != "blue, with handles" {
		t.Errorf("expected comma preserved inside quotes, got %q", rows[1][1])
	}
}

func TestParseDelimitedEmbeddedNewline(t *testing.T) {
	rows, err := parseDelimited("name,notes\nurn,\"line one\nline two\"\n")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected embedded newline to stay in one row, got %d rows", len(rows))
	}
	if rows[1][1] != "line one\nline two" {
		t.Errorf("unexpected field %q", rows[1][1])
	}
}

func TestParseDelimitedDoubledQuotes(t *testing.T) {
	rows, err := parseDelimited(`name,nickname
statue,"the ""thinker"""`)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if rows[1][1] != `the "thinker"` {
		t.Errorf("expected doubled quotes unescaped, got %q", rows[1][1])
	}
}

func TestParseDelimitedCRLF(t *testing.T) {
	rows, err := parseDelimited("a,b\r\n1,2\r\n")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(rows) != 2 || rows[1][0] != "1" || rows[1][1] != "2" {
		t.Errorf("unexpected rows %v", rows)
	}
}

func TestParseDelimitedEmptyFields(t *testing.T) {
	rows, err := parseDelimited("a,,c\n")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(rows[0]) != 3 || rows[0][1] != "" {
		t.Errorf("expected empty middle field, got %v", rows[0])
	}
}

func TestParseDelimitedUnterminatedQuote(t *testing.T) {
	if _, err := parseDelimited(`a,"unclosed`); err == nil {
		t.Fatal("expected error for unterminated quote")
	}
}

func TestParseDelimitedGarbageAfterQuote(t *testing.T) {
	if _, err := parseDelimited(`a,"x"y`); err == nil {
		t.Fatal("expected error for text after closing quote")
	}
}

func TestParseDelimitedNoTrailingNewline(t *testing.T) {
	rows, err := parseDelimited("a,b\n1,2")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected final unterminated row kept, got %d rows", len(rows))
	}
}
