package outfmt

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want Mode
	}{
		{"", ModeText},
		{"text", ModeText},
		{"JSON", ModeJSON},
		{" json ", ModeJSON},
	} {
		got, err := Parse(tc.in)
		if err != nil {
			t.Fatalf("Parse(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("Parse(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}

	if _, err := Parse("yaml"); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}

func TestContextMode(t *testing.T) {
	ctx := context.Background()

	if IsJSON(ctx) {
		t.Fatalf("expected default text")
	}

	ctx = WithMode(ctx, ModeJSON)
	if !IsJSON(ctx) {
		t.Fatalf("expected json mode")
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteJSON(context.Background(), &buf, map[string]any{"ok": true}); err != nil {
		t.Fatalf("err: %v", err)
	}

	if !strings.Contains(buf.String(), `"ok": true`) {
		t.Fatalf("unexpected output: %q", buf.String())
	}
}

func TestWriteJSONWithJQ(t *testing.T) {
	ctx := WithJQ(context.Background(), ".items[].name")

	var buf bytes.Buffer
	err := WriteJSON(ctx, &buf, map[string]any{
		"items": []map[string]any{
			{"name": "one"},
			{"name": "two"},
		},
	})
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	want := "\"one\"\n\"two\"\n"
	if buf.String() != want {
		t.Fatalf("got %q, want %q", buf.String(), want)
	}
}

func TestApplyJQ_FieldExtraction(t *testing.T) {
	input := `[{"title":"Standup","status":"synced"},{"title":"Review","status":"pending"}]`

	got, err := ApplyJQ([]byte(input), ".[].title")
	if err != nil {
		t.Fatalf("ApplyJQ: %v", err)
	}

	want := "\"Standup\"\n\"Review\""
	if string(got) != want {
		t.Fatalf("got %q, want %q", string(got), want)
	}
}

func TestApplyJQ_Transform(t *testing.T) {
	input := `[{"title":"Standup","status":"synced"},{"title":"Review","status":"pending"}]`

	got, err := ApplyJQ([]byte(input), `[.[] | select(.status == "pending") | .title]`)
	if err != nil {
		t.Fatalf("ApplyJQ: %v", err)
	}

	var titles []string
	if err := json.Unmarshal(got, &titles); err != nil {
		t.Fatalf("unmarshal result: %v (raw=%q)", err, string(got))
	}

	if len(titles) != 1 || titles[0] != "Review" {
		t.Fatalf("unexpected result: %v", titles)
	}
}

func TestApplyJQ_Length(t *testing.T) {
	got, err := ApplyJQ([]byte(`[1,2,3]`), "length")
	if err != nil {
		t.Fatalf("ApplyJQ: %v", err)
	}

	if string(got) != "3" {
		t.Fatalf("got %q, want %q", string(got), "3")
	}
}

func TestApplyJQ_InvalidExpression(t *testing.T) {
	if _, err := ApplyJQ([]byte(`{}`), "..["); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestApplyJQ_InvalidJSON(t *testing.T) {
	if _, err := ApplyJQ([]byte(`not json`), "."); err == nil {
		t.Fatalf("expected JSON error")
	}
}
