// Package outfmt selects and renders the CLI output mode (text or JSON).
package outfmt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/itchyny/gojq"
)

type Mode string

const (
	ModeText Mode = "text"
	ModeJSON Mode = "json"
)

func Parse(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeText, "":
		return ModeText, nil
	case ModeJSON:
		return ModeJSON, nil
	default:
		return "", errors.New("invalid --output (expected text|json)")
	}
}

type ctxKey struct{}

func WithMode(ctx context.Context, mode Mode) context.Context {
	return context.WithValue(ctx, ctxKey{}, mode)
}

func FromContext(ctx context.Context) Mode {
	if v := ctx.Value(ctxKey{}); v != nil {
		if m, ok := v.(Mode); ok {
			return m
		}
	}
	return ModeText
}

func IsJSON(ctx context.Context) bool {
	return FromContext(ctx) == ModeJSON
}

// WriteJSON encodes v to w, applying the jq expression from the context when set.
func WriteJSON(ctx context.Context, w io.Writer, v any) error {
	if expr := jqFromContext(ctx); expr != "" {
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		out, err := ApplyJQ(b, expr)
		if err != nil {
			return err
		}
		if len(out) > 0 {
			out = append(out, '\n')
		}
		_, err = w.Write(out)
		return err
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type jqCtxKey struct{}

func WithJQ(ctx context.Context, expr string) context.Context {
	return context.WithValue(ctx, jqCtxKey{}, expr)
}

func jqFromContext(ctx context.Context) string {
	if v := ctx.Value(jqCtxKey{}); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// ApplyJQ filters marshaled JSON through a jq expression. Multiple results
// come back newline separated, the way the jq binary prints them.
func ApplyJQ(data []byte, expression string) ([]byte, error) {
	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("parse jq expression %q: %w", expression, err)
	}

	var input any
	if err := json.Unmarshal(data, &input); err != nil {
		return nil, fmt.Errorf("decode JSON for jq: %w", err)
	}

	var out []byte
	iter := query.Run(input)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if jqErr, isErr := v.(error); isErr {
			return nil, fmt.Errorf("apply jq expression: %w", jqErr)
		}

		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode jq result: %w", err)
		}
		if len(out) > 0 {
			out = append(out, '\n')
		}
		out = append(out, b...)
	}
	return out, nil
}
