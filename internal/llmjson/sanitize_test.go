package llmjson

import (
	"errors"
	"testing"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain object", `{"a":1}`, `{"a":1}`},
		{"plain array", `["x","y"]`, `["x","y"]`},
		{"prose around", "Sure! Here you go: {\"a\":1} hope that helps", `{"a":1}`},
		{"fenced", "```json\n{\"a\": [1, 2]}\n```", `{"a": [1, 2]}`},
		{"fence without tag", "```\n[\"q\"]\n```", `["q"]`},
		{"think block", "<think>\nmaybe {\"wrong\":true}\n</think>\n{\"right\":true}", `{"right":true}`},
		{"nested", `{"a":{"b":[1,{"c":2}]}} trailing`, `{"a":{"b":[1,{"c":2}]}}`},
		{"brackets in strings", `{"title":"Song [Live] {2020}"}`, `{"title":"Song [Live] {2020}"}`},
		{"escaped quote", `{"t":"say \"hi\" }"}`, `{"t":"say \"hi\" }"}`},
		{"explanation after", "{\"index\":0}\n\n**Explanation:** chose the first", `{"index":0}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Sanitize(tt.in)
			if err != nil {
				t.Fatalf("Sanitize: %v", err)
			}
			if got != tt.want {
				t.Errorf("Sanitize = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSanitize_NoJSON(t *testing.T) {
	for _, in := range []string{"", "no json here", "{unclosed", "<think>only thoughts</think>"} {
		if _, err := Sanitize(in); !errors.Is(err, ErrNoJSON) {
			t.Errorf("Sanitize(%q) err = %v, want ErrNoJSON", in, err)
		}
	}
}

func TestDecode_SkipsUndecodableSpans(t *testing.T) {
	in := `Top pick [Official Video] is {"selected_result_index": 2, "confidence": 0.8}`
	var out struct {
		Index      int     `json:"selected_result_index"`
		Confidence float64 `json:"confidence"`
	}
	if err := Decode(in, &out); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out.Index != 2 || out.Confidence != 0.8 {
		t.Errorf("Decode = %+v", out)
	}
}

func TestDecode_IntoSlice(t *testing.T) {
	var queries []string
	if err := Decode("```json\n[\"a\", \"b\"]\n```", &queries); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(queries) != 2 || queries[1] != "b" {
		t.Errorf("queries = %v", queries)
	}
}

func TestDecode_Failure(t *testing.T) {
	var v struct{ A int }
	if err := Decode(`{"A":"not a number"}`, &v); !errors.Is(err, ErrNoJSON) {
		t.Errorf("err = %v, want wrapped ErrNoJSON", err)
	}
	if err := Decode("nothing", &v); !errors.Is(err, ErrNoJSON) {
		t.Errorf("err = %v, want ErrNoJSON", err)
	}
}

func TestDecode_FailedSpanLeavesNoFields(t *testing.T) {
	// The outer object sets reasoning before failing on the index type; the
	// nested object then decodes cleanly.
	in := `{"reasoning": "looked good", "selected_result_index": "two", "extra": {"confidence": 0.4}}`
	var out struct {
		Reasoning  string  `json:"reasoning"`
		Index      *int    `json:"selected_result_index"`
		Confidence float64 `json:"confidence"`
	}
	if err := Decode(in, &out); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out.Reasoning != "" || out.Index != nil || out.Confidence != 0.4 {
		t.Errorf("Decode = %+v, want only the nested span's fields", out)
	}
}

func TestDecode_RejectsNonPointer(t *testing.T) {
	var out struct{}
	if err := Decode(`{}`, out); err == nil {
		t.Error("expected error for non-pointer target")
	}
	if err := Decode(`{}`, nil); err == nil {
		t.Error("expected error for nil target")
	}
}
