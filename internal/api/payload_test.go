package api_test

import (
	"strings"
	"testing"

	"unmix/internal/api"
)

func TestParseJobInput(t *testing.T) {
	input, err := api.ParseJobInput(`{"type":"advanced_separate","audio_data":"QUJD","return_type":"base64"}`)
	if err != nil {
		t.Fatalf("ParseJobInput: %v", err)
	}
	if input.Type != "advanced_separate" || input.AudioData != "QUJD" {
		t.Fatalf("parsed input = %+v", input)
	}
	if input.EffectiveReturnType() != api.ReturnTypeBase64 {
		t.Fatalf("return type = %q", input.EffectiveReturnType())
	}
}

func TestParseJobInputToleratesEmpty(t *testing.T) {
	input, err := api.ParseJobInput("   ")
	if err != nil {
		t.Fatalf("ParseJobInput: %v", err)
	}
	if input.Type != "" {
		t.Fatalf("expected zero input, got %+v", input)
	}
	if input.EffectiveReturnType() != api.ReturnTypeURL {
		t.Fatalf("default return type = %q", input.EffectiveReturnType())
	}
}

func TestParseJobInputRejectsMalformed(t *testing.T) {
	if _, err := api.ParseJobInput("{"); err == nil {
		t.Fatal("expected error")
	}
}

func TestEffectiveReturnTypeFallsBackToURL(t *testing.T) {
	for _, raw := range []string{"", "URL", "Base64", "ftp", " base64 "} {
		input := api.JobInput{ReturnType: raw}
		got := input.EffectiveReturnType()
		want := api.ReturnTypeURL
		if strings.EqualFold(strings.TrimSpace(raw), "base64") {
			want = api.ReturnTypeBase64
		}
		if got != want {
			t.Fatalf("return type for %q = %q, want %q", raw, got, want)
		}
	}
}

func TestEncodeResult(t *testing.T) {
	encoded, err := api.EncodeResult(api.ErrorResult{Error: "boom", Message: "detail"})
	if err != nil {
		t.Fatalf("EncodeResult: %v", err)
	}
	if !strings.Contains(encoded, `"error":"boom"`) {
		t.Fatalf("encoded = %q", encoded)
	}
}
