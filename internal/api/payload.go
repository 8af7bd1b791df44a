package api

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseJobInput decodes the stored input payload. Blank input yields a zero
// value so downstream defaults apply; malformed JSON is an error.
func ParseJobInput(raw string) (JobInput, error) {
	var input JobInput
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return input, nil
	}
	if err := json.Unmarshal([]byte(raw), &input); err != nil {
		return JobInput{}, fmt.Errorf("decode job input: %w", err)
	}
	return input, nil
}

// EffectiveReturnType normalizes the requested return type. Anything other
// than base64 falls back to url, matching the handler contract.
func (in JobInput) EffectiveReturnType() string {
	if strings.EqualFold(strings.TrimSpace(in.ReturnType), ReturnTypeBase64) {
		return ReturnTypeBase64
	}
	return ReturnTypeURL
}

// EncodeResult serializes a handler result payload for the queue record.
func EncodeResult(result any) (string, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("encode result: %w", err)
	}
	return string(data), nil
}
