package ingest

import (
	"bytes"
	"encoding/json"
)

// VariantKind identifies which backend an entry of the webhook response
// belongs to.
type VariantKind int

const (
	VariantUnknown VariantKind = iota
	VariantPrimary
	VariantSecondary
)

func (k VariantKind) String() string {
	switch k {
	case VariantPrimary:
		return "primary"
	case VariantSecondary:
		return "secondary"
	default:
		return "unknown"
	}
}

// BackendResult is one backend's reported outcome.
type BackendResult struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// Variant is one decoded entry of a multi-backend response.
type Variant struct {
	Kind   VariantKind     `json:"kind"`
	Result BackendResult   `json:"result"`
	Raw    json.RawMessage `json:"raw"`
}

// LegacyResult is the single-object response shape.
type LegacyResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Response is a decoded webhook response. Exactly one of Variants and Legacy
// is set.
type Response struct {
	Variants []Variant     `json:"variants,omitempty"`
	Legacy   *LegacyResult `json:"legacy,omitempty"`
	Raw      string        `json:"raw"`
}

// Primaries returns primary results in response order.
func (r *Response) Primaries() []BackendResult {
	var out []BackendResult
	for _, v := range r.Variants {
		if v.Kind == VariantPrimary {
			out = append(out, v.Result)
		}
	}
	return out
}

// Secondary returns the secondary result, or nil if none was reported.
func (r *Response) Secondary() *BackendResult {
	for _, v := range r.Variants {
		if v.Kind == VariantSecondary {
			res := v.Result
			return &res
		}
	}
	return nil
}

// detector recognises one backend's entry by its marker fields.
type detector struct {
	kind     VariantKind
	okKey    string
	errorKey string
}

// detectors are tried in order; the first match wins.
var detectors = []detector{
	{kind: VariantPrimary, okKey: "primary_ok", errorKey: "primary_error"},
	{kind: VariantSecondary, okKey: "secondary_ok", errorKey: "secondary_error"},
}

// DecodeResponse decodes a webhook response body. Empty or unrecognised
// bodies return *ParseError.
func DecodeResponse(body []byte) (*Response, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, &ParseError{Reason: "empty response body"}
	}
	raw := string(trimmed)
	if !json.Valid(trimmed) {
		return nil, &ParseError{Reason: "response is not valid JSON", Body: raw}
	}

	switch trimmed[0] {
	case '[':
		var entries []json.RawMessage
		json.Unmarshal(trimmed, &entries)
		if len(entries) >= 2 {
			if variants, ok := decodeVariants(entries); ok {
				return &Response{Variants: variants, Raw: raw}, nil
			}
		}
		if len(entries) == 1 {
			if legacy, ok := decodeLegacy(entries[0]); ok {
				return &Response{Legacy: legacy, Raw: raw}, nil
			}
		}
	case '{':
		if legacy, ok := decodeLegacy(trimmed); ok {
			return &Response{Legacy: legacy, Raw: raw}, nil
		}
	}
	return nil, &ParseError{Reason: "unrecognised response shape", Body: raw}
}

// decodeVariants classifies every entry. It fails when no entry carries a
// known backend marker.
func decodeVariants(entries []json.RawMessage) ([]Variant, bool) {
	variants := make([]Variant, 0, len(entries))
	known := false
	for _, entry := range entries {
		v := Variant{Kind: VariantUnknown, Raw: entry}
		var obj map[string]json.RawMessage
		if json.Unmarshal(entry, &obj) == nil {
			for _, d := range detectors {
				if result, ok := d.detect(obj); ok {
					v.Kind = d.kind
					v.Result = result
					known = true
					break
				}
			}
		}
		variants = append(variants, v)
	}
	return variants, known
}

func (d detector) detect(obj map[string]json.RawMessage) (BackendResult, bool) {
	okRaw, hasOK := obj[d.okKey]
	errRaw, hasErr := obj[d.errorKey]
	if !hasOK && !hasErr {
		return BackendResult{}, false
	}

	var result BackendResult
	if hasOK {
		json.Unmarshal(okRaw, &result.OK)
	}
	if hasErr {
		result.Error = errorText(errRaw)
	}
	if msg, ok := obj["message"]; ok {
		json.Unmarshal(msg, &result.Message)
	}
	return result, true
}

// errorText renders an error field that may be a string, an object or null.
func errorText(raw json.RawMessage) string {
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &obj) == nil && obj.Message != "" {
		return obj.Message
	}
	return string(raw)
}

func decodeLegacy(raw []byte) (*LegacyResult, bool) {
	var obj map[string]json.RawMessage
	if json.Unmarshal(raw, &obj) != nil {
		return nil, false
	}
	successRaw, ok := obj["success"]
	if !ok {
		return nil, false
	}
	var legacy LegacyResult
	if json.Unmarshal(successRaw, &legacy.Success) != nil {
		return nil, false
	}
	if msg, ok := obj["message"]; ok {
		json.Unmarshal(msg, &legacy.Message)
	}
	return &legacy, true
}
