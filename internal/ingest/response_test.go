package ingest

import (
	"errors"
	"testing"
)

func TestDecodeResponse(t *testing.T) {
	tests := []struct {
		name          string
		body          string
		wantErr       bool
		wantPrimaries []BackendResult
		wantSecondary *BackendResult
		wantLegacy    *LegacyResult
	}{
		{
			name: "two primaries and a secondary",
			body: `[
				{"primary_ok": true, "message": "stored"},
				{"secondary_ok": false, "secondary_error": "index offline"},
				{"primary_ok": false, "primary_error": {"message": "vector store down"}}
			]`,
			wantPrimaries: []BackendResult{
				{OK: true, Message: "stored"},
				{OK: false, Error: "vector store down"},
			},
			wantSecondary: &BackendResult{OK: false, Error: "index offline"},
		},
		{
			name:          "error marker only",
			body:          `[{"primary_error": "timeout"}, {"primary_ok": true, "primary_error": null}]`,
			wantPrimaries: []BackendResult{{OK: false, Error: "timeout"}, {OK: true}},
		},
		{
			name:       "legacy object",
			body:       `{"success": true, "message": "done"}`,
			wantLegacy: &LegacyResult{Success: true, Message: "done"},
		},
		{
			name:       "legacy object in single element array",
			body:       `[{"success": false, "message": "nope"}]`,
			wantLegacy: &LegacyResult{Success: false, Message: "nope"},
		},
		{name: "empty body", body: "", wantErr: true},
		{name: "whitespace body", body: "  \n", wantErr: true},
		{name: "not json", body: "<html>oops</html>", wantErr: true},
		{name: "array without markers", body: `[{"a":1},{"b":2}]`, wantErr: true},
		{name: "object without success", body: `{"status":"ok"}`, wantErr: true},
		{name: "bare string", body: `"ok"`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := DecodeResponse([]byte(tt.body))
			if (err != nil) != tt.wantErr {
				t.Fatalf("DecodeResponse() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				var parseErr *ParseError
				if !errors.As(err, &parseErr) {
					t.Errorf("DecodeResponse() error = %T, want *ParseError", err)
				}
				return
			}

			primaries := resp.Primaries()
			if len(primaries) != len(tt.wantPrimaries) {
				t.Fatalf("Primaries() = %+v, want %+v", primaries, tt.wantPrimaries)
			}
			for i := range primaries {
				if primaries[i] != tt.wantPrimaries[i] {
					t.Errorf("Primaries()[%d] = %+v, want %+v", i, primaries[i], tt.wantPrimaries[i])
				}
			}

			secondary := resp.Secondary()
			if (secondary == nil) != (tt.wantSecondary == nil) {
				t.Fatalf("Secondary() = %+v, want %+v", secondary, tt.wantSecondary)
			}
			if secondary != nil && *secondary != *tt.wantSecondary {
				t.Errorf("Secondary() = %+v, want %+v", *secondary, *tt.wantSecondary)
			}

			if (resp.Legacy == nil) != (tt.wantLegacy == nil) {
				t.Fatalf("Legacy = %+v, want %+v", resp.Legacy, tt.wantLegacy)
			}
			if resp.Legacy != nil && *resp.Legacy != *tt.wantLegacy {
				t.Errorf("Legacy = %+v, want %+v", *resp.Legacy, *tt.wantLegacy)
			}
		})
	}
}

func TestDecodeResponse_KeepsUnknownEntries(t *testing.T) {
	resp, err := DecodeResponse([]byte(`[{"primary_ok": true}, {"note": "extra"}, {"primary_ok": true}]`))
	if err != nil {
		t.Fatalf("DecodeResponse() error = %v", err)
	}
	if len(resp.Variants) != 3 {
		t.Fatalf("Variants = %d, want 3", len(resp.Variants))
	}
	if resp.Variants[1].Kind != VariantUnknown {
		t.Errorf("Variants[1].Kind = %s, want unknown", resp.Variants[1].Kind)
	}
}
