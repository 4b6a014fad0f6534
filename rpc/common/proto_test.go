package common

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/ValentinKolb/dTable/lib/dberr"
)

func TestMessageTypeJSON(t *testing.T) {
	for msgType := MsgTSuccess; msgType <= MsgTBlobFilter; msgType++ {
		b, err := json.Marshal(msgType)
		if err != nil {
			t.Fatalf("Failed to marshal %s: %v", msgType, err)
		}

		var result MessageType
		if err := json.Unmarshal(b, &result); err != nil {
			t.Errorf("Failed to unmarshal %s: %v", b, err)
			continue
		}
		if result != msgType {
			t.Errorf("Message type doesn't match after round trip: Expected %s, got %s", msgType, result)
		}
	}

	var result MessageType
	if err := json.Unmarshal([]byte(`"nope"`), &result); err == nil {
		t.Errorf("Expected an error for an unknown message type")
	}
}

func TestResponseError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code dberr.Code
	}{
		{"no error", nil, dberr.CodeSuccess},
		{"coded error", dberr.New(dberr.CodeCollectionNotFound, "collection %s not found", "x"), dberr.CodeCollectionNotFound},
		{"plain error", errors.New("boom"), dberr.CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := NewResponse(MsgTQuery, tt.err)
			err := resp.Error()
			if tt.err == nil {
				if err != nil {
					t.Errorf("Expected no error, got %v", err)
				}
				return
			}
			if dberr.CodeOf(err) != tt.code {
				t.Errorf("Expected code %s, got %s", tt.code, dberr.CodeOf(err))
			}
		})
	}

	if err := NewErrorResponse(dberr.CodeSuccess, "bad request").Error(); dberr.CodeOf(err) != dberr.CodeInternal {
		t.Errorf("Error responses without a code should map to %s, got %v", dberr.CodeInternal, err)
	}
}

func TestParseLogLevel(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "warning", "error", ""} {
		if _, err := ParseLogLevel(level); err != nil {
			t.Errorf("ParseLogLevel(%q) failed: %v", level, err)
		}
	}
	if _, err := ParseLogLevel("loud"); err == nil {
		t.Errorf("Expected an error for an invalid level")
	}
}

func TestToCatalogConfig(t *testing.T) {
	cfg := ServerConfig{DataDir: "/data", IdleThresholdSec: 60, QuiesceRetries: 3}
	cc := cfg.ToCatalogConfig()
	if cc.Root != "/data" {
		t.Errorf("Expected root /data, got %s", cc.Root)
	}
	if cc.IdleThreshold.Seconds() != 60 {
		t.Errorf("Expected idle threshold 60s, got %s", cc.IdleThreshold)
	}
	if cc.QuiesceRetries != 3 {
		t.Errorf("Expected 3 retries, got %d", cc.QuiesceRetries)
	}
	if cc.FlushOnShutdown {
		t.Errorf("Expected flush on shutdown to follow the server config")
	}
}
