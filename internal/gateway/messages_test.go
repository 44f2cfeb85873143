package gateway

import (
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/brianly1003/cbridge/internal/domain"
)

func TestDecodeMessage(t *testing.T) {
	tests := []struct {
		name    string
		frame   string
		wantErr bool
	}{
		{"list", `{"type":"session_list"}`, false},
		{"create", `{"type":"session_create","projectPath":"/tmp/p","mode":"swarm"}`, false},
		{"create without path", `{"type":"session_create"}`, true},
		{"connect", `{"type":"session_connect","sessionId":"s1","replay":true}`, false},
		{"connect without id", `{"type":"session_connect"}`, true},
		{"disconnect", `{"type":"session_disconnect","sessionId":"s1"}`, false},
		{"input", `{"type":"session_input","sessionId":"s1","text":"run tests"}`, false},
		{"input without text", `{"type":"session_input","sessionId":"s1"}`, false},
		{"interrupt", `{"type":"session_interrupt","sessionId":"s1"}`, false},
		{"kill without id", `{"type":"session_kill"}`, true},
		{"permission", `{"type":"session_permission","sessionId":"s1","requestId":"r","approved":false}`, false},
		{"permission without approved", `{"type":"session_permission","sessionId":"s1","requestId":"r"}`, true},
		{"permission without request", `{"type":"session_permission","sessionId":"s1","approved":true}`, true},
		{"unknown type", `{"type":"session_explode"}`, true},
		{"missing type", `{"sessionId":"s1"}`, true},
		{"malformed", `{"type":`, true},
		{"not an object", `[1,2]`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeMessage([]byte(tt.frame))
			if (err != nil) != tt.wantErr {
				t.Fatalf("decodeMessage(%s) error = %v, wantErr %v", tt.frame, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, domain.ErrProtocol) {
				t.Errorf("error %v should wrap ErrProtocol", err)
			}
		})
	}
}

func TestDecodeMessage_KeepsIDsOnValidationError(t *testing.T) {
	msg, err := decodeMessage([]byte(`{"type":"session_permission","id":"q1","sessionId":"s1"}`))
	if err == nil {
		t.Fatal("expected validation error")
	}
	if msg.ID != "q1" || msg.SessionID != "s1" {
		t.Errorf("msg = %+v, ids should survive validation failure", msg)
	}
}

func TestOriginChecker(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"no origin header", []string{"https://app.example.com"}, "", true},
		{"empty allow list", nil, "https://evil.test", true},
		{"exact match", []string{"https://app.example.com"}, "https://app.example.com", true},
		{"not listed", []string{"https://app.example.com"}, "https://evil.test", false},
		{"localhost always", []string{"https://app.example.com"}, "http://localhost:5173", true},
		{"wildcard subdomain", []string{"*.example.com"}, "https://a.example.com", true},
		{"wildcard apex", []string{"*.example.com"}, "https://example.com", true},
		{"wildcard lookalike", []string{"*.example.com"}, "https://badexample.com", false},
		{"star", []string{"*"}, "https://anything.test", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/ws", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			if got := (originChecker{allowed: tt.allowed}).check(r); got != tt.want {
				t.Errorf("check(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}
}
