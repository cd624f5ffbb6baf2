package gateway

import (
	"encoding/json"
	"testing"

	"github.com/agentmesh/gateway/internal/auth"
	"github.com/agentmesh/gateway/internal/pairing"
)

func TestWSPairingRequestDisabledWithoutPairingStore(t *testing.T) {
	s := newTestServer(t, &fakeTurnProvider{name: "anthropic"})
	ws := dialTestServer(t, s)
	connectTestClient(t, ws)

	_ = ws.WriteJSON(map[string]any{
		"type":   "req",
		"id":     "1",
		"method": "pairing.request",
		"params": map[string]any{"channel": "telegram", "deviceId": "dev1"},
	})
	f := readFrame(t, ws)
	if f.OK == nil || *f.OK {
		t.Fatalf("expected pairing.request to be rejected without a pairing store, got %+v", f)
	}
	if f.Error == nil || f.Error.Code != "pairing_disabled" {
		t.Fatalf("expected pairing_disabled error code, got %+v", f.Error)
	}
}

func TestWSPairingRequestThenResolveIssuesToken(t *testing.T) {
	s := newTestServer(t, &fakeTurnProvider{name: "anthropic"})
	s.pairing = pairing.NewStore(t.TempDir())
	tokens, err := auth.NewTokenManager(t.TempDir() + "/tokens.json")
	if err != nil {
		t.Fatalf("unexpected error building token manager: %v", err)
	}
	s.tokens = tokens

	ws := dialTestServer(t, s)
	connectTestClient(t, ws)

	_ = ws.WriteJSON(map[string]any{
		"type":   "req",
		"id":     "1",
		"method": "pairing.request",
		"params": map[string]any{"channel": "telegram", "deviceId": "dev1"},
	})
	f := readFrame(t, ws)
	if f.OK == nil || !*f.OK {
		t.Fatalf("expected a successful pairing.request response, got %+v", f)
	}
	var req struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(f.Payload, &req); err != nil || req.Code == "" {
		t.Fatalf("expected a non-empty pairing code, got %+v (err %v)", req, err)
	}

	_ = ws.WriteJSON(map[string]any{
		"type":   "req",
		"id":     "2",
		"method": "pairing.resolve",
		"params": map[string]any{"channel": "telegram", "code": req.Code},
	})
	f2 := readFrame(t, ws)
	if f2.OK == nil || !*f2.OK {
		t.Fatalf("expected a successful pairing.resolve response, got %+v", f2)
	}
	var resolved struct {
		DeviceID string `json:"deviceId"`
		Token    string `json:"token"`
	}
	if err := json.Unmarshal(f2.Payload, &resolved); err != nil || resolved.Token == "" || resolved.DeviceID != "dev1" {
		t.Fatalf("expected a minted token for dev1, got %+v (err %v)", resolved, err)
	}
}

func TestWSPairingResolveRejectsUnknownCode(t *testing.T) {
	s := newTestServer(t, &fakeTurnProvider{name: "anthropic"})
	s.pairing = pairing.NewStore(t.TempDir())
	tokens, err := auth.NewTokenManager(t.TempDir() + "/tokens.json")
	if err != nil {
		t.Fatalf("unexpected error building token manager: %v", err)
	}
	s.tokens = tokens

	ws := dialTestServer(t, s)
	connectTestClient(t, ws)

	_ = ws.WriteJSON(map[string]any{
		"type":   "req",
		"id":     "1",
		"method": "pairing.resolve",
		"params": map[string]any{"channel": "telegram", "code": "nonexistent"},
	})
	f := readFrame(t, ws)
	if f.OK == nil || *f.OK {
		t.Fatalf("expected pairing.resolve to reject an unknown code, got %+v", f)
	}
	if f.Error == nil || f.Error.Code != "pairing_code_invalid" {
		t.Fatalf("expected pairing_code_invalid error code, got %+v", f.Error)
	}
}
