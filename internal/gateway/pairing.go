package gateway

import (
	"encoding/json"

	"github.com/agentmesh/gateway/internal/auth"
	"github.com/agentmesh/gateway/pkg/models"
)

// pairingRequestParams starts a human pairing-code flow for a device that
// doesn't yet hold a bearer token: the device calls pairing.request over an
// otherwise-unauthenticated connection, then an operator reads the code off
// the channel and resolves it (pairing.resolve) to mint a token.
type pairingRequestParams struct {
	Channel  string            `json:"channel"`
	DeviceID string            `json:"deviceId"`
	Meta     map[string]string `json:"meta,omitempty"`
}

func (s *Server) handlePairingRequest(c *conn, frame models.Frame) error {
	if s.pairing == nil {
		return c.sendResponse(frame.ID, false, nil, &models.FrameError{Code: "pairing_disabled", Message: "pairing is not configured"})
	}
	var params pairingRequestParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		return err
	}
	req, err := s.pairing.RequestCode(params.Channel, params.DeviceID, params.Meta)
	if err != nil {
		return c.sendResponse(frame.ID, false, nil, &models.FrameError{Code: "pairing_request_failed", Message: err.Error()})
	}
	return c.sendResponse(frame.ID, true, map[string]any{
		"code":      req.Code,
		"expiresIn": pairingTTLSeconds,
	}, nil)
}

// pairingResolveParams is issued by an already-authenticated operator
// connection to approve a pending code and mint the paired device its
// first bearer token.
type pairingResolveParams struct {
	Channel string `json:"channel"`
	Code    string `json:"code"`
	Role    string `json:"role,omitempty"`
}

const pairingTTLSeconds = 3600

func (s *Server) handlePairingResolve(c *conn, frame models.Frame) error {
	if s.pairing == nil || s.tokens == nil {
		return c.sendResponse(frame.ID, false, nil, &models.FrameError{Code: "pairing_disabled", Message: "pairing is not configured"})
	}
	var params pairingResolveParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		return err
	}
	req, err := s.pairing.ResolveCode(params.Channel, params.Code)
	if err != nil {
		return c.sendResponse(frame.ID, false, nil, &models.FrameError{Code: "pairing_code_invalid", Message: err.Error()})
	}
	role := auth.DeviceRole(params.Role)
	if role == "" {
		role = auth.RoleNode
	}
	tok, err := s.tokens.CreateToken(req.DeviceID, role, nil, 0)
	if err != nil {
		return c.sendResponse(frame.ID, false, nil, &models.FrameError{Code: "token_issue_failed", Message: err.Error()})
	}
	return c.sendResponse(frame.ID, true, map[string]any{
		"deviceId": tok.DeviceID,
		"token":    tok.Token,
		"role":     string(tok.Role),
	}, nil)
}
