package ws

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

type ConnectParams struct {
	Client *ConnectClient `json:"client"`
	Auth   *ConnectAuth   `json:"auth"`
	Nonce  string         `json:"nonce"`
}

type ConnectClient struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Version     string `json:"version"`
}

type ConnectAuth struct {
	Token string `json:"token"`
}

// ErrConsoleDisabled is returned when no console token is configured.
var ErrConsoleDisabled = errors.New("console access disabled")

// VerifyConnect validates the connect handshake and returns the user ID.
// The client must echo the challenge nonce and present the console token.
func VerifyConnect(paramsRaw json.RawMessage, challengeNonce, token string) (userID string, displayName string, err error) {
	if token == "" {
		return "", "", ErrConsoleDisabled
	}

	var params ConnectParams
	if err := json.Unmarshal(paramsRaw, &params); err != nil {
		return "", "", fmt.Errorf("invalid connect params: %w", err)
	}

	if challengeNonce == "" || params.Nonce != challengeNonce {
		return "", "", fmt.Errorf("nonce mismatch")
	}

	if params.Auth == nil || subtle.ConstantTimeCompare([]byte(params.Auth.Token), []byte(token)) != 1 {
		return "", "", fmt.Errorf("invalid token")
	}

	if params.Client == nil || strings.TrimSpace(params.Client.ID) == "" {
		return "", "", fmt.Errorf("missing client id")
	}

	displayName = params.Client.DisplayName
	if displayName == "" {
		displayName = params.Client.ID
	}

	return "console:" + strings.TrimSpace(params.Client.ID), displayName, nil
}
