package hardware

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
)

// HTTPTransport talks to a local hardware wallet bridge daemon (the kind a
// desktop wallet vendor ships to let browser/CLI tools reach a USB device)
// over a small JSON request/response contract. No hardware wallet SDK
// appears anywhere in the retrieval pack, so this speaks the bridge's wire
// protocol directly with net/http + encoding/json, the same pattern
// internal/chain/svm uses for its own JSON-RPC endpoint.
type HTTPTransport struct {
	endpoint string
	client   *http.Client
}

// NewHTTPTransport builds a Transport that posts signing requests to a
// bridge daemon listening at endpoint (typically http://127.0.0.1:<port>).
func NewHTTPTransport(endpoint string, client *http.Client) *HTTPTransport {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPTransport{endpoint: endpoint, client: client}
}

type signRequest struct {
	Address string `json:"address"`
	Message string `json:"message"` // base64
}

type signResponse struct {
	Signature string `json:"signature,omitempty"` // base64
	Error     string `json:"error,omitempty"`
}

func (t *HTTPTransport) SignTransaction(ctx context.Context, message []byte, address string) ([]byte, error) {
	body, err := json.Marshal(signRequest{
		Address: address,
		Message: base64.StdEncoding.EncodeToString(message),
	})
	if err != nil {
		return nil, fmt.Errorf("encode hardware sign request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint+"/sign", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build hardware sign request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call hardware bridge: %w", err)
	}
	defer resp.Body.Close()

	var out signResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode hardware bridge response: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("%s", out.Error)
	}
	sig, err := base64.StdEncoding.DecodeString(out.Signature)
	if err != nil {
		return nil, fmt.Errorf("decode hardware signature: %w", err)
	}
	return sig, nil
}
