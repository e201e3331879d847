package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/foglet-ai/chatmem/pkg/errs"
)

// HTTPEmbedder is an example-only embedding backend (spec's external
// interfaces list an HTTP embedding service as out-of-core, example
// only). It POSTs {model, prompt} and expects {"embedding": [...]}.
type HTTPEmbedder struct {
	Endpoint string
	Model    string
	Client   *http.Client
}

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

func (e *HTTPEmbedder) client() *http.Client {
	if e.Client != nil {
		return e.Client
	}
	return &http.Client{Timeout: 30 * time.Second}
}

// Single implements the embedder.Single function type.
func (e *HTTPEmbedder) Single(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: e.Model, Prompt: text})
	if err != nil {
		return nil, errs.New(errs.InvalidArgument, "httpembedder.Single", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errs.New(errs.BadFunctionCall, "httpembedder.Single", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client().Do(req)
	if err != nil {
		return nil, errs.New(errs.BadFunctionCall, "httpembedder.Single", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errs.New(errs.BadFunctionCall, "httpembedder.Single",
			fmt.Errorf("embedding service returned status %d", resp.StatusCode))
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errs.New(errs.BadFunctionCall, "httpembedder.Single", err)
	}
	return out.Embedding, nil
}
