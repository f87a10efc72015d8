// Package gateway implements the ModelGateway: the HTTP client that
// talks to a local Ollama server, in the request/response and
// streaming idiom of the teacher's chat-completion client, adapted
// from OpenAI-style SSE framing to Ollama's NDJSON generate endpoint.
package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrGatewayTimeout is returned when a request exceeds its deadline.
var ErrGatewayTimeout = errors.New("gateway: request timed out")

// ErrGatewayError is returned when Ollama responds with a non-2xx status.
var ErrGatewayError = errors.New("gateway: model server error")

// Response is the gateway's normalized result for a completed generate call.
type Response struct {
	Text       string
	Model      string
	DoneReason string
	TotalTokens int
}

// Options tunes a single Generate call.
type Options struct {
	Temperature float64
	MaxTokens   int
}

// Gateway is the ModelGateway HTTP client.
type Gateway struct {
	baseURL string
	model   string
	client  *http.Client
	verbose bool
}

// New builds a Gateway targeting host (e.g. "http://localhost:11434")
// with the given default model and request timeout.
func New(host, model string, timeout time.Duration, verbose bool) *Gateway {
	var transport http.RoundTripper
	if verbose {
		transport = &loggingTransport{}
	}
	return &Gateway{
		baseURL: strings.TrimSuffix(host, "/"),
		model:   model,
		client:  &http.Client{Timeout: timeout, Transport: transport},
		verbose: verbose,
	}
}

type generateRequest struct {
	Model   string  `json:"model"`
	Prompt  string  `json:"prompt"`
	Stream  bool    `json:"stream"`
	Options options `json:"options,omitempty"`
}

type options struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type generateChunk struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	DoneReason      string `json:"done_reason"`
	EvalCount       int    `json:"eval_count"`
	PromptEvalCount int    `json:"prompt_eval_count"`
}

// Generate sends prompt to the model and assembles the full response
// from Ollama's newline-delimited JSON stream.
func (g *Gateway) Generate(ctx context.Context, prompt string, opts Options) (Response, error) {
	body := generateRequest{
		Model:  g.model,
		Prompt: prompt,
		Stream: true,
		Options: options{
			Temperature: opts.Temperature,
			NumPredict:  opts.MaxTokens,
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return Response{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return Response{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Response{}, ErrGatewayTimeout
		}
		return Response{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return Response{}, fmt.Errorf("%w: status %d: %s", ErrGatewayError, resp.StatusCode, respBody)
	}

	var sb strings.Builder
	var result Response
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var chunk generateChunk
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			continue
		}
		sb.WriteString(chunk.Response)
		if chunk.Done {
			result.Model = chunk.Model
			result.DoneReason = chunk.DoneReason
			result.TotalTokens = chunk.EvalCount + chunk.PromptEvalCount
		}
	}
	if err := scanner.Err(); err != nil {
		return Response{}, err
	}

	result.Text = sb.String()
	return result, nil
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// ListModels queries /api/tags for the names of models Ollama has pulled.
func (g *Gateway) ListModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, err
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrGatewayError, resp.StatusCode)
	}

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// Health reports whether the model server is reachable at all.
func (g *Gateway) Health(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// loggingTransport mirrors the teacher's verbose-mode request/response
// logger, adapted to Ollama's plain JSON (no SSE framing to echo).
type loggingTransport struct{}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var reqBody []byte
	if req.Body != nil {
		reqBody, _ = io.ReadAll(req.Body)
		req.Body = io.NopCloser(bytes.NewReader(reqBody))
	}
	fmt.Printf(">>> %s %s\n>>> %s\n", req.Method, req.URL, reqBody)

	resp, err := http.DefaultTransport.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	resp.Body = io.NopCloser(bytes.NewReader(respBody))
	fmt.Printf("<<< %s\n<<< %s\n", resp.Status, respBody)

	return resp, nil
}
