package memstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math"
	"net/http"
	"strings"
	"time"
)

// Embedder produces a unit-normalized vector for a piece of text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	Name() string
}

// selectEmbedder implements the provider precedence spec §4.4 requires:
// explicit config value, else OpenAI key present, else Gemini key present,
// else local.
func selectEmbedder(cfg Config, client *http.Client) Embedder {
	provider := cfg.EmbedProvider
	if provider == "" {
		switch {
		case cfg.OpenAIAPIKey != "":
			provider = "openai"
		case cfg.GeminiAPIKey != "":
			provider = "gemini"
		default:
			provider = "local"
		}
	}
	switch provider {
	case "openai":
		base := cfg.OpenAIBaseURL
		if base == "" {
			base = "https://api.openai.com/v1"
		}
		return &openAIEmbedder{apiKey: cfg.OpenAIAPIKey, baseURL: base, client: client}
	case "gemini":
		return &geminiEmbedder{apiKey: cfg.GeminiAPIKey, client: client}
	default:
		return &localEmbedder{dim: cfg.LocalDimension}
	}
}

// localEmbedder produces a deterministic token-hashed sparse vector, unit
// normalized. Used when no remote embedding provider is configured.
type localEmbedder struct{ dim int }

func (e *localEmbedder) Name() string { return "local" }

func (e *localEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	dim := e.dim
	if dim <= 0 {
		dim = 256
	}
	vec := make([]float64, dim)
	for _, tok := range tokenize(text) {
		h := fnv.New32a()
		h.Write([]byte(tok))
		idx := int(h.Sum32()) % dim
		if idx < 0 {
			idx += dim
		}
		vec[idx]++
	}
	return normalize(vec), nil
}

func normalize(vec []float64) []float64 {
	var sumSq float64
	for _, v := range vec {
		sumSq += v * v
	}
	if sumSq == 0 {
		return vec
	}
	norm := math.Sqrt(sumSq)
	out := make([]float64, len(vec))
	for i, v := range vec {
		out[i] = v / norm
	}
	return out
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot float64
	for i := range a {
		dot += a[i] * b[i]
	}
	if dot < 0 {
		return 0
	}
	return dot
}

// openAIEmbedder calls an OpenAI-compatible /embeddings endpoint.
type openAIEmbedder struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func (e *openAIEmbedder) Name() string { return "openai" }

func (e *openAIEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	client := e.client
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	body, _ := json.Marshal(map[string]interface{}{
		"model": "text-embedding-3-small",
		"input": text,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("memstore: build embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("memstore: embedding request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("memstore: embedding endpoint returned %d", resp.StatusCode)
	}
	var parsed struct {
		Data []struct {
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("memstore: decode embedding response: %w", err)
	}
	if len(parsed.Data) == 0 {
		return nil, fmt.Errorf("memstore: empty embedding response")
	}
	return normalize(parsed.Data[0].Embedding), nil
}

// geminiEmbedder calls the Gemini embedContent endpoint.
type geminiEmbedder struct {
	apiKey string
	client *http.Client
}

func (e *geminiEmbedder) Name() string { return "gemini" }

func (e *geminiEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	client := e.client
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	url := fmt.Sprintf(
		"https://generativelanguage.googleapis.com/v1beta/models/text-embedding-004:embedContent?key=%s",
		e.apiKey,
	)
	body, _ := json.Marshal(map[string]interface{}{
		"content": map[string]interface{}{
			"parts": []map[string]string{{"text": text}},
		},
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("memstore: build gemini request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("memstore: gemini request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("memstore: gemini endpoint returned %d", resp.StatusCode)
	}
	var parsed struct {
		Embedding struct {
			Values []float64 `json:"values"`
		} `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("memstore: decode gemini response: %w", err)
	}
	return normalize(parsed.Embedding.Values), nil
}

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "of": true,
	"to": true, "in": true, "is": true, "it": true, "for": true, "on": true,
	"was": true, "with": true, "as": true, "at": true, "by": true, "be": true,
	"this": true, "that": true, "are": true, "from": true,
}

// tokenize lowercases, splits on non-alphanumerics, and drops stop words and
// tokens of length <= 2, matching the query-tokenization rule in §4.4.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) <= 2 || stopWords[f] {
			continue
		}
		out = append(out, f)
	}
	return out
}
