// Package anonymizer is the HTTP client for the external anonymization
// service. The service receives placeholder-tokenized text and returns the
// same text with sensitive values replaced by mask tokens, plus the mapping
// rows needed to reverse them. Responses are validated against a JSON schema
// before decoding so a misbehaving service can never corrupt segment content.
package anonymizer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

const (
	singleTimeout = 1 * time.Second
	batchTimeout  = 5 * time.Second

	// One initial attempt plus two retries, fixed 500ms apart.
	attempts   = 3
	retryDelay = 500 * time.Millisecond
)

// Mapping is one masked entity reported by the service.
type Mapping struct {
	Placeholder string `json:"placeholder"`
	EntityType  string `json:"entity_type"`
	Original    string `json:"original"`
}

// Result is the anonymization outcome for one text.
type Result struct {
	AnonymizedText string    `json:"anonymized_text"`
	Mappings       []Mapping `json:"mappings"`
}

// responseSchema constrains what the service may return. Everything beyond
// this shape is rejected before decode.
const responseSchema = `{
	"type": "object",
	"required": ["anonymized_text"],
	"properties": {
		"anonymized_text": {"type": "string"},
		"mappings": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["placeholder", "entity_type", "original"],
				"properties": {
					"placeholder": {"type": "string", "minLength": 1},
					"entity_type": {"type": "string", "minLength": 1},
					"original": {"type": "string"}
				}
			}
		}
	}
}`

const batchResponseSchema = `{
	"type": "object",
	"required": ["results"],
	"properties": {
		"results": {
			"type": "array",
			"items": ` + responseSchema + `
		}
	}
}`

// Client calls the anonymization service over HTTP.
type Client struct {
	baseURL  string
	language string
	http     *http.Client

	singleSchema *jsonschema.Schema
	batchSchema  *jsonschema.Schema
}

// New creates a client for the service at baseURL. Language is forwarded with
// every request so the service can pick locale-aware recognizers.
func New(baseURL, language string) (*Client, error) {
	single, err := compileSchema("response.json", responseSchema)
	if err != nil {
		return nil, err
	}
	batch, err := compileSchema("batch_response.json", batchResponseSchema)
	if err != nil {
		return nil, err
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		language:     language,
		http:         &http.Client{},
		singleSchema: single,
		batchSchema:  batch,
	}, nil
}

func compileSchema(name, raw string) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader([]byte(raw))); err != nil {
		return nil, fmt.Errorf("failed to load response schema: %w", err)
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("failed to compile response schema: %w", err)
	}
	return schema, nil
}

// Anonymize masks a single text. The whole call, retries included, is bounded
// by a 1s timeout.
func (c *Client) Anonymize(ctx context.Context, text string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, singleTimeout)
	defer cancel()

	body, err := c.post(ctx, "/anonymize", map[string]any{
		"text":     text,
		"language": c.language,
	})
	if err != nil {
		return nil, err
	}

	if err := c.validate(c.singleSchema, body); err != nil {
		return nil, err
	}
	var res Result
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("decode anonymize response: %w", err)
	}
	return &res, nil
}

// AnonymizeBatch masks several texts in one round trip, bounded by a 5s
// timeout. Results are returned in request order, one per input text.
func (c *Client) AnonymizeBatch(ctx context.Context, texts []string) ([]Result, error) {
	ctx, cancel := context.WithTimeout(ctx, batchTimeout)
	defer cancel()

	body, err := c.post(ctx, "/anonymize/batch", map[string]any{
		"texts":    texts,
		"language": c.language,
	})
	if err != nil {
		return nil, err
	}

	if err := c.validate(c.batchSchema, body); err != nil {
		return nil, err
	}
	var res struct {
		Results []Result `json:"results"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("decode batch response: %w", err)
	}
	if len(res.Results) != len(texts) {
		return nil, fmt.Errorf("batch response has %d results for %d texts", len(res.Results), len(texts))
	}
	return res.Results, nil
}

func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	var body []byte
	err = retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(reqBody))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", "application/json")

			resp, err := c.http.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			data, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				return fmt.Errorf("anonymizer returned status %d", resp.StatusCode)
			}
			body = data
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(retryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, fmt.Errorf("anonymize request failed: %w", err)
	}
	return body, nil
}

func (c *Client) validate(schema *jsonschema.Schema, body []byte) error {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("anonymizer response is not valid JSON: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("anonymizer response does not match schema: %w", err)
	}
	return nil
}
