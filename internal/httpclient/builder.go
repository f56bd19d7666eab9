package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// RequestBuilder assembles a request with path and query parameters.
type RequestBuilder struct {
	method  string
	baseURL string
	path    string
	query   url.Values
	headers map[string]string
	body    any
	ctx     context.Context
}

func NewRequest(method, baseURL string) *RequestBuilder {
	return &RequestBuilder{
		method:  method,
		baseURL: baseURL,
		query:   make(url.Values),
		headers: make(map[string]string),
		ctx:     context.Background(),
	}
}

func (b *RequestBuilder) Path(path string) *RequestBuilder {
	b.path = path
	return b
}

func (b *RequestBuilder) Query(key, value string) *RequestBuilder {
	b.query.Add(key, value)
	return b
}

func (b *RequestBuilder) Header(key, value string) *RequestBuilder {
	b.headers[key] = value
	return b
}

func (b *RequestBuilder) JSON(body any) *RequestBuilder {
	b.body = body
	b.headers["Content-Type"] = "application/json"
	return b
}

func (b *RequestBuilder) Context(ctx context.Context) *RequestBuilder {
	b.ctx = ctx
	return b
}

func (b *RequestBuilder) Build() (*http.Request, error) {
	u, err := url.Parse(b.baseURL + b.path)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if len(b.query) > 0 {
		u.RawQuery = b.query.Encode()
	}

	var bodyReader io.Reader
	if b.body != nil {
		encoded, err := json.Marshal(b.body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(b.ctx, b.method, u.String(), bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, v := range b.headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

// ExecuteJSON builds, executes and decodes the JSON response.
func (b *RequestBuilder) ExecuteJSON(client *Client, result any) error {
	req, err := b.Build()
	if err != nil {
		return err
	}
	return client.execute(b.ctx, req, result)
}
