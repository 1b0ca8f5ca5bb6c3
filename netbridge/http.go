package netbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fixkme/plua/errs"
)

const DefaultHTTPTimeout = 30 * time.Second

type HTTPRequest struct {
	Method  string
	URL     string
	Body    any // string, []byte, or anything JSON-encodable
	Headers map[string]string
}

type HTTPResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
}

// HTTPCaller makes one blocking request per call.
type HTTPCaller struct {
	Client *http.Client
}

func NewHTTPCaller(timeout time.Duration) *HTTPCaller {
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	return &HTTPCaller{Client: &http.Client{Timeout: timeout}}
}

func (h *HTTPCaller) Do(ctx context.Context, req HTTPRequest) (*HTTPResponse, error) {
	method := strings.ToUpper(req.Method)
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch, http.MethodHead:
	default:
		return nil, errs.Bridge.Printf("unsupported HTTP method: %s", req.Method)
	}

	var body io.Reader
	switch b := req.Body.(type) {
	case nil:
	case string:
		body = strings.NewReader(b)
	case []byte:
		body = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			return nil, errs.Bridge.Wrap(err)
		}
		body = bytes.NewReader(raw)
		if _, ok := req.Headers["Content-Type"]; !ok {
			if req.Headers == nil {
				req.Headers = make(map[string]string)
			}
			req.Headers["Content-Type"] = "application/json"
		}
	}

	hreq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, errs.Bridge.Wrap(err)
	}
	for k, v := range req.Headers {
		hreq.Header.Set(k, v)
	}
	resp, err := h.Client.Do(hreq)
	if err != nil {
		return nil, errs.Bridge.Wrap(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Bridge.Wrap(err)
	}
	out := &HTTPResponse{
		StatusCode: resp.StatusCode,
		Body:       string(raw),
		Headers:    make(map[string]string, len(resp.Header)),
	}
	for k := range resp.Header {
		out.Headers[k] = resp.Header.Get(k)
	}
	return out, nil
}
