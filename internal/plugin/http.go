package plugin

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Имя и операции коннектора http.
const (
	httpConnectorName = "http"
	httpOpRequest     = "request"
	httpOpGet         = "get"
	httpOpPost        = "post"

	defaultHTTPTimeout = 30 * time.Second
	maxResponseBody    = 10 * 1024 * 1024 // 10 MB
)

// Параметры операций http.
const (
	paramMethod          = "method"
	paramURL             = "url"
	paramHeaders         = "headers"
	paramBody            = "body"
	paramFollowRedirects = "follow_redirects"
	paramValidateSSL     = "validate_ssl"
	paramTimeoutSec      = "timeout_sec"
	paramAllowError      = "allow_error"
)

// HTTPConnector — коннектор HTTP запросов к внешним API.
//
// Операции:
//
//	request — произвольный запрос (method, url, headers, body)
//	get     — request с закреплённым GET
//	post    — request с закреплённым POST
//
// Результат:
//
//	{
//	    "status_code": 200,
//	    "headers": {"Content-Type": "application/json", ...},
//	    "body": {...}  // распарсенный JSON или строка
//	}
//
// Статус >= 400 — ошибка операции (retry и continue_on_error шага
// действуют); allow_error=true возвращает такой ответ как данные.
type HTTPConnector struct {
	client *http.Client
}

// NewHTTPConnector создаёт коннектор http.
func NewHTTPConnector() *HTTPConnector {
	return &HTTPConnector{
		client: &http.Client{
			Timeout: defaultHTTPTimeout,
		},
	}
}

// Name возвращает имя плагина.
func (c *HTTPConnector) Name() string {
	return httpConnectorName
}

// Operations возвращает операции плагина.
func (c *HTTPConnector) Operations() map[string]Operation {
	return map[string]Operation{
		httpOpRequest: c.request,
		httpOpGet:     c.method(http.MethodGet),
		httpOpPost:    c.method(http.MethodPost),
	}
}

func (c *HTTPConnector) request(ctx context.Context, params map[string]any) (map[string]any, error) {
	return c.do(ctx, params, "")
}

// method закрепляет HTTP метод операции, игнорируя параметр method.
func (c *HTTPConnector) method(method string) Operation {
	return func(ctx context.Context, params map[string]any) (map[string]any, error) {
		return c.do(ctx, params, method)
	}
}

// httpRequest — распарсенные параметры запроса.
type httpRequest struct {
	Method          string
	URL             string
	Headers         map[string]string
	Body            any
	FollowRedirects bool
	ValidateSSL     bool
	TimeoutSec      int
	AllowError      bool
}

func (c *HTTPConnector) do(ctx context.Context, params map[string]any, method string) (map[string]any, error) {
	req, err := c.parseParams(params, method)
	if err != nil {
		return nil, err
	}

	client := c.buildClient(req)

	httpReq, err := c.buildRequest(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := c.parseResponse(resp)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 && !req.AllowError {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}
	return data, nil
}

// parseParams парсит параметры запроса.
func (c *HTTPConnector) parseParams(params map[string]any, method string) (*httpRequest, error) {
	req := &httpRequest{
		Method:          method,
		URL:             GetString(params, paramURL),
		Headers:         GetStringMap(params, paramHeaders),
		Body:            params[paramBody],
		FollowRedirects: GetBool(params, paramFollowRedirects, true),
		ValidateSSL:     GetBool(params, paramValidateSSL, true),
		TimeoutSec:      GetInt(params, paramTimeoutSec),
		AllowError:      GetBool(params, paramAllowError, false),
	}

	if req.URL == "" {
		return nil, fmt.Errorf("%w: http: url is required", ErrInvalidParams)
	}

	if req.Method == "" {
		req.Method = GetString(params, paramMethod)
	}
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	req.Method = strings.ToUpper(req.Method)

	if req.Headers == nil {
		req.Headers = make(map[string]string)
	}

	return req, nil
}

// buildClient создаёт HTTP клиент под параметры запроса.
func (c *HTTPConnector) buildClient(req *httpRequest) *http.Client {
	timeout := defaultHTTPTimeout
	if req.TimeoutSec > 0 {
		timeout = time.Duration(req.TimeoutSec) * time.Second
	}

	tlsConfig := &tls.Config{
		InsecureSkipVerify: !req.ValidateSSL,
	}

	var checkRedirect func(*http.Request, []*http.Request) error
	if !req.FollowRedirects {
		checkRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	return &http.Client{
		Timeout:       timeout,
		CheckRedirect: checkRedirect,
		Transport: &http.Transport{
			TLSClientConfig: tlsConfig,
		},
	}
}

// buildRequest создаёт HTTP запрос.
func (c *HTTPConnector) buildRequest(ctx context.Context, req *httpRequest) (*http.Request, error) {
	var bodyReader io.Reader

	if req.Body != nil {
		bodyBytes, err := serializeBody(req.Body)
		if err != nil {
			return nil, fmt.Errorf("serialize body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)

		if _, hasContentType := req.Headers["Content-Type"]; !hasContentType {
			req.Headers["Content-Type"] = "application/json"
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bodyReader)
	if err != nil {
		return nil, err
	}

	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}

	return httpReq, nil
}

// serializeBody сериализует body в bytes.
func serializeBody(body any) ([]byte, error) {
	switch v := body.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	default:
		return json.Marshal(v)
	}
}

// parseResponse парсит HTTP ответ в данные операции.
func (c *HTTPConnector) parseResponse(resp *http.Response) (map[string]any, error) {
	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	var body any
	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "application/json") {
		if err := json.Unmarshal(bodyBytes, &body); err != nil {
			// Невалидный JSON отдаётся строкой
			body = string(bodyBytes)
		}
	} else {
		body = string(bodyBytes)
	}

	headers := make(map[string]string)
	for key := range resp.Header {
		headers[key] = resp.Header.Get(key)
	}

	return map[string]any{
		"status_code": resp.StatusCode,
		"headers":     headers,
		"body":        body,
	}, nil
}
