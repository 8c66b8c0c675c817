// Package gateway holds the HTTP adapters to the order, payment and
// inventory services. Each gateway issues one family of outbound calls
// with a bounded timeout, classifies failures, records every attempt to
// the integration log, and applies the injected fallback policy.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"syscall"
	"time"

	"stockpay/internal/txn"
)

// Config is the common gateway configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration
	Mode    txn.FallbackMode
	Client  *http.Client
	Logf    func(format string, args ...any)
	Now     func() time.Time
}

const defaultTimeout = 5 * time.Second

// caller is the shared transport used by all three gateways.
type caller struct {
	service txn.Service
	client  *http.Client
	timeout time.Duration
	sink    txn.IntegrationSink
	logf    func(format string, args ...any)
}

func newCaller(service txn.Service, cfg Config, sink txn.IntegrationSink) caller {
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	logf := cfg.Logf
	if logf == nil {
		logf = log.Printf
	}
	return caller{
		service: service,
		client:  client,
		timeout: timeout,
		sink:    sink,
		logf:    logf,
	}
}

// record appends one attempt to the integration log. Sink failures are
// logged and swallowed so diagnostics can never break the workflow.
func (c caller) record(ctx context.Context, status string, request, response any, errMsg string) {
	if c.sink == nil {
		return
	}
	entry := txn.IntegrationEntry{
		Service:  c.service,
		Status:   status,
		Request:  request,
		Response: response,
		Error:    errMsg,
		At:       time.Now(),
	}
	if err := c.sink.Append(ctx, entry); err != nil {
		c.logf("record %s integration attempt: %v", c.service, err)
	}
}

func (c caller) fail(kind txn.FailureKind, err error) error {
	return &txn.ServiceError{Service: c.service, Kind: kind, Err: err}
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphqlError struct {
	Message    string `json:"message"`
	Extensions struct {
		Code string `json:"code"`
	} `json:"extensions"`
}

type graphqlEnvelope struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphqlError  `json:"errors"`
}

// postGraphQL posts a GraphQL document and decodes the data envelope into
// out. Errors always come back as *txn.ServiceError.
func (c caller) postGraphQL(ctx context.Context, url, query string, variables map[string]any, out any) error {
	body, err := json.Marshal(graphqlRequest{Query: query, Variables: variables})
	if err != nil {
		return c.fail(txn.FailureProtocol, fmt.Errorf("encode request: %w", err))
	}

	raw, err := c.post(ctx, url, body)
	if err != nil {
		return err
	}

	var envelope graphqlEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return c.fail(txn.FailureProtocol, fmt.Errorf("decode response: %w", err))
	}
	if len(envelope.Errors) > 0 {
		first := envelope.Errors[0]
		kind := txn.FailureRejected
		switch first.Extensions.Code {
		case "UNAUTHENTICATED", "FORBIDDEN":
			kind = txn.FailureAuthentication
		}
		return c.fail(kind, errors.New(first.Message))
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return c.fail(txn.FailureProtocol, fmt.Errorf("decode data: %w", err))
		}
	}
	return nil
}

// postJSON posts a plain JSON body and decodes the response into out.
func (c caller) postJSON(ctx context.Context, url string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return c.fail(txn.FailureProtocol, fmt.Errorf("encode request: %w", err))
	}

	raw, err := c.post(ctx, url, body)
	if err != nil {
		return err
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return c.fail(txn.FailureProtocol, fmt.Errorf("decode response: %w", err))
		}
	}
	return nil
}

func (c caller) post(ctx context.Context, url string, body []byte) ([]byte, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, c.fail(txn.FailureProtocol, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, c.fail(classifyTransport(err), err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, c.fail(classifyTransport(err), fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode >= 400 {
		err := fmt.Errorf("request failed with status code %d", resp.StatusCode)
		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return nil, c.fail(txn.FailureAuthentication, err)
		case resp.StatusCode >= 500:
			return nil, c.fail(txn.FailureUnavailable, err)
		default:
			return nil, c.fail(txn.FailureProtocol, err)
		}
	}
	return buf.Bytes(), nil
}

// classifyTransport distinguishes timeouts and refused connections from
// other transport failures, purely for diagnostics and retry decisions.
func classifyTransport(err error) txn.FailureKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return txn.FailureTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return txn.FailureTimeout
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return txn.FailureConnectionRefused
	}
	return txn.FailureUnavailable
}
