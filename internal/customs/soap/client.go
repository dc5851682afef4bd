package soap

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/beevik/etree"

	"github.com/hidrovia/customs/internal/customs/cert"
)

// soap12ContentType is the content type of a SOAP 1.2 request; the action is
// carried as a parameter rather than a separate header.
const soap12ContentType = "application/soap+xml; charset=utf-8"

// TransportError is a network-level failure (DNS, TLS, connection, timeout).
// Always retryable.
type TransportError struct {
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure against %s: %v", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Fault is a SOAP-level fault returned by the authority. Modeled as a result,
// not an error, so the caller decides retryability from the code.
type Fault struct {
	Code    string
	Message string
}

// Transient fault code fragments the authorities use for recoverable conditions.
var transientFaultMarkers = []string{"timeout", "busy", "unavailable", "receiver"}

// Retryable reports whether the fault belongs to a known transient class.
func (f *Fault) Retryable() bool {
	code := strings.ToLower(f.Code)
	for _, marker := range transientFaultMarkers {
		if strings.Contains(code, marker) {
			return true
		}
	}
	return false
}

// Result captures one send attempt: the exact bytes exchanged, the timing,
// and either the parsed operation result or the fault.
type Result struct {
	Success        bool
	RawRequestXML  string
	RawResponseXML string
	LatencyMs      int64
	HTTPStatus     int
	Body           *etree.Element // first child of the response Body on success
	Fault          *Fault
}

// Options configures a client.
type Options struct {
	Timeout            time.Duration
	InsecureSkipVerify bool
	// ClientCredential enables mutual TLS when the authority requires
	// channel-level authentication in addition to payload signing.
	ClientCredential *cert.Credential
}

// Client performs SOAP 1.2 calls against one endpoint.
type Client struct {
	endpoint string
	http     *http.Client
}

// NewClient creates a client bound to the endpoint with explicit timeout and
// TLS policy.
func NewClient(endpoint string, opts Options) (*Client, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid endpoint URL %q", endpoint)
	}

	tlsConfig := &tls.Config{InsecureSkipVerify: opts.InsecureSkipVerify}
	if opts.ClientCredential != nil {
		key, certDER, err := opts.ClientCredential.GetKeyPair()
		if err != nil {
			return nil, fmt.Errorf("client credential is unusable for mutual TLS: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{{
			Certificate: [][]byte{certDER},
			PrivateKey:  key,
		}}
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &Client{
		endpoint: endpoint,
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				TLSClientConfig: tlsConfig,
			},
		},
	}, nil
}

// Endpoint returns the URL the client is bound to.
func (c *Client) Endpoint() string { return c.endpoint }

// Send performs one synchronous SOAP call. The raw request and response bytes
// are captured regardless of outcome. A SOAP fault yields a failed Result,
// not an error; errors are reserved for transport and parsing failures.
func (c *Client) Send(ctx context.Context, action string, payload []byte) (*Result, error) {
	result := &Result{RawRequestXML: string(payload)}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return result, &TransportError{Endpoint: c.endpoint, Err: err}
	}
	req.Header.Set("Content-Type", fmt.Sprintf("%s; action=%q", soap12ContentType, action))

	start := time.Now()
	resp, err := c.http.Do(req)
	result.LatencyMs = time.Since(start).Milliseconds()
	if err != nil {
		return result, &TransportError{Endpoint: c.endpoint, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return result, &TransportError{Endpoint: c.endpoint, Err: err}
	}
	result.RawResponseXML = string(raw)
	result.HTTPStatus = resp.StatusCode

	return c.interpret(result, raw)
}

// ResponseParsingError indicates the authority's response did not match the
// expected envelope structure; possibly an undocumented schema change.
type ResponseParsingError struct {
	Reason string
}

func (e *ResponseParsingError) Error() string {
	return fmt.Sprintf("cannot parse authority response: %s", e.Reason)
}

func (c *Client) interpret(result *Result, raw []byte) (*Result, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(raw); err != nil {
		return result, &ResponseParsingError{Reason: err.Error()}
	}
	root := doc.Root()
	if root == nil || root.Tag != "Envelope" {
		return result, &ResponseParsingError{Reason: "response has no SOAP envelope"}
	}
	body := root.SelectElement("Body")
	if body == nil {
		return result, &ResponseParsingError{Reason: "response envelope has no Body"}
	}

	if fault := body.SelectElement("Fault"); fault != nil {
		result.Fault = parseFault(fault)
		return result, nil
	}

	children := body.ChildElements()
	if len(children) == 0 {
		return result, &ResponseParsingError{Reason: "response Body is empty"}
	}
	result.Body = children[0]
	result.Success = true
	return result, nil
}

// parseFault reads both SOAP 1.2 (Code/Value, Reason/Text) and legacy 1.1
// (faultcode, faultstring) fault shapes.
func parseFault(fault *etree.Element) *Fault {
	f := &Fault{}
	if code := fault.SelectElement("Code"); code != nil {
		if value := code.SelectElement("Value"); value != nil {
			f.Code = strings.TrimSpace(value.Text())
		}
		if sub := code.SelectElement("Subcode"); sub != nil {
			if value := sub.SelectElement("Value"); value != nil && value.Text() != "" {
				f.Code = strings.TrimSpace(value.Text())
			}
		}
	} else if code := fault.SelectElement("faultcode"); code != nil {
		f.Code = strings.TrimSpace(code.Text())
	}
	if reason := fault.SelectElement("Reason"); reason != nil {
		if text := reason.SelectElement("Text"); text != nil {
			f.Message = strings.TrimSpace(text.Text())
		}
	} else if text := fault.SelectElement("faultstring"); text != nil {
		f.Message = strings.TrimSpace(text.Text())
	}
	return f
}
