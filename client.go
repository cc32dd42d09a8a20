package x402

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// DefaultSignTimeout bounds the external signing round-trip.
const DefaultSignTimeout = 30 * time.Second

// Client wraps an HTTP client with the x402 retry state machine: send the
// request, and on a 402 response obtain a signature from the configured
// signer and retry exactly once. It never loops beyond one retry, so a
// misconfigured or malicious server cannot drag the client into 402
// ping-pong.
type Client struct {
	httpClient  *http.Client
	signer      ChallengeSigner
	signTimeout time.Duration
	log         zerolog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = httpClient }
}

// WithSignTimeout bounds how long the signer may take per challenge.
func WithSignTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.signTimeout = timeout }
}

// WithClientLogger sets the client's logger. The default discards everything.
func WithClientLogger(log zerolog.Logger) ClientOption {
	return func(c *Client) { c.log = log }
}

// NewClient creates a client mediator around the given signing capability.
func NewClient(signer ChallengeSigner, opts ...ClientOption) *Client {
	c := &Client{
		httpClient:  http.DefaultClient,
		signer:      signer,
		signTimeout: DefaultSignTimeout,
		log:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do sends req and satisfies at most one payment challenge. Whatever the
// retried request returns, granted or rejected, is the terminal result.
// Requests with a body must be replayable (req.GetBody set); requests built
// with http.NewRequest from a bytes or strings reader are.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, NewPaymentError(ErrCodeNetwork, "request failed", err)
	}
	if resp.StatusCode != http.StatusPaymentRequired {
		return resp, nil
	}

	challenge, err := ReadChallenge(resp)
	if err != nil {
		return nil, NewPaymentError(ErrCodeProtocol, "unparseable payment challenge", err)
	}
	c.log.Debug().
		Str("price", challenge.Price).
		Str("currency", challenge.Currency).
		Str("nonce", challenge.Nonce).
		Msg("received payment challenge")

	signCtx, cancel := context.WithTimeout(req.Context(), c.signTimeout)
	defer cancel()
	signature, err := c.signer.SignChallenge(signCtx, challenge)
	if err != nil {
		return nil, NewPaymentError(ErrCodeSigningFailed, "payment signer failed", err)
	}

	retry, err := cloneRequest(req)
	if err != nil {
		return nil, NewPaymentError(ErrCodeProtocol, "cannot replay request body for paid retry", err)
	}
	header, err := EncodeProof(&Proof{Challenge: *challenge, Signature: *signature})
	if err != nil {
		return nil, err
	}
	retry.Header.Set(HeaderPayment, header)

	resp, err = c.httpClient.Do(retry)
	if err != nil {
		return nil, NewPaymentError(ErrCodeNetwork, "paid retry failed", err)
	}
	return resp, nil
}

// Get issues a GET request with payment handling.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// Post issues a POST request with payment handling. The body must come from
// a replayable source such as bytes.Reader or strings.Reader.
func (c *Client) Post(ctx context.Context, url, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	return c.Do(req)
}

func cloneRequest(req *http.Request) (*http.Request, error) {
	clone := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return clone, nil
	}
	if req.GetBody == nil {
		return nil, fmt.Errorf("request body is not replayable")
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	clone.Body = body
	return clone, nil
}
