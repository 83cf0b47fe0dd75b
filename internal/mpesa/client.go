package mpesa

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"mpesa-billing/internal/config"
	"mpesa-billing/internal/metrics"
)

const (
	tokenEndpoint  = "/oauth/v1/generate?grant_type=client_credentials"
	pushEndpoint   = "/mpesa/stkpush/v1/processrequest"
	queryEndpoint  = "/mpesa/stkpushquery/v1/query"
	defaultTimeout = 30 * time.Second

	// Tokens are dropped from the cache this long before Daraja expires them.
	tokenExpiryMargin = time.Minute
)

// Daraja timestamps are Nairobi wall-clock time. Kenya has no DST.
var eat = time.FixedZone("EAT", 3*60*60)

type Notifier interface {
	Notify(ctx context.Context, text string)
}

// TokenCache lets access tokens outlive a single operation.
type TokenCache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, token string, ttl time.Duration)
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, string) {}

type Client struct {
	cfg        config.Mpesa
	baseURL    string
	HTTPClient *http.Client
	logger     *zap.Logger
	notifier   Notifier
	tokens     TokenCache
	now        func() time.Time
}

type Option func(*Client)

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func WithNotifier(n Notifier) Option {
	return func(c *Client) { c.notifier = n }
}

func WithTokenCache(cache TokenCache) Option {
	return func(c *Client) { c.tokens = cache }
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

func NewClient(cfg config.Mpesa, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, NewError(KindConfig, err.Error(), err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.Sandbox {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // sandbox only
	}

	c := &Client{
		cfg:     cfg,
		baseURL: cfg.APIBaseURL(),
		HTTPClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		logger:   zap.NewNop(),
		notifier: nopNotifier{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("component", "MpesaClient"))

	return c, nil
}

// Config returns the settings the client was built with.
func (c *Client) Config() config.Mpesa {
	return c.cfg
}

// AccessToken fetches an OAuth token, or reuses a cached one when a cache is set.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		c.fail(ctx, "Access token generation failed", err)
		return "", err
	}
	return token, nil
}

func (c *Client) SendStkPush(ctx context.Context, req StkPushRequest) (*StkPushResult, error) {
	result, err := c.sendStkPush(ctx, req)
	if err != nil {
		c.fail(ctx, "STK Push failed", err,
			zap.Int64("amount", req.Amount),
			zap.String("phone", req.PhoneNumber),
			zap.String("reference", req.TransactionID),
			zap.String("callback_url", req.CallbackURL),
		)
		return nil, err
	}
	return result, nil
}

// CheckTransactionStatus returns the query response as-is; callers inspect ResultCode.
func (c *Client) CheckTransactionStatus(ctx context.Context, checkoutRequestID string) (*StatusResult, error) {
	ts := c.timestamp()
	payload := statusQueryPayload{
		BusinessShortCode: c.cfg.BusinessShortcode,
		Password:          c.password(ts),
		Timestamp:         ts,
		CheckoutRequestID: checkoutRequestID,
	}

	token, err := c.accessToken(ctx)
	if err == nil {
		var body []byte
		body, err = c.doRequest(ctx, "stk_query", http.MethodPost, queryEndpoint, payload, "Bearer "+token)
		if err == nil {
			var result StatusResult
			result.Raw = decodeBody(body, &result)
			c.logger.Debug("Transaction status check",
				zap.String("checkout_request_id", checkoutRequestID),
				zap.String("result_code", string(result.ResultCode)),
				zap.ByteString("response", result.Raw),
			)
			return &result, nil
		}
	}

	c.fail(ctx, "Status check failed", err, zap.String("checkout_request_id", checkoutRequestID))
	return nil, err
}

func (c *Client) sendStkPush(ctx context.Context, req StkPushRequest) (*StkPushResult, error) {
	ts := c.timestamp()

	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	payload := stkPushPayload{
		BusinessShortCode: c.cfg.BusinessShortcode,
		Password:          c.password(ts),
		Timestamp:         ts,
		TransactionType:   TransactionTypeBuyGoods,
		Amount:            req.Amount,
		PartyA:            req.PhoneNumber,
		PartyB:            c.cfg.PartyB(),
		PhoneNumber:       req.PhoneNumber,
		CallBackURL:       req.CallbackURL,
		AccountReference:  req.TransactionID,
		TransactionDesc:   req.Description,
	}

	body, err := c.doRequest(ctx, "stk_push", http.MethodPost, pushEndpoint, payload, "Bearer "+token)
	if err != nil {
		return nil, err
	}

	var result StkPushResult
	result.Raw = decodeBody(body, &result)

	c.logger.Debug("STK Push request",
		zap.Int64("amount", req.Amount),
		zap.String("phone", req.PhoneNumber),
		zap.String("reference", req.TransactionID),
		zap.ByteString("response", result.Raw),
	)

	if result.ErrorCode != "" || result.ErrorMessage != "" {
		msg := result.ErrorMessage
		if msg == "" {
			msg = "STK Push failed with error code: " + result.ErrorCode
		}
		return nil, NewError(KindGateway, msg, nil)
	}

	return &result, nil
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	key := c.tokenCacheKey()
	if c.tokens != nil {
		if token, ok := c.tokens.Get(ctx, key); ok {
			return token, nil
		}
	}

	credentials := base64.StdEncoding.EncodeToString([]byte(c.cfg.ConsumerKey + ":" + c.cfg.ConsumerSecret))
	body, err := c.doRequest(ctx, "token", http.MethodGet, tokenEndpoint, nil, "Basic "+credentials)
	if err != nil {
		return "", err
	}

	var resp tokenResponse
	decodeBody(body, &resp)
	c.logger.Debug("Access token request", zap.Bool("token_present", resp.AccessToken != ""))

	if resp.AccessToken == "" {
		return "", NewError(KindAuth, string(body), nil)
	}

	if c.tokens != nil {
		if secs, err := resp.ExpiresIn.Int64(); err == nil {
			if ttl := time.Duration(secs)*time.Second - tokenExpiryMargin; ttl > 0 {
				c.tokens.Set(ctx, key, resp.AccessToken, ttl)
			}
		}
	}

	return resp.AccessToken, nil
}

func (c *Client) doRequest(ctx context.Context, name, method, endpoint string, payload any, authorization string) ([]byte, error) {
	var bodyReader io.Reader
	if payload != nil {
		jsonBody, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", authorization)

	start := time.Now()
	defer func() {
		metrics.GatewayLatency.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}()

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		metrics.GatewayRequests.WithLabelValues(name, "transport_error").Inc()
		return nil, NewError(KindTransport, err.Error(), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.GatewayRequests.WithLabelValues(name, "transport_error").Inc()
		return nil, NewError(KindTransport, err.Error(), err)
	}

	c.logger.Debug("API request",
		zap.String("method", method),
		zap.String("endpoint", endpoint),
		zap.Int("http_code", resp.StatusCode),
		zap.ByteString("response", respBody),
	)

	if resp.StatusCode >= 400 {
		metrics.GatewayRequests.WithLabelValues(name, "http_error").Inc()
		var apiErr struct {
			ErrorMessage string `json:"errorMessage"`
		}
		msg := string(respBody)
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.ErrorMessage != "" {
			msg = apiErr.ErrorMessage
		}
		return nil, newHTTPError(resp.StatusCode, msg)
	}

	metrics.GatewayRequests.WithLabelValues(name, "ok").Inc()
	return respBody, nil
}

// fail logs an operation error and forwards it to the notification sink.
func (c *Client) fail(ctx context.Context, msg string, err error, fields ...zap.Field) {
	c.logger.Error(msg, append(fields, zap.Error(err))...)
	c.notifier.Notify(ctx, fmt.Sprintf("[MpesaService Error] %s: %s", msg, err.Error()))
}

func (c *Client) timestamp() string {
	return c.now().In(eat).Format("20060102150405")
}

func (c *Client) password(timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(c.cfg.BusinessShortcode + c.cfg.Passkey + timestamp))
}

func (c *Client) tokenCacheKey() string {
	sum := sha256.Sum256([]byte(c.baseURL + "|" + c.cfg.ConsumerKey))
	return "mpesa:token:" + hex.EncodeToString(sum[:8])
}
