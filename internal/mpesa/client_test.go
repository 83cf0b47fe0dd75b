package mpesa

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mpesa-billing/internal/config"
)

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (n *recordingNotifier) Notify(_ context.Context, text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, text)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.msgs)
}

type memoryTokenCache struct {
	mu     sync.Mutex
	tokens map[string]string
	ttl    time.Duration
}

func (m *memoryTokenCache) Get(_ context.Context, key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	token, ok := m.tokens[key]
	return token, ok
}

func (m *memoryTokenCache) Set(_ context.Context, key, token string, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[key] = token
	m.ttl = ttl
}

// fakeDaraja serves the three Daraja endpoints with overridable handlers.
type fakeDaraja struct {
	tokenCalls atomic.Int32
	token      http.HandlerFunc
	push       http.HandlerFunc
	query      http.HandlerFunc
}

func newFakeDaraja(t *testing.T) (*fakeDaraja, *httptest.Server) {
	t.Helper()
	f := &fakeDaraja{
		token: func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"access_token":"tok-123","expires_in":"3599"}`))
		},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v1/generate", func(w http.ResponseWriter, r *http.Request) {
		f.tokenCalls.Add(1)
		f.token(w, r)
	})
	mux.HandleFunc("/mpesa/stkpush/v1/processrequest", func(w http.ResponseWriter, r *http.Request) { f.push(w, r) })
	mux.HandleFunc("/mpesa/stkpushquery/v1/query", func(w http.ResponseWriter, r *http.Request) { f.query(w, r) })
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func testConfig(baseURL string) config.Mpesa {
	return config.Mpesa{
		BaseURL:           baseURL,
		ConsumerKey:       "key",
		ConsumerSecret:    "secret",
		BusinessShortcode: "174379",
		Passkey:           "passkey",
		TillNumber:        "4240540",
		CallbackURL:       "https://billing.example/callback/mpesa",
	}
}

var fixedNow = time.Date(2026, 3, 1, 9, 30, 15, 0, time.UTC)

func newTestClient(t *testing.T, baseURL string, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	c, err := NewClient(testConfig(baseURL), opts...)
	require.NoError(t, err)
	return c
}

func TestSendStkPush(t *testing.T) {
	f, srv := newFakeDaraja(t)

	var gotAuth string
	var payload stkPushPayload
	f.token = func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "client_credentials", r.URL.Query().Get("grant_type"))
		_, _ = w.Write([]byte(`{"access_token":"tok-123","expires_in":"3599"}`))
	}
	f.push = func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		_, _ = w.Write([]byte(`{"MerchantRequestID":"29115-34620561-1","CheckoutRequestID":"ws_CO_191220191020363925","ResponseCode":"0","ResponseDescription":"Success. Request accepted for processing","CustomerMessage":"Success. Request accepted for processing"}`))
	}

	c := newTestClient(t, srv.URL)
	res, err := c.SendStkPush(context.Background(), StkPushRequest{
		Amount:        50,
		PhoneNumber:   "254712345678",
		TransactionID: "42",
		CallbackURL:   "https://billing.example/callback/mpesa",
		Description:   "Payment",
	})
	require.NoError(t, err)

	assert.Equal(t, "Basic "+base64.StdEncoding.EncodeToString([]byte("key:secret")), gotAuth)
	assert.Equal(t, "ws_CO_191220191020363925", res.CheckoutRequestID)
	assert.JSONEq(t, string(res.Raw), `{"MerchantRequestID":"29115-34620561-1","CheckoutRequestID":"ws_CO_191220191020363925","ResponseCode":"0","ResponseDescription":"Success. Request accepted for processing","CustomerMessage":"Success. Request accepted for processing"}`)

	// 09:30:15 UTC is 12:30:15 in Nairobi.
	assert.Equal(t, "20260301123015", payload.Timestamp)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("174379passkey20260301123015")), payload.Password)
	assert.Equal(t, "174379", payload.BusinessShortCode)
	assert.Equal(t, TransactionTypeBuyGoods, payload.TransactionType)
	assert.Equal(t, int64(50), payload.Amount)
	assert.Equal(t, "254712345678", payload.PartyA)
	assert.Equal(t, "4240540", payload.PartyB)
	assert.Equal(t, "254712345678", payload.PhoneNumber)
	assert.Equal(t, "42", payload.AccountReference)
	assert.Equal(t, "Payment", payload.TransactionDesc)
}

func TestSendStkPushGatewayErrorBody(t *testing.T) {
	f, srv := newFakeDaraja(t)
	f.push = func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"requestId":"11728-2929992-1","errorCode":"400.002.02","errorMessage":"Bad Request - Invalid PhoneNumber"}`))
	}
	notifier := &recordingNotifier{}

	c := newTestClient(t, srv.URL, WithNotifier(notifier))
	_, err := c.SendStkPush(context.Background(), StkPushRequest{Amount: 10, PhoneNumber: "254700000000", TransactionID: "1"})
	require.Error(t, err)

	assert.Equal(t, KindGateway, KindOf(err))
	assert.Equal(t, ReasonInvalidPhone, ReasonOf(err))
	assert.Equal(t, "Bad Request - Invalid PhoneNumber", err.Error())
	assert.Equal(t, 1, notifier.count())
}

func TestSendStkPushErrorCodeWithoutMessage(t *testing.T) {
	f, srv := newFakeDaraja(t)
	f.push = func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"errorCode":"500.001.1001"}`))
	}

	_, err := newTestClient(t, srv.URL).SendStkPush(context.Background(), StkPushRequest{Amount: 10})
	require.Error(t, err)
	assert.Equal(t, "STK Push failed with error code: 500.001.1001", err.Error())
	assert.Equal(t, ReasonUnknown, ReasonOf(err))
}

func TestHTTPErrorCarriesProviderMessage(t *testing.T) {
	f, srv := newFakeDaraja(t)
	f.push = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"errorCode":"500.001.1001","errorMessage":"Insufficient Balance"}`))
	}
	f.query = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`upstream down`))
	}

	c := newTestClient(t, srv.URL)

	_, err := c.SendStkPush(context.Background(), StkPushRequest{Amount: 10})
	require.Error(t, err)
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, KindHTTP, apiErr.Kind)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, ReasonInsufficientBalance, apiErr.Reason)
	assert.Equal(t, "API Error (HTTP 400): Insufficient Balance", err.Error())

	_, err = c.CheckTransactionStatus(context.Background(), "ws_CO_1")
	require.Error(t, err)
	assert.Equal(t, "API Error (HTTP 502): upstream down", err.Error())
}

func TestStillProcessingIsClassified(t *testing.T) {
	f, srv := newFakeDaraja(t)
	f.query = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"requestId":"1","errorCode":"500.001.1001","errorMessage":"The transaction is being processed"}`))
	}

	_, err := newTestClient(t, srv.URL).CheckTransactionStatus(context.Background(), "ws_CO_1")
	assert.Equal(t, ReasonProcessing, ReasonOf(err))
}

func TestMissingAccessToken(t *testing.T) {
	f, srv := newFakeDaraja(t)
	f.token = func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"resultCode":"1","resultDesc":"bad credentials"}`))
	}
	notifier := &recordingNotifier{}

	c := newTestClient(t, srv.URL, WithNotifier(notifier))
	_, err := c.AccessToken(context.Background())
	require.Error(t, err)
	assert.Equal(t, KindAuth, KindOf(err))
	assert.Equal(t, ReasonInvalidToken, ReasonOf(err))
	assert.Contains(t, err.Error(), "Failed to get access token")

	_, err = c.SendStkPush(context.Background(), StkPushRequest{Amount: 10})
	assert.Equal(t, KindAuth, KindOf(err))
	assert.Equal(t, 2, notifier.count())
}

func TestTransportError(t *testing.T) {
	_, srv := newFakeDaraja(t)
	srv.Close()

	_, err := newTestClient(t, srv.URL).CheckTransactionStatus(context.Background(), "ws_CO_1")
	require.Error(t, err)
	assert.Equal(t, KindTransport, KindOf(err))
	assert.Equal(t, ReasonNetwork, ReasonOf(err))
}

func TestCheckTransactionStatus(t *testing.T) {
	f, srv := newFakeDaraja(t)
	var payload statusQueryPayload
	f.query = func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		_, _ = w.Write([]byte(`{"ResponseCode":"0","ResponseDescription":"The service request has been accepted successsfully","MerchantRequestID":"22205-34066-1","CheckoutRequestID":"ws_CO_13012021093521236557","ResultCode":"1032","ResultDesc":"Request cancelled by user"}`))
	}

	res, err := newTestClient(t, srv.URL).CheckTransactionStatus(context.Background(), "ws_CO_13012021093521236557")
	require.NoError(t, err)

	assert.Equal(t, "ws_CO_13012021093521236557", payload.CheckoutRequestID)
	assert.Equal(t, "174379", payload.BusinessShortCode)
	assert.True(t, res.HasResultCode())
	assert.Equal(t, ResultCode("1032"), res.ResultCode)
	assert.Equal(t, "Request cancelled by user", res.ResultDesc)
}

func TestCheckTransactionStatusNonJSONBody(t *testing.T) {
	f, srv := newFakeDaraja(t)
	f.query = func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>maintenance</html>`))
	}

	res, err := newTestClient(t, srv.URL).CheckTransactionStatus(context.Background(), "ws_CO_1")
	require.NoError(t, err)
	assert.False(t, res.HasResultCode())
	assert.JSONEq(t, `{}`, string(res.Raw))
}

func TestTokenFetchedPerOperationWithoutCache(t *testing.T) {
	f, srv := newFakeDaraja(t)
	f.query = func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ResultCode":"0","ResultDesc":"ok"}`))
	}

	c := newTestClient(t, srv.URL)
	for i := 0; i < 3; i++ {
		_, err := c.CheckTransactionStatus(context.Background(), "ws_CO_1")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(3), f.tokenCalls.Load())
}

func TestTokenCacheReusesToken(t *testing.T) {
	f, srv := newFakeDaraja(t)
	f.query = func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"ResultCode":"0","ResultDesc":"ok"}`))
	}
	cache := &memoryTokenCache{tokens: map[string]string{}}

	c := newTestClient(t, srv.URL, WithTokenCache(cache))
	for i := 0; i < 3; i++ {
		_, err := c.CheckTransactionStatus(context.Background(), "ws_CO_1")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), f.tokenCalls.Load())
	assert.Equal(t, 3599*time.Second-time.Minute, cache.ttl)
}

func TestNewClientRequiresSettings(t *testing.T) {
	cfg := testConfig("https://example.invalid")
	cfg.Passkey = ""

	_, err := NewClient(cfg)
	require.Error(t, err)
	assert.Equal(t, KindConfig, KindOf(err))
	assert.Contains(t, err.Error(), "Missing: Passkey")
}

func TestTLSVerificationFollowsSandboxFlag(t *testing.T) {
	prod, err := NewClient(testConfig(""))
	require.NoError(t, err)
	prodTransport := prod.HTTPClient.Transport.(*http.Transport)
	if prodTransport.TLSClientConfig != nil {
		assert.False(t, prodTransport.TLSClientConfig.InsecureSkipVerify)
	}
	assert.Equal(t, 30*time.Second, prod.HTTPClient.Timeout)
	assert.Equal(t, config.ProductionBaseURL, prod.baseURL)

	cfg := testConfig("")
	cfg.Sandbox = true
	sandbox, err := NewClient(cfg)
	require.NoError(t, err)
	assert.True(t, sandbox.HTTPClient.Transport.(*http.Transport).TLSClientConfig.InsecureSkipVerify)
	assert.Equal(t, config.SandboxBaseURL, sandbox.baseURL)
}
