package mpesa

import (
	"encoding/json"
	"fmt"
)

const TransactionTypeBuyGoods = "CustomerBuyGoodsOnline"

// ResultCode accepts both the quoted form returned by the status query and
// the numeric form delivered in callbacks.
type ResultCode string

const ResultSuccess ResultCode = "0"

func (c *ResultCode) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*c = ""
		return nil
	}

	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*c = ResultCode(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("invalid ResultCode %s", b)
	}
	*c = ResultCode(n.String())
	return nil
}

type StkPushRequest struct {
	Amount        int64
	PhoneNumber   string
	TransactionID string
	CallbackURL   string
	Description   string
}

type stkPushPayload struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type statusQueryPayload struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

type tokenResponse struct {
	AccessToken string      `json:"access_token"`
	ExpiresIn   json.Number `json:"expires_in"`
}

type StkPushResult struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
	RequestID           string `json:"requestId"`
	ErrorCode           string `json:"errorCode"`
	ErrorMessage        string `json:"errorMessage"`

	Raw json.RawMessage `json:"-"`
}

type StatusResult struct {
	ResponseCode        string     `json:"ResponseCode"`
	ResponseDescription string     `json:"ResponseDescription"`
	MerchantRequestID   string     `json:"MerchantRequestID"`
	CheckoutRequestID   string     `json:"CheckoutRequestID"`
	ResultCode          ResultCode `json:"ResultCode"`
	ResultDesc          string     `json:"ResultDesc"`
	RequestID           string     `json:"requestId"`
	ErrorCode           string     `json:"errorCode"`
	ErrorMessage        string     `json:"errorMessage"`

	Raw json.RawMessage `json:"-"`
}

func (r *StatusResult) HasResultCode() bool {
	return r.ResultCode != ""
}

// Callback structures

type CallbackEnvelope struct {
	Body CallbackBody `json:"Body"`
}

type CallbackBody struct {
	StkCallback StkCallback `json:"stkCallback"`
}

type StkCallback struct {
	MerchantRequestID string            `json:"MerchantRequestID"`
	CheckoutRequestID string            `json:"CheckoutRequestID"`
	ResultCode        ResultCode        `json:"ResultCode"`
	ResultDesc        string            `json:"ResultDesc"`
	CallbackMetadata  *CallbackMetadata `json:"CallbackMetadata,omitempty"`
}

type CallbackMetadata struct {
	Item []CallbackItem `json:"Item"`
}

type CallbackItem struct {
	Name  string `json:"Name"`
	Value any    `json:"Value,omitempty"`
}

// Value returns the metadata item with the given name, e.g. "MpesaReceiptNumber".
func (m *CallbackMetadata) Value(name string) (any, bool) {
	if m == nil {
		return nil, false
	}
	for _, item := range m.Item {
		if item.Name == name {
			return item.Value, true
		}
	}
	return nil, false
}

// decodeBody mirrors Daraja's loose contract: a body that is not JSON is
// treated as an empty object.
func decodeBody(body []byte, v any) json.RawMessage {
	if len(body) == 0 || !json.Valid(body) {
		return json.RawMessage("{}")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return json.RawMessage("{}")
	}
	return json.RawMessage(body)
}
