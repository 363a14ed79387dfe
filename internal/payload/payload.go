// Package payload holds the wire shape of M-Pesa STK push callbacks.
package payload

import "encoding/json"

// Metadata item names sent by the gateway on successful payments.
const (
	ItemAmount          = "Amount"
	ItemReceiptNumber   = "MpesaReceiptNumber"
	ItemPhoneNumber     = "PhoneNumber"
	ItemTransactionDate = "TransactionDate"
	ItemBalance         = "Balance"
)

type Callback struct {
	Body Body `json:"Body"`
}

type Body struct {
	StkCallback *STKCallback `json:"stkCallback"`
}

type STKCallback struct {
	MerchantRequestID string            `json:"MerchantRequestID,omitempty"`
	CheckoutRequestID *string           `json:"CheckoutRequestID"`
	ResultCode        *int              `json:"ResultCode"`
	ResultDesc        string            `json:"ResultDesc,omitempty"`
	CallbackMetadata  *CallbackMetadata `json:"CallbackMetadata,omitempty"`
}

type CallbackMetadata struct {
	Item []Item `json:"Item"`
}

// Item values are kept raw: the gateway mixes numbers and strings.
type Item struct {
	Name  string          `json:"Name"`
	Value json.RawMessage `json:"Value,omitempty"`
}

// NewItem encodes value as the raw item value.
func NewItem(name string, value any) Item {
	raw, err := json.Marshal(value)
	if err != nil {
		return Item{Name: name}
	}
	return Item{Name: name, Value: raw}
}
