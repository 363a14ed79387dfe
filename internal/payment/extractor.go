package payment

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"mpesa-callback-service/internal/payload"
)

var ErrMalformedCallback = errors.New("malformed callback")

// Result is the flattened form of an STK callback.
type Result struct {
	CheckoutRequestID string
	MerchantRequestID string
	ResultCode        int
	ResultDesc        string

	// Set only by success callbacks.
	Amount          *float64
	ReceiptNumber   *string
	PhoneNumber     *string
	TransactionDate *string

	// MetadataMalformed is set when CallbackMetadata, or one of its items, could
	// not be decoded. Whatever items did decode are still extracted.
	MetadataMalformed bool
}

// stkEnvelope decodes only the required fields strictly. Everything else is
// kept raw so a bad optional field cannot reject the callback.
type stkEnvelope struct {
	MerchantRequestID json.RawMessage `json:"MerchantRequestID"`
	CheckoutRequestID *string         `json:"CheckoutRequestID"`
	ResultCode        *int            `json:"ResultCode"`
	ResultDesc        json.RawMessage `json:"ResultDesc"`
	CallbackMetadata  json.RawMessage `json:"CallbackMetadata"`
}

type envelope struct {
	Body struct {
		StkCallback *stkEnvelope `json:"stkCallback"`
	} `json:"Body"`
}

// HasMetadata reports whether any of amount, receipt or phone was extracted.
func (r Result) HasMetadata() bool {
	return r.Amount != nil || r.ReceiptNumber != nil || r.PhoneNumber != nil
}

// MetadataComplete reports whether amount, receipt and phone are all present or
// all absent, and the metadata block decoded cleanly.
func (r Result) MetadataComplete() bool {
	if r.MetadataMalformed {
		return false
	}
	all := r.Amount != nil && r.ReceiptNumber != nil && r.PhoneNumber != nil
	return all || !r.HasMetadata()
}

// PartialMetadata lists the names of the expected items that were missing from a
// partially filled or malformed metadata block. It is empty when MetadataComplete is true.
func (r Result) PartialMetadata() []string {
	if r.MetadataComplete() {
		return nil
	}

	var missing []string
	if r.Amount == nil {
		missing = append(missing, payload.ItemAmount)
	}
	if r.ReceiptNumber == nil {
		missing = append(missing, payload.ItemReceiptNumber)
	}
	if r.PhoneNumber == nil {
		missing = append(missing, payload.ItemPhoneNumber)
	}
	return missing
}

// Extract parses a raw callback body. ResultCode and CheckoutRequestID are
// required; metadata items are matched by name, so their order does not matter.
// A metadata block that does not decode never fails the callback.
func Extract(body []byte) (Result, error) {
	var cb envelope
	if err := json.Unmarshal(body, &cb); err != nil {
		return Result{}, errors.Wrap(ErrMalformedCallback, err.Error())
	}

	stk := cb.Body.StkCallback
	if stk == nil {
		return Result{}, errors.Wrap(ErrMalformedCallback, "missing Body.stkCallback")
	}
	if stk.ResultCode == nil {
		return Result{}, errors.Wrap(ErrMalformedCallback, "missing ResultCode")
	}
	if stk.CheckoutRequestID == nil || *stk.CheckoutRequestID == "" {
		return Result{}, errors.Wrap(ErrMalformedCallback, "missing CheckoutRequestID")
	}

	result := Result{
		CheckoutRequestID: *stk.CheckoutRequestID,
		MerchantRequestID: deref(stringValue(stk.MerchantRequestID)),
		ResultCode:        *stk.ResultCode,
		ResultDesc:        deref(stringValue(stk.ResultDesc)),
	}

	items, ok := decodeItems(stk.CallbackMetadata)
	result.MetadataMalformed = !ok

	if raw, ok := lookup(items, payload.ItemAmount); ok {
		result.Amount = floatValue(raw)
	}
	if raw, ok := lookup(items, payload.ItemReceiptNumber); ok {
		result.ReceiptNumber = stringValue(raw)
	}
	if raw, ok := lookup(items, payload.ItemPhoneNumber); ok {
		result.PhoneNumber = stringValue(raw)
	}
	if raw, ok := lookup(items, payload.ItemTransactionDate); ok {
		result.TransactionDate = stringValue(raw)
	}

	return result, nil
}

// decodeItems reads CallbackMetadata.Item one element at a time. ok is false
// when the block, the Item list or any single item has the wrong shape; the
// items that did decode are returned either way.
func decodeItems(raw json.RawMessage) ([]payload.Item, bool) {
	if isNull(raw) {
		return nil, true
	}

	var meta struct {
		Item json.RawMessage `json:"Item"`
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, false
	}
	if isNull(meta.Item) {
		return nil, true
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(meta.Item, &elems); err != nil {
		return nil, false
	}

	ok := true
	items := make([]payload.Item, 0, len(elems))
	for _, elem := range elems {
		var item struct {
			Name  json.RawMessage `json:"Name"`
			Value json.RawMessage `json:"Value"`
		}
		if err := json.Unmarshal(elem, &item); err != nil {
			ok = false
			continue
		}
		var name string
		if err := json.Unmarshal(item.Name, &name); err != nil {
			ok = false
			continue
		}
		items = append(items, payload.Item{Name: name, Value: item.Value})
	}
	return items, ok
}

func isNull(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// lookup returns the value of the first item called name.
func lookup(items []payload.Item, name string) (json.RawMessage, bool) {
	for _, item := range items {
		if item.Name == name {
			return item.Value, true
		}
	}
	return nil, false
}

// stringValue accepts a JSON string or number. Integral numbers are written
// as plain digits, so 254712345678 and 2.54712345678e11 both give "254712345678".
func stringValue(raw json.RawMessage) *string {
	if isNull(raw) {
		return nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return &s
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		s = numberText(n)
		return &s
	}

	return nil
}

func floatValue(raw json.RawMessage) *float64 {
	s := stringValue(raw)
	if s == nil {
		return nil
	}

	f, err := strconv.ParseFloat(*s, 64)
	if err != nil {
		return nil
	}
	return &f
}

func numberText(n json.Number) string {
	if i, err := n.Int64(); err == nil {
		return strconv.FormatInt(i, 10)
	}
	d, err := decimal.NewFromString(n.String())
	if err == nil && d.IsInteger() {
		return d.String()
	}
	return n.String()
}
