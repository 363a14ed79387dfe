package simulator

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"mpesa-callback-service/internal/payload"
)

type Scenario string

const (
	ScenarioSuccess   Scenario = "success"
	ScenarioCancelled Scenario = "cancelled"
	ScenarioFailed    Scenario = "failed"
	ScenarioRandom    Scenario = "random"
)

// ResultCodeInsufficientFunds is what the gateway sends when the payer's balance is too low.
const ResultCodeInsufficientFunds = 1

func SuccessCallback(checkoutRequestID string, amount float64, receipt string, phone int64, at time.Time) payload.Callback {
	code := 0
	return payload.Callback{Body: payload.Body{StkCallback: &payload.STKCallback{
		MerchantRequestID: merchantRequestID(),
		CheckoutRequestID: &checkoutRequestID,
		ResultCode:        &code,
		ResultDesc:        "The service request is processed successfully.",
		CallbackMetadata: &payload.CallbackMetadata{Item: []payload.Item{
			payload.NewItem(payload.ItemAmount, amount),
			payload.NewItem(payload.ItemReceiptNumber, receipt),
			{Name: payload.ItemBalance},
			payload.NewItem(payload.ItemTransactionDate, at.Format("20060102150405")),
			payload.NewItem(payload.ItemPhoneNumber, phone),
		}},
	}}}
}

func CancelledCallback(checkoutRequestID string) payload.Callback {
	code := 1031
	return payload.Callback{Body: payload.Body{StkCallback: &payload.STKCallback{
		MerchantRequestID: merchantRequestID(),
		CheckoutRequestID: &checkoutRequestID,
		ResultCode:        &code,
		ResultDesc:        "Request cancelled by user",
	}}}
}

func FailedCallback(checkoutRequestID string, code int) payload.Callback {
	return payload.Callback{Body: payload.Body{StkCallback: &payload.STKCallback{
		MerchantRequestID: merchantRequestID(),
		CheckoutRequestID: &checkoutRequestID,
		ResultCode:        &code,
		ResultDesc:        "The balance is insufficient for the transaction",
	}}}
}

// Build returns a callback for the scenario with a fresh checkout request id.
// ScenarioRandom picks success half of the time and splits the rest evenly.
func Build(scenario Scenario, phone int64) (payload.Callback, error) {
	if scenario == ScenarioRandom {
		switch r := rand.Float64(); {
		case r < 0.5:
			scenario = ScenarioSuccess
		case r < 0.75:
			scenario = ScenarioCancelled
		default:
			scenario = ScenarioFailed
		}
	}

	checkoutRequestID := "ws_CO_" + uuid.New().String()

	switch scenario {
	case ScenarioSuccess:
		amount := float64(1 + rand.IntN(5000))
		return SuccessCallback(checkoutRequestID, amount, receiptNumber(), phone, time.Now()), nil
	case ScenarioCancelled:
		return CancelledCallback(checkoutRequestID), nil
	case ScenarioFailed:
		return FailedCallback(checkoutRequestID, ResultCodeInsufficientFunds), nil
	default:
		return payload.Callback{}, errors.Errorf("unknown scenario %q", scenario)
	}
}

func merchantRequestID() string {
	return fmt.Sprintf("%05d-%08d-1", rand.IntN(100000), rand.IntN(100000000))
}

const receiptAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func receiptNumber() string {
	b := make([]byte, 10)
	for i := range b {
		b[i] = receiptAlphabet[rand.IntN(len(receiptAlphabet))]
	}
	return string(b)
}
