package payment

// Gateway result codes with a dedicated meaning.
const (
	ResultCodeSuccess   = 0
	ResultCodeCancelled = 1031
)

type Outcome int

const (
	OutcomeFailed Outcome = iota
	OutcomeSuccess
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "failed"
	}
}

// Classify maps a gateway result code to an outcome. Every code other than
// success and user cancellation is a failure.
func Classify(resultCode int) Outcome {
	switch resultCode {
	case ResultCodeSuccess:
		return OutcomeSuccess
	case ResultCodeCancelled:
		return OutcomeCancelled
	default:
		return OutcomeFailed
	}
}
