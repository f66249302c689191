package payment

// Gateway result codes. 100 is a fresh successful verification; 101 means
// the authority was already verified, which makes re-verification
// idempotent.
const (
	CodeSuccess         = 100
	CodeAlreadyVerified = 101
)

// Gateway environments
const (
	EnvSandbox    = "sandbox"
	EnvProduction = "production"
)

// Metadata carries optional payer contact details attached to an intent
type Metadata struct {
	Mobile string `json:"mobile,omitempty"`
	Email  string `json:"email,omitempty"`
}

// Intent describes one payment to be created at the gateway. Intents are
// built per call and discarded once the call resolves.
type Intent struct {
	// Amount in the gateway's unit; must be positive
	Amount int64
	// Currency defaults to IRT
	Currency string
	// Description shown to the payer on the gateway page
	Description string
	// MerchantReference is the storefront's order reference, carried in
	// the gateway metadata for reconciliation
	MerchantReference string
	// CallbackURL is where the gateway sends the payer back; must be an
	// absolute http(s) URL with a real host
	CallbackURL string
	Metadata    Metadata
}

// Verification identifies a settled payment to confirm. Amount MUST equal
// the amount used when the authority was requested; the gateway rejects
// mismatches and this package surfaces that rejection unchanged.
type Verification struct {
	Authority string
	Amount    int64
	Currency  string
}

// RequestResult is the outcome of a successful payment request
type RequestResult struct {
	// Authority is the gateway's token for this payment
	Authority string
	// RedirectURL is the payer-facing start-pay address
	RedirectURL string
	// Code is the gateway result code
	Code int
}

// VerifyResult is the outcome of a verification round trip. Paid is true
// only for codes 100 and 101; any other code is a definitive decline and
// is reported here rather than as an error.
type VerifyResult struct {
	Code     int
	Paid     bool
	RefID    int64
	CardMask string
}
