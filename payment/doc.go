// Package payment talks to the Zarinpal-style payment gateway: it creates
// payment intents, derives the payer-facing redirect URL, and verifies
// settled authorities. Amounts are carried in the gateway's unit and are
// never adjusted by this package; a mismatch between request and
// verification amounts is a data-integrity failure, not something to
// retry around.
package payment
