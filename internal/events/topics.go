package events

// Topic constants for settlement events emitted by the ledger.
const (
	TopicPaymentRecorded = "invoice.payment_recorded"
	TopicPaymentReversed = "invoice.payment_reversed"
	TopicInvoiceSettled  = "invoice.settled"
)

// DefaultTopics returns the canonical list of topics the worker consumes.
func DefaultTopics() []string {
	return []string{
		TopicPaymentRecorded,
		TopicPaymentReversed,
		TopicInvoiceSettled,
	}
}
