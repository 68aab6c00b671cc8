package types

import "errors"

// Error taxonomy for the opportunity pipeline. QuoteUnavailable,
// InsufficientProfit and RiskAborted are expected, silent outcomes: the
// opportunity is discarded and the cycle moves on. Submission errors are
// retried with tip escalation before surfacing in an ExecutionResult.
var (
	ErrQuoteUnavailable    = errors.New("quote unavailable")
	ErrQuoteStale          = errors.New("quote expired before use")
	ErrInsufficientProfit  = errors.New("profit below fee multiple")
	ErrRiskAborted         = errors.New("aborted by risk assessment")
	ErrSubmissionTimeout   = errors.New("bundle submission timed out")
	ErrSubmissionRejected  = errors.New("bundle rejected by relay")
	ErrConfirmationTimeout = errors.New("confirmation timed out")
	ErrLedgerRPC           = errors.New("ledger rpc failure")
	ErrExecutionInFlight   = errors.New("execution already in flight for opportunity")
)
