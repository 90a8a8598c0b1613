package observability

// Metric name prefixes
const (
	MetricPrefix = "tokenledger"
)

// Metric names
const (
	// Ledger metrics
	LedgerTransactionsTotal = MetricPrefix + ".ledger.transactions_total"
	LedgerTokensTotal       = MetricPrefix + ".ledger.tokens_total"
	LedgerUnitsTotal        = MetricPrefix + ".ledger.atomic_units_total"
	LedgerUnitDuration      = MetricPrefix + ".ledger.atomic_unit_duration"

	// NATS metrics
	NATSMessagesPublishedTotal = MetricPrefix + ".nats.messages_published_total"

	// Database metrics
	DatabaseQueriesTotal  = MetricPrefix + ".database.queries_total"
	DatabaseQueryDuration = MetricPrefix + ".database.query_duration"

	// HTTP metrics
	HTTPRequestsTotal = MetricPrefix + ".http.requests_total"

	// Worker metrics
	WorkerRunsTotal = MetricPrefix + ".worker.runs_total"
)

// Label keys
const (
	LabelKind      = "kind"
	LabelEventType = "event_type"
	LabelOutcome   = "outcome"

	// Database labels
	LabelRepository = "repository"
	LabelMethod     = "method"

	// HTTP labels
	LabelRoute  = "route"
	LabelStatus = "status"

	LabelWorker = "worker"
)

// Atomic unit outcomes
const (
	OutcomeApplied     = "applied"
	OutcomeRejected    = "rejected"
	OutcomeUnavailable = "unavailable"
	OutcomeViolation   = "invariant_violation"
)

// Worker run outcomes
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
)
