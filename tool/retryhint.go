package tool

// RetryReason categorizes a tool failure that carries structured retry
// guidance, so a caller can pick a recovery strategy without parsing the
// failure text.
type RetryReason string

const (
	// RetryInvalidArguments signals the arguments were malformed or failed
	// schema validation; retrying with corrected arguments may succeed.
	RetryInvalidArguments RetryReason = "invalid_arguments"
	// RetryMissingFields signals required fields were absent; MissingFields
	// names them.
	RetryMissingFields RetryReason = "missing_fields"
	// RetryAmbiguousTarget signals the arguments matched more than one
	// candidate; a clarifying question to the user can disambiguate.
	RetryAmbiguousTarget RetryReason = "ambiguous_target"
	// RetryTransient signals a temporary failure (network, rate limit) that
	// an unmodified retry may clear.
	RetryTransient RetryReason = "transient"
)

// RetryHint carries structured recovery guidance attached to a failed tool
// invocation: enough detail for a client to ask a clarifying question and
// retry deterministically, rather than relying on the model re-reading raw
// error text.
type RetryHint struct {
	// Reason categorizes the failure. Required.
	Reason RetryReason `json:"reason"`
	// Tool identifies the tool that failed. Set.Run fills this in.
	Tool Ident `json:"tool"`
	// MissingFields lists the specific required fields that were missing or
	// invalid, when Reason is RetryMissingFields or RetryInvalidArguments.
	MissingFields []string `json:"missingFields,omitempty"`
	// Guidance is a short human-readable suggestion for the retry.
	Guidance string `json:"guidance,omitempty"`
}

// RetryHintProvider can be implemented by errors returned from Tool.Invoke
// that want to surface structured retry guidance. Set.Run detects the
// interface and attaches the hint to the Response so clients can react
// without string parsing; the error text still reaches the model unchanged.
type RetryHintProvider interface {
	RetryHint(tool Ident) *RetryHint
}
