package pipeline

import "fmt"

// InvalidAmountError is the one hard validation failure: a record with no
// determinable amount carries no financial meaning and is never defaulted.
// OriginalText is preserved so the user can resubmit.
type InvalidAmountError struct {
	Raw          string
	OriginalText string
}

func (e *InvalidAmountError) Error() string {
	if e.Raw == "" {
		return "invalid amount: no amount found"
	}
	return fmt.Sprintf("invalid amount: %q", e.Raw)
}

// UnknownAccountError rejects a record whose account is not in the taxonomy,
// even after synonym and case-insensitive repair. Accounts are not guessable:
// misrouting money to the wrong account is worse than refusing.
type UnknownAccountError struct {
	Account string
}

func (e *UnknownAccountError) Error() string {
	if e.Account == "" {
		return "unknown account: no account found"
	}
	return fmt.Sprintf("unknown account: %q", e.Account)
}
