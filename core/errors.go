package core

import (
	"errors"
	"fmt"
)

// ContractError reports a caller-side programming error: a writer id wider than the
// configured bit width, Finish without StartExcerpt, an excerpt that cannot fit in a
// data block, or settings that break the layout invariants. These are never retried.
type ContractError struct {
	Op      string // e.g., "StartExcerpt", "Finish", "Settings"
	Message string
}

// CorruptionError reports on-disk state that violates the layout invariants, such as a
// length prefix whose complement has either of its two top bits set.
type CorruptionError struct {
	Path   string
	Offset int64
	Value  int32
}

func (e *ContractError) Error() string {
	return fmt.Sprintf("contract violation in %s: %s", e.Op, e.Message)
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("corrupted length 0x%08x at offset %d in %s", uint32(e.Value), e.Offset, e.Path)
}

// NewContractError builds a ContractError with a formatted message.
func NewContractError(op, format string, args ...any) error {
	return &ContractError{Op: op, Message: fmt.Sprintf(format, args...)}
}

// IsContractError checks if an error is a ContractError.
func IsContractError(err error) bool {
	var contractError *ContractError
	return errors.As(err, &contractError)
}

// IsCorruptionError checks if an error (or any error in its chain) is a CorruptionError.
func IsCorruptionError(err error) bool {
	var corruptionError *CorruptionError
	return errors.As(err, &corruptionError)
}
