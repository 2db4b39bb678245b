package bom

import (
	"errors"
	"fmt"
	"strings"
)

// ProblemCode classifies one validation problem.
type ProblemCode string

const (
	ProblemMissingItemCode   ProblemCode = "MISSING_ITEM_CODE"
	ProblemDuplicateItemCode ProblemCode = "DUPLICATE_ITEM_CODE"
	ProblemDuplicateNodeID   ProblemCode = "DUPLICATE_NODE_ID"
	ProblemInvalidQuantity   ProblemCode = "INVALID_QUANTITY"
	ProblemInvalidRate       ProblemCode = "INVALID_RATE"
	ProblemInvalidAmount     ProblemCode = "INVALID_AMOUNT"
	ProblemMissingUOM        ProblemCode = "MISSING_UOM"
	ProblemInvalidCurrency   ProblemCode = "INVALID_CURRENCY"
	ProblemMaxDepthExceeded  ProblemCode = "MAX_DEPTH_EXCEEDED"
	ProblemDanglingParent    ProblemCode = "DANGLING_PARENT"
	ProblemParentMismatch    ProblemCode = "PARENT_MISMATCH"
	ProblemCycle             ProblemCode = "CYCLE"
	ProblemInvalidLevel      ProblemCode = "INVALID_LEVEL"
	ProblemEmptyTree         ProblemCode = "EMPTY_TREE"
)

// Numeric reports whether the code describes a non-finite or out of range number.
func (c ProblemCode) Numeric() bool {
	switch c {
	case ProblemInvalidQuantity, ProblemInvalidRate, ProblemInvalidAmount:
		return true
	}
	return false
}

// Problem points at one offending node.
type Problem struct {
	Path     string      `json:"path"`
	ItemCode string      `json:"item_code,omitempty"`
	Code     ProblemCode `json:"code"`
	Message  string      `json:"message"`
}

// ErrValidation is matched by every *ValidationError.
var ErrValidation = errors.New("bom validation failed")

// ValidationError rejects a whole submission. Nothing is persisted when it is returned.
type ValidationError struct {
	Problems []Problem
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 0 {
		return ErrValidation.Error()
	}
	parts := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		parts = append(parts, fmt.Sprintf("%s: %s", p.Path, p.Message))
	}
	return fmt.Sprintf("%s: %s", ErrValidation, strings.Join(parts, "; "))
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Has reports whether any problem carries code.
func (e *ValidationError) Has(code ProblemCode) bool {
	for _, p := range e.Problems {
		if p.Code == code {
			return true
		}
	}
	return false
}

// AsValidationError unwraps err into a *ValidationError.
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
