package bom

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/currency"
)

// DefaultMaxDepth is the number of levels a tree may have (levels 0..9).
const DefaultMaxDepth = 10

// Validator checks the structure of submitted trees.
//
// Declared levels are never trusted: every node's level is coerced to its depth in the
// submitted nesting. Everything else that is wrong is reported, and a single problem
// rejects the whole tree.
type Validator struct {
	maxDepth int
}

// NewValidator returns a validator allowing maxDepth levels. Non-positive values fall
// back to DefaultMaxDepth.
func NewValidator(maxDepth int) *Validator {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Validator{maxDepth: maxDepth}
}

// MaxDepth returns the number of levels allowed.
func (v *Validator) MaxDepth() int { return v.maxDepth }

type siblingKey struct {
	parent int
	code   string
}

// Validate normalizes items into a Tree: levels coerced, node ids assigned where the
// client sent none (never reusing a client id), parent ids resolved to the structural
// parent's id.
func (v *Validator) Validate(items []Node) (*Tree, error) {
	var problems []Problem
	report := func(e *entry, code ProblemCode, format string, args ...any) {
		problems = append(problems, Problem{
			Path:     e.path,
			ItemCode: normalizeCode(e.node.ItemCode),
			Code:     code,
			Message:  fmt.Sprintf(format, args...),
		})
	}

	t := &Tree{}
	t.walk(items, func(idx int, _ *Node) bool {
		e := &t.entries[idx]
		if e.node.Level >= v.maxDepth {
			report(e, ProblemMaxDepthExceeded, "level %d exceeds the maximum of %d levels", e.node.Level, v.maxDepth)
			return false
		}
		return true
	})

	siblings := make(map[siblingKey]struct{}, len(t.entries))
	byID := make(map[string]int, len(t.entries))
	byCode := make(map[string][]int, len(t.entries))

	for i := range t.entries {
		e := &t.entries[i]
		n := &e.node

		code := normalizeCode(n.ItemCode)
		n.ItemCode = ItemCode(code)
		if code == "" {
			report(e, ProblemMissingItemCode, "item_code is required")
		} else {
			k := siblingKey{parent: e.parent, code: code}
			if _, dup := siblings[k]; dup {
				report(e, ProblemDuplicateItemCode, "item_code %q is already used by a sibling", code)
			}
			siblings[k] = struct{}{}
			byCode[code] = append(byCode[code], i)
		}

		switch {
		case !finite(n.Quantity):
			report(e, ProblemInvalidAmount, "quantity is not a finite number")
		case n.Quantity <= 0:
			report(e, ProblemInvalidQuantity, "quantity must be greater than 0, got %v", n.Quantity)
		}
		switch {
		case !finite(n.Rate):
			report(e, ProblemInvalidAmount, "rate is not a finite number")
		case n.Rate < 0:
			report(e, ProblemInvalidRate, "rate must not be negative, got %v", n.Rate)
		}

		n.UOM = strings.TrimSpace(n.UOM)
		if n.UOM == "" {
			report(e, ProblemMissingUOM, "uom is required")
		}
		n.Currency = strings.TrimSpace(n.Currency)
		if n.Currency != "" {
			if _, err := currency.ParseISO(n.Currency); err != nil {
				report(e, ProblemInvalidCurrency, "currency %q is not an ISO 4217 code", n.Currency)
			}
		}

		n.ID = strings.TrimSpace(n.ID)
		if n.ID == "" {
			continue
		}
		if _, dup := byID[n.ID]; dup {
			report(e, ProblemDuplicateNodeID, "node id %q is used more than once", n.ID)
		} else {
			byID[n.ID] = i
		}
	}

	// Nodes without an id get their path key, or a suffixed key when a client id
	// already holds it.
	for i := range t.entries {
		e := &t.entries[i]
		if e.node.ID != "" {
			continue
		}
		id := e.key
		for n := 1; ; n++ {
			if _, taken := byID[id]; !taken {
				break
			}
			id = e.key + "-" + strconv.Itoa(n)
		}
		e.node.ID = id
		byID[id] = i
	}

	for i := range t.entries {
		e := &t.entries[i]
		declared := strings.TrimSpace(e.node.ParentID.String())
		resolved := ""
		if e.parent != noParent {
			resolved = t.entries[e.parent].node.ID
		}
		if declared != "" && !v.namesParent(t, e, declared) {
			switch candidates := v.candidates(declared, byID, byCode); {
			case len(candidates) == 0:
				report(e, ProblemDanglingParent, "parent_id %q does not match any item", declared)
			case t.anyInSubtree(i, candidates):
				report(e, ProblemCycle, "parent_id %q points at the item itself or one of its descendants", declared)
			default:
				report(e, ProblemParentMismatch, "parent_id %q is not the item's parent", declared)
			}
		}
		e.node.ParentID = NodeRef(resolved)
	}

	if len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}
	return t, nil
}

func (v *Validator) namesParent(t *Tree, e *entry, ref string) bool {
	if e.parent == noParent {
		return false
	}
	p := t.entries[e.parent].node
	return ref == p.ID || ref == string(p.ItemCode)
}

func (v *Validator) candidates(ref string, byID map[string]int, byCode map[string][]int) []int {
	out := append([]int(nil), byCode[ref]...)
	if i, ok := byID[ref]; ok {
		out = append(out, i)
	}
	return out
}

// anyInSubtree reports whether any of idxs is root or a descendant of root.
func (t *Tree) anyInSubtree(root int, idxs []int) bool {
	for _, c := range idxs {
		if t.isAncestor(root, c) {
			return true
		}
	}
	return false
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
