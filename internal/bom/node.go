// Package bom validates bill-of-materials trees and rolls up their material cost.
//
// The package is pure: it never touches storage and never reads the clock. Callers
// submit nested item trees, get back a normalized index-based Tree, and aggregate it.
package bom

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ItemCode identifies an item among its siblings. Clients send it either as a JSON
// number or a JSON string; it is always kept as a string.
type ItemCode string

// UnmarshalJSON accepts `"MB-01"`, `101` and `null`.
func (c *ItemCode) UnmarshalJSON(data []byte) error {
	s, err := stringOrNumber(data)
	if err != nil {
		return fmt.Errorf("item_code must be a string or a number: %w", err)
	}
	*c = ItemCode(s)
	return nil
}

func (c ItemCode) String() string { return string(c) }

// NodeRef names another node by id or item code. Since item codes may be numbers,
// references may be too.
type NodeRef string

// UnmarshalJSON accepts `"1.2"`, `"MB-01"`, `101` and `null`.
func (r *NodeRef) UnmarshalJSON(data []byte) error {
	s, err := stringOrNumber(data)
	if err != nil {
		return fmt.Errorf("parent_id must be a string or a number: %w", err)
	}
	*r = NodeRef(s)
	return nil
}

func (r NodeRef) String() string { return string(r) }

func stringOrNumber(data []byte) (string, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return "", nil
	}
	if data[0] == '"' {
		var s string
		err := json.Unmarshal(data, &s)
		return s, err
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return "", err
	}
	return n.String(), nil
}

// Node is one line of a BOM. Amount, RollupCost and Level are derived and get
// overwritten by the engine whatever the client sent.
type Node struct {
	ID                    string   `json:"id,omitempty"`
	ItemCode              ItemCode `json:"item_code"`
	ItemDescription       string   `json:"item_description"`
	MaterialConsideration string   `json:"material_consideration"`
	Quantity              float64  `json:"quantity"`
	UOM                   string   `json:"uom"`
	Rate                  float64  `json:"rate"`
	Currency              string   `json:"currency"`
	Amount                float64  `json:"amount"`
	RollupCost            float64  `json:"rollup_cost"`
	Level                 int      `json:"level"`
	ParentID              NodeRef  `json:"parent_id,omitempty"`
	Children              []Node   `json:"children"`
}

// IsLeaf reports whether the node has no children.
func (n *Node) IsLeaf() bool { return len(n.Children) == 0 }

func normalizeCode(c ItemCode) string {
	return strings.TrimSpace(string(c))
}
