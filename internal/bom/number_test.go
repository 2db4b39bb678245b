package bom

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatNumber(t *testing.T) {
	at := time.Date(2026, 3, 7, 23, 59, 0, 0, time.UTC)
	assert.Equal(t, "BOM/26/03/07/00001", FormatNumber("", at, 1))
	assert.Equal(t, "MFG/26/03/07/00042", FormatNumber("MFG", at, 42))
	assert.Equal(t, "BOM/26/03/07/123456", FormatNumber("BOM", at, 123456))
}

func TestScopeKey(t *testing.T) {
	at := time.Date(2026, 3, 7, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "acme:20260307", ScopeKey(" ACME ", at))
	assert.Equal(t, "default:20260307", ScopeKey("", at))
	assert.NotEqual(t, ScopeKey("acme", at), ScopeKey("acme", at.AddDate(0, 0, 1)))
}

func TestItemCodeJSON(t *testing.T) {
	var n Node
	require.NoError(t, json.Unmarshal([]byte(`{"item_code": 101, "quantity": 2}`), &n))
	assert.Equal(t, ItemCode("101"), n.ItemCode)

	require.NoError(t, json.Unmarshal([]byte(`{"item_code": "MB-01"}`), &n))
	assert.Equal(t, "MB-01", n.ItemCode.String())

	require.NoError(t, json.Unmarshal([]byte(`{"item_code": null}`), &n))
	assert.Equal(t, ItemCode(""), n.ItemCode)

	assert.Error(t, json.Unmarshal([]byte(`{"item_code": {"x": 1}}`), &n))

	out, err := json.Marshal(Node{ItemCode: "101"})
	require.NoError(t, err)
	assert.Contains(t, string(out), `"item_code":"101"`)
}
