package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bitfantasy/nimo-bom/internal/bom"
	"github.com/bitfantasy/nimo-bom/internal/config"
	"github.com/bitfantasy/nimo-bom/internal/model/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 7, 10, 30, 0, 0, time.UTC)

func testBOMConfig() config.BOMConfig {
	return config.BOMConfig{
		MaxDepth:         10,
		NumberPrefix:     "BOM",
		SequenceBackend:  config.SequenceBackendDatabase,
		SequenceAttempts: 3,
		CacheTTL:         time.Minute,
		Timezone:         "UTC",
	}
}

// scriptedAllocator hands out values (or errors) in order, then keeps counting.
type scriptedAllocator struct {
	mu     sync.Mutex
	script []interface{}
	next   int64
	scopes []string
}

func (a *scriptedAllocator) Allocate(_ context.Context, scopeKey string) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.scopes = append(a.scopes, scopeKey)
	if len(a.script) > 0 {
		step := a.script[0]
		a.script = a.script[1:]
		switch v := step.(type) {
		case error:
			return 0, v
		case int:
			a.next = int64(v)
			return a.next, nil
		}
	}
	a.next++
	return a.next, nil
}

func newTestAssembler(alloc bom.SequenceAllocator) *DocumentAssembler {
	a := NewDocumentAssembler(alloc, testBOMConfig(), nil)
	a.now = func() time.Time { return fixedNow }
	return a
}

func laptopTree(t *testing.T) (*bom.Tree, bom.Rollup) {
	t.Helper()
	tree, err := bom.NewValidator(10).Validate(laptopNodes())
	require.NoError(t, err)
	r, err := tree.Aggregate()
	require.NoError(t, err)
	return tree, r
}

func TestNextNumber(t *testing.T) {
	alloc := &scriptedAllocator{}
	a := newTestAssembler(alloc)

	n1, err := a.NextNumber(context.Background(), "Acme", a.Now())
	require.NoError(t, err)
	n2, err := a.NextNumber(context.Background(), "Acme", a.Now())
	require.NoError(t, err)

	assert.Equal(t, "BOM/26/03/07/00001", n1)
	assert.Equal(t, "BOM/26/03/07/00002", n2)
	assert.Equal(t, bom.ScopeKey("Acme", fixedNow), alloc.scopes[0])
}

func TestNextNumberRetriesAllocatorErrors(t *testing.T) {
	alloc := &scriptedAllocator{script: []interface{}{errors.New("connection reset"), 7}}
	a := newTestAssembler(alloc)

	n, err := a.NextNumber(context.Background(), "Acme", a.Now())
	require.NoError(t, err)
	assert.Equal(t, "BOM/26/03/07/00007", n)
	assert.Len(t, alloc.scopes, 2)
}

func TestNextNumberGivesUp(t *testing.T) {
	boom := errors.New("connection reset")
	alloc := &scriptedAllocator{script: []interface{}{boom, boom, boom, boom}}
	a := newTestAssembler(alloc)

	_, err := a.NextNumber(context.Background(), "Acme", a.Now())
	assert.ErrorIs(t, err, ErrSequenceAllocation)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Len(t, alloc.scopes, 3)
}

func TestNextNumberStopsOnCancelledContext(t *testing.T) {
	alloc := &scriptedAllocator{script: []interface{}{context.Canceled}}
	a := newTestAssembler(alloc)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.NextNumber(ctx, "Acme", a.Now())
	assert.ErrorIs(t, err, ErrSequenceAllocation)
	assert.Len(t, alloc.scopes, 1)
}

func TestAssembleDefaults(t *testing.T) {
	a := newTestAssembler(&scriptedAllocator{})
	tree, r := laptopTree(t)

	doc := a.Assemble(BOMHeader{BOMName: "  Laptop ", MyCompanyName: "Acme"}, tree, r, "BOM/26/03/07/00001", "u1", fixedNow)

	assert.Len(t, doc.ID, 32)
	assert.Equal(t, "Laptop", doc.BOMName)
	assert.Equal(t, entity.BOMStatusDraft, doc.Status)
	assert.Equal(t, entity.BOMTypeManufacturing, doc.BOMType)
	assert.Equal(t, "1.0", doc.Version)
	assert.Equal(t, time.Date(2026, 3, 7, 0, 0, 0, 0, time.UTC), doc.BOMDate)
	assert.Equal(t, "u1", doc.CreatedBy)
	assert.Equal(t, 0, doc.Revision)
	assert.Equal(t, 56300.0, doc.TotalMaterialCost)
	assert.Equal(t, 6, doc.TotalItems)
	assert.Equal(t, 1, doc.MaxLevel)
	assert.Equal(t, []string{"INR"}, []string(doc.Currencies))
	require.Len(t, doc.Items, 6)
	assert.Equal(t, "MB-001", doc.Items[0].ItemCode)
	assert.Equal(t, "SKT-001", doc.Items[1].ItemCode)
	assert.Equal(t, doc.Items[0].NodeID, doc.Items[1].ParentNodeID)
	assert.Equal(t, 16300.0, doc.Items[0].RollupCost)
}

func TestReassembleKeepsIdentity(t *testing.T) {
	a := newTestAssembler(&scriptedAllocator{})
	tree, r := laptopTree(t)
	existing := a.Assemble(BOMHeader{BOMName: "Laptop", BOMType: "engineering", MyCompanyName: "Acme"}, tree, r, "BOM/26/03/07/00001", "u1", fixedNow)
	existing.Status = entity.BOMStatusActive

	later := fixedNow.Add(48 * time.Hour)
	doc := a.Reassemble(existing, BOMHeader{BOMName: "Laptop v2", Version: "2.0"}, tree, r, later)

	assert.Equal(t, existing.ID, doc.ID)
	assert.Equal(t, existing.BOMNumber, doc.BOMNumber)
	assert.Equal(t, entity.BOMStatusActive, doc.Status)
	assert.Equal(t, "u1", doc.CreatedBy)
	assert.Equal(t, existing.BOMDate, doc.BOMDate)
	assert.Equal(t, "Acme", doc.MyCompanyName)
	assert.Equal(t, entity.BOMTypeManufacturing, doc.BOMType)
	assert.Equal(t, "Laptop v2", doc.BOMName)
	assert.Equal(t, "2.0", doc.Version)
	assert.Equal(t, 1, doc.Revision)
	assert.Equal(t, later, doc.UpdatedAt)

	// the original is untouched
	assert.Equal(t, "Laptop", existing.BOMName)
	assert.Equal(t, 0, existing.Revision)
}

func TestBOMHeaderValidate(t *testing.T) {
	assert.NoError(t, (&BOMHeader{BOMName: "Laptop", BOMType: "sales"}).Validate())
	assert.ErrorIs(t, (&BOMHeader{BOMName: "  "}).Validate(), ErrInvalidHeader)
	assert.ErrorIs(t, (&BOMHeader{BOMName: "Laptop", BOMType: "prototype"}).Validate(), ErrInvalidHeader)
}
