package bom

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregateLaptop(t *testing.T) {
	tree, err := NewValidator(0).Validate(laptopItems())
	require.NoError(t, err)

	r, err := tree.Aggregate()
	require.NoError(t, err)
	assert.Equal(t, 56300.0, r.TotalMaterialCost)
	assert.Equal(t, 6, r.TotalItems)
	assert.Equal(t, 1, r.MaxLevel)
	assert.Equal(t, []string{"INR"}, r.Currencies)
	assert.False(t, r.MixedCurrency)

	out := tree.Nodes()
	mb := out[0]
	assert.Equal(t, 15000.0, mb.Amount)
	assert.Equal(t, 16300.0, mb.RollupCost)
	assert.Equal(t, 800.0, mb.Children[1].Amount)
	assert.Equal(t, 800.0, mb.Children[1].RollupCost)
	assert.Equal(t, 28000.0, out[1].RollupCost)
	assert.Equal(t, 12000.0, out[2].Amount)
}

func TestAggregateOverwritesClientAmounts(t *testing.T) {
	items := laptopItems()
	items[0].Amount = 1
	items[0].RollupCost = 2
	items[2].Amount = -999

	res, err := Aggregate(items)
	require.NoError(t, err)
	assert.Equal(t, 15000.0, res.Items[0].Amount)
	assert.Equal(t, 12000.0, res.Items[2].Amount)
	assert.Equal(t, 56300.0, res.TotalMaterialCost)
}

func TestAggregateIsIdempotent(t *testing.T) {
	first, err := Aggregate(laptopItems())
	require.NoError(t, err)
	second, err := Aggregate(first.Items)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestLineAmountRounding(t *testing.T) {
	cases := []struct {
		qty, rate, want float64
	}{
		{3, 0.335, 1.01},
		{1, 0.005, 0.01},
		{2.5, 1.1, 2.75},
		{1, 0.004, 0},
		{0.333, 3, 1},
	}
	for _, tc := range cases {
		got, ok := LineAmount(tc.qty, tc.rate)
		require.True(t, ok)
		assert.Equal(t, tc.want, got.InexactFloat64(), "%v x %v", tc.qty, tc.rate)
	}

	_, ok := LineAmount(math.NaN(), 1)
	assert.False(t, ok)
}

func TestAggregateEmptyTree(t *testing.T) {
	res, err := Aggregate(nil)
	require.NoError(t, err)
	assert.Empty(t, res.Items)
	assert.Zero(t, res.TotalMaterialCost)
	assert.Equal(t, []string{}, res.Currencies)
}

func TestAggregateMixedCurrency(t *testing.T) {
	items := laptopItems()
	items[1].Currency = "usd"

	res, err := Aggregate(items)
	require.NoError(t, err)
	assert.True(t, res.MixedCurrency)
	assert.Equal(t, []string{"INR", "USD"}, res.Currencies)
	assert.Equal(t, 56300.0, res.TotalMaterialCost)
}

func TestAggregateRejectsNonFinite(t *testing.T) {
	_, err := Aggregate([]Node{leaf("A", math.Inf(1), 1)})
	assert.Equal(t, []ProblemCode{ProblemInvalidAmount}, problemCodes(t, err))

	_, err = Aggregate([]Node{leaf("A", math.MaxFloat64, 10)})
	assert.Equal(t, []ProblemCode{ProblemInvalidAmount}, problemCodes(t, err))
}
