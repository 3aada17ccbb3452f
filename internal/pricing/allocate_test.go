package pricing

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-billing/internal/money"
)

func TestAllocateSumsExactly(t *testing.T) {
	weights := []money.Money{
		money.MustParse("1"),
		money.Zero(),
		money.MustParse("1"),
		money.MustParse("1"),
	}
	shares := allocate(money.MustParse("1"), weights)
	require.Len(t, shares, 4)
	require.True(t, shares[1].IsZero())
	require.True(t, money.Sum(shares...).Equal(money.MustParse("1")))
}

func TestAllocateWithoutWeights(t *testing.T) {
	shares := allocate(money.MustParse("5"), []money.Money{money.Zero(), money.Zero()})
	for _, s := range shares {
		require.True(t, s.IsZero())
	}
}
