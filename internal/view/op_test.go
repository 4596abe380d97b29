package view

import (
	"math/big"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestFinalizableExamples(t *testing.T) {
	cases := []struct {
		approvals, approvers int64
		want                 bool
	}{
		{1, 3, false},
		{2, 3, true},
		{2, 4, false},
		{3, 4, true},
		{0, 0, false},
		{1, 1, true},
	}
	for _, tc := range cases {
		got := Finalizable(big.NewInt(tc.approvals), big.NewInt(tc.approvers))
		assert.Equal(t, tc.want, got, "%d of %d", tc.approvals, tc.approvers)
	}
	assert.False(t, Finalizable(nil, big.NewInt(1)))
}

// Finalizable is exactly a strict majority: 2a > n.
func TestFinalizableIsStrictMajority(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("approvalCount > numApprovers/2 iff 2*approvalCount > numApprovers", prop.ForAll(
		func(approvers, approvals int64) bool {
			got := Finalizable(big.NewInt(approvals), big.NewInt(approvers))
			return got == (2*approvals > approvers)
		},
		gen.Int64Range(0, 1_000_000),
		gen.Int64Range(0, 1_000_000),
	))

	properties.Property("a tie is never enough", prop.ForAll(
		func(half int64) bool {
			return !Finalizable(big.NewInt(half), big.NewInt(2*half))
		},
		gen.Int64Range(0, 1_000_000),
	))

	properties.TestingRun(t)
}
