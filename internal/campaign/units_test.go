package campaign

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToWei(t *testing.T) {
	cases := map[string]string{
		"5.1231231":            "5123123100000000000",
		"1":                    "1000000000000000000",
		"0.000000000000000001": "1",
		" 0.5 ":                "500000000000000000",
		"0":                    "0",
	}
	for in, want := range cases {
		got, err := ToWei(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got.String(), in)
	}

	for _, bad := range []string{"", "abc", "-1", "0.0000000000000000001"} {
		_, err := ToWei(bad)
		assert.Error(t, err, bad)
	}
}

func TestFromWei(t *testing.T) {
	wei, _ := new(big.Int).SetString("5123123100000000000", 10)
	assert.Equal(t, "5.1231231", FromWei(wei))
	assert.Equal(t, "0", FromWei(nil))
	assert.Equal(t, "100", FromWei(new(big.Int).Mul(big.NewInt(100), oneEther)))

	back, err := ToWei(FromWei(wei))
	require.NoError(t, err)
	assert.Equal(t, 0, back.Cmp(wei))
}
