package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"R$ 1.234,56", "1234.56"},
		{"1.234,56", "1234.56"},
		{"R$ 8,000.00", "8000"},
		{"R$ 350,00", "350"},
		{"1.500", "1500"},
		{"2.500.000", "2500000"},
		{"12,5", "12.5"},
		{"Lance mínimo: 900", "900"},
		{"R$ 1.000,", "1000"},
	}
	for _, c := range cases {
		got, err := Parse(c.in)
		require.NoError(t, err, c.in)
		require.True(t, decimal.RequireFromString(c.want).Equal(got), "%s => %s", c.in, got)
	}
}

func TestParseErrors(t *testing.T) {
	_, err := Parse("sem valor")
	require.ErrorIs(t, err, ErrNoAmount)

	_, err = ParsePositive("R$ 0,00")
	require.ErrorIs(t, err, ErrNotPositive)
}

func TestFindBRL(t *testing.T) {
	got := FindBRL("Lance inicial R$ 100,00 e atual R$ 1.234,56.")
	require.Equal(t, []string{"100,00", "1.234,56"}, got)
}

func TestEqual(t *testing.T) {
	require.True(t, Equal("R$ 1.234,56", "1234.56"))
	require.False(t, Equal("1.234,56", "1.234,57"))
	require.True(t, Equal(" unknown ", "unknown"))
}
