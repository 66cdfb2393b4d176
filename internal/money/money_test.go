package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	d, err := Parse(" 12.50 ")
	require.NoError(t, err)
	assert.Equal(t, "12.5", d.String())

	_, err = Parse("1.005")
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = Parse("abc")
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = Parse("")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestMinorRoundTrip(t *testing.T) {
	minor, err := ToMinor(MustParse("-40.07"))
	require.NoError(t, err)
	assert.Equal(t, int64(-4007), minor)
	assert.True(t, FromMinor(minor).Equal(MustParse("-40.07")))

	_, err = ToMinor(decimal.RequireFromString("0.001"))
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestFloorShare(t *testing.T) {
	// 10 of 30 winning stake against a pool of 20 -> 6.66
	got := FloorShare(MustParse("10"), MustParse("20"), MustParse("30"))
	assert.Equal(t, "6.66", got.StringFixed(2))

	assert.True(t, FloorShare(MustParse("10"), MustParse("5"), decimal.Zero).IsZero())
}
