package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linguaops/lingua-ops-api/internal/models"
)

func TestNewConverterRejectsNonPositiveRate(t *testing.T) {
	_, err := NewConverter(decimal.Zero)
	assert.Error(t, err)

	_, err = NewConverter(decimal.NewFromInt(-5))
	assert.Error(t, err)
}

func TestToEurPassthroughForEur(t *testing.T) {
	conv, err := NewConverter(decimal.NewFromInt(90))
	require.NoError(t, err)

	amount := decimal.RequireFromString("1234.56")
	got, err := conv.ToEur(amount, models.CurrencyEUR)
	require.NoError(t, err)
	assert.True(t, got.Equal(amount))
}

func TestToEurDividesInrBySnapshotRate(t *testing.T) {
	conv, err := NewConverter(decimal.NewFromInt(90))
	require.NoError(t, err)

	got, err := conv.ToEur(decimal.NewFromInt(9000), models.CurrencyINR)
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.NewFromInt(100)), "got %s", got)
}

func TestToEurRejectsUnknownCurrency(t *testing.T) {
	conv, err := NewConverter(decimal.NewFromInt(90))
	require.NoError(t, err)

	_, err = conv.ToEur(decimal.NewFromInt(10), models.Currency("USD"))
	assert.Error(t, err)
}

func TestRateIsNilForEur(t *testing.T) {
	conv, err := NewConverter(decimal.NewFromInt(88))
	require.NoError(t, err)

	assert.Nil(t, conv.Rate(models.CurrencyEUR))
	rate := conv.Rate(models.CurrencyINR)
	require.NotNil(t, rate)
	assert.True(t, rate.Equal(decimal.NewFromInt(88)))
}

func TestRounding(t *testing.T) {
	assert.Equal(t, "12.35", RoundAmount(decimal.RequireFromString("12.345")).String())
	assert.Equal(t, 66.7, RoundPercent(66.66666))
}
