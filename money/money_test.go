package money_test

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/subledger/money"
)

func TestMoney_NoFloatDrift(t *testing.T) {
	a := money.MustParse("0.1")
	b := money.MustParse("0.2")
	assert.True(t, a.Add(b).Equal(money.MustParse("0.3")))
}

func TestMoney_PercentAndRound(t *testing.T) {
	base := money.MustParse("199.99")
	tax := base.Percent(decimal.NewFromFloat(7.5)).Round()
	assert.Equal(t, "15.00", tax.String())

	assert.Equal(t, "0.13", money.MustParse("0.125").Round().String())
}

func TestMoney_FromMinor(t *testing.T) {
	assert.Equal(t, "12.34", money.FromMinor(1234).String())
	assert.True(t, money.FromMinor(-50).IsNegative())
}

func TestMoney_String_KeepsExtraPrecision(t *testing.T) {
	assert.Equal(t, "220.00", money.FromInt(220).String())
	assert.Equal(t, "0.125", money.MustParse("0.125").String())
}

func TestMoney_Sum(t *testing.T) {
	total := money.Sum(money.FromInt(1), money.MustParse("2.50"), money.MustParse("-0.50"))
	assert.Equal(t, "3.00", total.String())
	assert.True(t, money.Sum().IsZero())
}

func TestMoney_JSON(t *testing.T) {
	b, err := json.Marshal(money.MustParse("10.5"))
	require.NoError(t, err)
	assert.JSONEq(t, `"10.50"`, string(b))

	var fromString, fromNumber money.Money
	require.NoError(t, json.Unmarshal([]byte(`"99.95"`), &fromString))
	require.NoError(t, json.Unmarshal([]byte(`99.95`), &fromNumber))
	assert.True(t, fromString.Equal(fromNumber))

	var bad money.Money
	assert.Error(t, json.Unmarshal([]byte(`"ten"`), &bad))
}

func TestMoney_ParseRejectsGarbage(t *testing.T) {
	_, err := money.Parse("12,50")
	assert.Error(t, err)
	assert.Panics(t, func() { money.MustParse("abc") })
}
