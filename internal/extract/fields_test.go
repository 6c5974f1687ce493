package extract

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDate(t *testing.T) {
	want := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	for _, in := range []string{"2024-03-05", "05/03/2024", "05-03-2024", "05.03.2024", "2024-03-05T00:00:00Z"} {
		got := ParseDate(in)
		require.NotNil(t, got, in)
		assert.True(t, want.Equal(*got), in)
	}
	for _, in := range []string{"", "yesterday", "31/02/2024", "0001-01-01", "2024-13-01"} {
		assert.Nil(t, ParseDate(in), in)
	}
}

func TestTaxIDKeepsInvalidNormalized(t *testing.T) {
	id, ok := TaxID("es-b12345674")
	require.NotNil(t, id)
	assert.Equal(t, "B12345674", *id)
	assert.True(t, ok)

	id, ok = TaxID("12 34")
	require.NotNil(t, id)
	assert.Equal(t, "1234", *id)
	assert.False(t, ok)

	id, _ = TaxID(" - ")
	assert.Nil(t, id)
}

func TestCurrencyAndText(t *testing.T) {
	assert.Equal(t, "EUR", *Currency(" eur "))
	assert.Nil(t, Currency("€"))
	assert.Nil(t, Currency("EURO"))
	assert.Nil(t, Text("   "))
	assert.Equal(t, "a b", *Text(" a b "))
}
