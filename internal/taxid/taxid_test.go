package taxid

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := map[string]string{
		"ES-A12345678":  "A12345678",
		"es a1234567-4": "A12345674",
		"12.345.678-z":  "12345678Z",
		" X-1234567-L ": "X1234567L",
		"ESX1234567L":   "X1234567L",
		"1234":          "1234",
		"":              "",
		"---":           "",
	}
	for in, want := range tests {
		assert.Equal(t, want, Normalize(in), "input %q", in)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		id    string
		kind  Kind
		valid bool
	}{
		{"12345678Z", KindNIF, true},
		{"12345678A", KindNIF, false},
		{"X1234567L", KindNIE, true},
		{"Y1234567X", KindNIE, true},
		{"A12345674", KindCIF, true},
		{"A12345678", KindCIF, false},
		{"B12345674", KindCIF, true},
		{"Q1234567D", KindCIF, true},
		{"Q12345674", KindCIF, false},
		{"G12345674", KindCIF, true},
		{"G1234567D", KindCIF, true},
		{"1234", "", false},
		{"ZZZZZZZZZ", "", false},
	}
	for _, tt := range tests {
		kind, ok := Classify(tt.id)
		assert.Equal(t, tt.kind, kind, tt.id)
		assert.Equal(t, tt.valid, ok, tt.id)
	}
}

func TestIsValidNeverPanics(t *testing.T) {
	assert.False(t, IsValid("1234"))
	assert.False(t, IsValid(""))
	assert.False(t, IsValid("ñ€💥"))
	assert.True(t, IsValid("ES-A12345674"))
}

func TestCanonicalKeepsInvalidNormalizedForm(t *testing.T) {
	id, ok := Canonical("ES-A12345678")
	assert.Equal(t, "A12345678", id)
	assert.False(t, ok)

	id, ok = Canonical("  ")
	assert.Empty(t, id)
	assert.False(t, ok)
}
