package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeArabic(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"alef variants", "أحكام إدارية آجلة", "احكام اداريه اجله"},
		{"teh marbuta", "محكمة", "محكمه"},
		{"alef maqsura", "دعوى", "دعوي"},
		{"diacritics stripped", "حُكْمٌ", "حكم"},
		{"tatweel stripped", "قـــرار", "قرار"},
		{"latin untouched", "Case 123", "Case 123"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeArabic(tt.in))
		})
	}
}

func TestTokenize(t *testing.T) {
	tokens := Tokenize("حكمت المحكمة بالنفقة، القضية 45231")
	assert.Equal(t, []string{"حكمت", "المحكمه", "بالنفقه", "القضيه", "45231"}, tokens)
}

func TestTokenize_DropsShortTokens(t *testing.T) {
	tokens := Tokenize("a في b قد xy")
	assert.NotContains(t, tokens, "a")
	assert.NotContains(t, tokens, "b")
	assert.Contains(t, tokens, "xy")
}

func TestTokenize_LowercasesLatin(t *testing.T) {
	assert.Equal(t, []string{"appeal", "no12"}, Tokenize("Appeal NO12"))
}

func TestTokenizeFiltered_RemovesStopWords(t *testing.T) {
	stops := StopWordSet(DefaultArabicStopWords)
	tokens := TokenizeFiltered("حكمت المحكمة في الدعوى على المدعي", stops)
	assert.NotContains(t, tokens, "في")
	assert.NotContains(t, tokens, "علي") // normalized form of على
	assert.Contains(t, tokens, "المحكمه")
	assert.Contains(t, tokens, "الدعوي")
}
