package store

import (
	"strings"
	"unicode"
)

// DefaultArabicStopWords contains high-frequency Arabic function words and
// boilerplate legal connectives filtered out during tokenization.
var DefaultArabicStopWords = []string{
	"في", "من", "على", "الى", "عن", "ان", "اذا", "او", "ثم",
	"قد", "لا", "ما", "هذا", "هذه", "ذلك", "التي", "الذي",
	"بين", "بعد", "قبل", "كما", "كان", "كانت", "تم", "وقد",
	"حيث", "لدى", "عليه", "وفق", "بناء",
}

// NormalizeArabic normalizes Arabic text for lexical matching:
// diacritics and tatweel are stripped, alef variants are unified to bare
// alef, teh marbuta becomes ha, and alef maqsura becomes ya.
func NormalizeArabic(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case 'ً', 'ٌ', 'ٍ', 'َ', 'ُ',
			'ِ', 'ّ', 'ْ', 'ٰ': // harakat + dagger alef
			continue
		case 'ـ': // tatweel
			continue
		case 'آ', 'أ', 'إ': // آ أ إ
			b.WriteRune('ا') // ا
		case 'ة': // ة
			b.WriteRune('ه') // ه
		case 'ى': // ى
			b.WriteRune('ي') // ي
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Tokenize splits normalized text into lowercase tokens. Arabic and Latin
// letter/digit runs are kept; everything else separates. Tokens shorter
// than two runes are dropped.
func Tokenize(text string) []string {
	normalized := NormalizeArabic(text)

	var tokens []string
	var current []rune
	flush := func() {
		if len(current) >= 2 {
			tokens = append(tokens, string(current))
		}
		current = current[:0]
	}

	for _, r := range normalized {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			current = append(current, unicode.ToLower(r))
		} else {
			flush()
		}
	}
	flush()

	return tokens
}

// TokenizeFiltered tokenizes and removes the given stop words.
func TokenizeFiltered(text string, stopWords map[string]struct{}) []string {
	raw := Tokenize(text)
	if len(stopWords) == 0 {
		return raw
	}
	out := raw[:0]
	for _, t := range raw {
		if _, stop := stopWords[t]; !stop {
			out = append(out, t)
		}
	}
	return out
}

// StopWordSet builds a lookup set from a stop word list, normalizing each
// entry the same way document text is normalized.
func StopWordSet(words []string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		for _, t := range Tokenize(w) {
			set[t] = struct{}{}
		}
		// Short stop words ("قد", "لا") survive Tokenize's length floor
		// only via direct normalization.
		n := strings.ToLower(NormalizeArabic(w))
		if n != "" {
			set[n] = struct{}{}
		}
	}
	return set
}
