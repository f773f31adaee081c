package engine

import (
	"fmt"
	"strings"
)

// phonemes is the vocabulary the acoustic models index by position.
var phonemes = [NumPhonemes]string{
	"pau", "A", "E", "I", "N", "O", "U", "a", "b", "by",
	"ch", "cl", "d", "dy", "e", "f", "g", "gw", "gy", "h",
	"hy", "i", "j", "k", "kw", "ky", "m", "my", "n", "ny",
	"o", "p", "py", "r", "ry", "s", "sh", "t", "ts", "ty",
	"u", "v", "w", "y", "z",
}

// NumPhonemes is the width of a one-hot phoneme row.
const NumPhonemes = 45

// PauID is the id of the pause phoneme.
const PauID int64 = 0

var phonemeIndex = func() map[string]int64 {
	m := make(map[string]int64, NumPhonemes)
	for i, p := range phonemes {
		m[p] = int64(i)
	}
	return m
}()

// moraTails end a mora. Everything else is a consonant.
var moraTails = map[string]bool{
	"a": true, "i": true, "u": true, "e": true, "o": true, "N": true,
	"A": true, "I": true, "U": true, "E": true, "O": true, "cl": true, "pau": true,
}

var unvoicedTails = map[string]bool{
	"A": true, "I": true, "U": true, "E": true, "O": true, "cl": true, "pau": true,
}

// normalizePhoneme maps any silence spelling onto pau.
func normalizePhoneme(p string) string {
	if strings.Contains(p, "sil") {
		return "pau"
	}
	return p
}

// PhonemeID returns the vocabulary index of p.
func PhonemeID(p string) (int64, error) {
	id, ok := phonemeIndex[normalizePhoneme(p)]
	if !ok {
		return 0, fmt.Errorf("unknown phoneme %q", p)
	}
	return id, nil
}

// PhonemeIDs maps a phoneme string list onto vocabulary ids.
func PhonemeIDs(ps []string) ([]int64, error) {
	ids := make([]int64, len(ps))
	for i, p := range ps {
		id, err := PhonemeID(p)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return ids, nil
}

// PhonemeName is the inverse of PhonemeID.
func PhonemeName(id int64) (string, bool) {
	if id < 0 || id >= NumPhonemes {
		return "", false
	}
	return phonemes[id], true
}

// IsMoraTail reports whether p can end a mora (a vowel, N, cl or pau).
func IsMoraTail(p string) bool {
	return moraTails[normalizePhoneme(p)]
}

// IsConsonant reports whether p is a known phoneme that cannot end a mora.
func IsConsonant(p string) bool {
	p = normalizePhoneme(p)
	_, known := phonemeIndex[p]
	return known && !moraTails[p]
}

// IsUnvoiced reports whether a mora ending in p carries no pitch.
func IsUnvoiced(p string) bool {
	return unvoicedTails[normalizePhoneme(p)]
}

var tailKana = map[string]string{
	"a": "ア", "i": "イ", "u": "ウ", "e": "エ", "o": "オ", "N": "ン", "cl": "ッ",
}

// vowelText is the katakana spelling of a consonant-less mora ending in
// vowel. Unvoiced vowels read as their voiced kana; anything without a
// spelling is returned unchanged.
func vowelText(vowel string) string {
	key := vowel
	switch vowel {
	case "A", "I", "U", "E", "O":
		key = strings.ToLower(vowel)
	}
	if kana, ok := tailKana[key]; ok {
		return kana
	}
	return key
}
