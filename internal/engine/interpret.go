package engine

import (
	"math"

	"github.com/example/go-voicevox-core/internal/vverror"
)

const (
	// HopLength is the number of samples one feature frame renders to.
	HopLength = 256
	// FrameRate is feature frames per second at DefaultSamplingRate.
	FrameRate = float32(DefaultSamplingRate) / HopLength
	// PaddingFrames of silence surround the features fed to a vocoder,
	// about 0.4 s. The decoder distorts near sequence edges.
	PaddingFrames = 38
	// MinPhonemeLength floors predicted durations, in seconds.
	MinPhonemeLength float32 = 0.01
)

const (
	interrogativeVowelLength float32 = 0.15
	interrogativePitchStep   float32 = 0.3
	interrogativeMaxPitch    float32 = 6.5
)

// InitialProcess flattens the phrases' moras, each phrase's pause mora
// after its moras, and lists their phonemes bracketed by pau.
func InitialProcess(aps []AccentPhrase) ([]Mora, []string) {
	var moras []Mora
	for _, ap := range aps {
		moras = append(moras, ap.Moras...)
		if ap.PauseMora != nil {
			moras = append(moras, *ap.PauseMora)
		}
	}

	phonemes := []string{"pau"}
	for _, m := range moras {
		if m.Consonant != nil {
			phonemes = append(phonemes, *m.Consonant)
		}
		phonemes = append(phonemes, m.Vowel)
	}
	phonemes = append(phonemes, "pau")
	return moras, phonemes
}

// AdjustInterrogative appends a rising mora to every interrogative phrase
// whose last mora is voiced. The input is not modified.
func AdjustInterrogative(aps []AccentPhrase) []AccentPhrase {
	out := CloneAccentPhrases(aps)
	for i, ap := range out {
		if !ap.IsInterrogative || len(ap.Moras) == 0 {
			continue
		}
		last := ap.Moras[len(ap.Moras)-1]
		if last.Pitch == 0 {
			continue
		}
		out[i].Moras = append(out[i].Moras, Mora{
			Text:        vowelText(last.Vowel),
			Vowel:       last.Vowel,
			VowelLength: interrogativeVowelLength,
			Pitch:       min(last.Pitch+interrogativePitchStep, interrogativeMaxPitch),
		})
	}
	return out
}

// SplitMora finds the mora tails of a phoneme list. It returns, per mora,
// the consonant id (-1 when the tail directly follows the previous tail)
// and the tail id, plus the tail positions in phonemes. The list must start
// with a tail, as InitialProcess output does.
func SplitMora(phonemes []string) (consonants, vowels []int64, vowelIndexes []int) {
	for i, p := range phonemes {
		if IsMoraTail(p) {
			vowelIndexes = append(vowelIndexes, i)
			vowels = append(vowels, mustID(p))
		}
	}
	if len(vowelIndexes) == 0 {
		return nil, nil, nil
	}

	consonants = []int64{-1}
	for i := 0; i < len(vowelIndexes)-1; i++ {
		prev, next := vowelIndexes[i], vowelIndexes[i+1]
		if next-prev == 1 {
			consonants = append(consonants, -1)
		} else {
			consonants = append(consonants, mustID(phonemes[next-1]))
		}
	}
	return consonants, vowels, vowelIndexes
}

func mustID(p string) int64 {
	id, err := PhonemeID(p)
	if err != nil {
		panic("engine: " + err.Error())
	}
	return id
}

// PhonemeLengths lists the seconds each phoneme of InitialProcess output
// lasts: pre, then consonant and vowel lengths per mora, then post.
func PhonemeLengths(moras []Mora, pre, post float32) []float32 {
	lengths := []float32{pre}
	for _, m := range moras {
		if m.ConsonantLength != nil {
			lengths = append(lengths, *m.ConsonantLength)
		}
		lengths = append(lengths, m.VowelLength)
	}
	return append(lengths, post)
}

// PhonemeFrameLengths converts seconds to frames. Both roundings are half
// to even, which keeps output identical to the reference engine.
func PhonemeFrameLengths(lengths []float32, speedScale float32) []int {
	frames := make([]int, len(lengths))
	for i, l := range lengths {
		scaled := float32(math.RoundToEven(float64(l*FrameRate))) / speedScale
		n := math.RoundToEven(float64(scaled))
		if n > 0 && !math.IsInf(n, 1) {
			frames[i] = int(n)
		}
	}
	return frames
}

// MoraF0 returns one f0 per mora bracketed by zeros for the surrounding
// pauses. Pitches are scaled by 2^pitchScale, then voiced values are spread
// around their mean by intonationScale.
func MoraF0(moras []Mora, pitchScale, intonationScale float32) []float32 {
	f0 := make([]float32, 0, len(moras)+2)
	voiced := make([]bool, 0, len(moras)+2)
	f0 = append(f0, 0)
	voiced = append(voiced, false)

	factor := float32(math.Pow(2, float64(pitchScale)))
	var sum float32
	var count int
	for _, m := range moras {
		v := m.Pitch * factor
		f0 = append(f0, v)
		voiced = append(voiced, v > 0)
		if v > 0 {
			sum += v
			count++
		}
	}
	f0 = append(f0, 0)
	voiced = append(voiced, false)

	mean := sum / float32(count)
	if !math.IsNaN(float64(mean)) {
		for i := range f0 {
			if voiced[i] {
				f0[i] = (f0[i]-mean)*intonationScale + mean
			}
		}
	}
	return f0
}

// DecoderFeature is the frame-aligned vocoder input. Phoneme holds one
// one-hot row of NumPhonemes values per frame.
type DecoderFeature struct {
	F0      []float32
	Phoneme []float32
}

func (f DecoderFeature) Frames() int {
	return len(f.F0)
}

// DecoderFeature interprets the query into vocoder features. With upspeak
// interrogative phrases get their rising mora first.
func (q AudioQuery) DecoderFeature(upspeak bool) (DecoderFeature, error) {
	aps := q.AccentPhrases
	if upspeak {
		aps = AdjustInterrogative(aps)
	}
	if err := ValidateAccentPhrases(aps); err != nil {
		return DecoderFeature{}, err
	}

	moras, phonemes := InitialProcess(aps)
	ids, err := PhonemeIDs(phonemes)
	if err != nil {
		return DecoderFeature{}, vverror.Wrap(vverror.KindInvalidQuery, "audio query", err)
	}

	frames := PhonemeFrameLengths(PhonemeLengths(moras, q.PrePhonemeLength, q.PostPhonemeLength), q.SpeedScale)
	moraF0 := MoraF0(moras, q.PitchScale, q.IntonationScale)
	_, _, vowelIndexes := SplitMora(phonemes)

	total := 0
	for _, n := range frames {
		total += n
	}
	feature := DecoderFeature{
		F0:      make([]float32, 0, total),
		Phoneme: make([]float32, 0, total*NumPhonemes),
	}

	pending, mora, next := 0, 0, 0
	for i, n := range frames {
		for range n {
			row := make([]float32, NumPhonemes)
			row[ids[i]] = 1
			feature.Phoneme = append(feature.Phoneme, row...)
		}
		pending += n

		// f0 is held from a mora's first phoneme through its tail.
		if next < len(vowelIndexes) && i == vowelIndexes[next] {
			for range pending {
				feature.F0 = append(feature.F0, moraF0[mora])
			}
			mora++
			next++
			pending = 0
		}
	}
	return feature, nil
}

// PadDecoderFeature surrounds f with padFrames of silent pau frames.
func PadDecoderFeature(f DecoderFeature, padFrames int) DecoderFeature {
	rows := f.Frames() + 2*padFrames
	out := DecoderFeature{
		F0:      make([]float32, rows),
		Phoneme: make([]float32, rows*NumPhonemes),
	}
	copy(out.F0[padFrames:], f.F0)
	copy(out.Phoneme[padFrames*NumPhonemes:], f.Phoneme)
	for i := 0; i < padFrames; i++ {
		out.Phoneme[i*NumPhonemes+int(PauID)] = 1
		out.Phoneme[(rows-1-i)*NumPhonemes+int(PauID)] = 1
	}
	return out
}

// TrimPadding removes padFrames*HopLength samples from both ends of wave.
func TrimPadding(wave []float32, padFrames int) []float32 {
	n := padFrames * HopLength
	if len(wave) <= 2*n {
		return []float32{}
	}
	return wave[n : len(wave)-n]
}

// EnsureMinimumPhonemeLength floors every duration at MinPhonemeLength in
// place.
func EnsureMinimumPhonemeLength(lengths []float32) []float32 {
	for i, l := range lengths {
		if l < MinPhonemeLength {
			lengths[i] = MinPhonemeLength
		}
	}
	return lengths
}

// AccentLists are the per-mora accent markers PredictIntonation takes.
type AccentLists struct {
	Start       []int64
	End         []int64
	StartPhrase []int64
	EndPhrase   []int64
}

// CreateAccentLists marks, for each mora of InitialProcess output, the
// accent rise, the accent fall and the phrase boundaries. Phrases must
// have validated accents.
func CreateAccentLists(aps []AccentPhrase) AccentLists {
	base := AccentLists{
		Start: []int64{0}, End: []int64{0}, StartPhrase: []int64{0}, EndPhrase: []int64{0},
	}
	for _, ap := range aps {
		start := 1
		if ap.Accent == 1 {
			start = 0
		}
		base.Start = appendAccentMarks(base.Start, ap, start)
		base.End = appendAccentMarks(base.End, ap, ap.Accent-1)
		base.StartPhrase = appendAccentMarks(base.StartPhrase, ap, 0)
		base.EndPhrase = appendAccentMarks(base.EndPhrase, ap, -1)
	}
	base.Start = append(base.Start, 0)
	base.End = append(base.End, 0)
	base.StartPhrase = append(base.StartPhrase, 0)
	base.EndPhrase = append(base.EndPhrase, 0)

	_, phonemes := InitialProcess(aps)
	_, _, vowelIndexes := SplitMora(phonemes)

	out := AccentLists{}
	for _, vi := range vowelIndexes {
		out.Start = append(out.Start, base.Start[vi])
		out.End = append(out.End, base.End[vi])
		out.StartPhrase = append(out.StartPhrase, base.StartPhrase[vi])
		out.EndPhrase = append(out.EndPhrase, base.EndPhrase[vi])
	}
	return out
}

// appendAccentMarks marks the mora at point, counting from the end when
// point is negative. Consonants repeat their mora's mark; a pause mora is
// never marked.
func appendAccentMarks(list []int64, ap AccentPhrase, point int) []int64 {
	for i, m := range ap.Moras {
		var v int64
		if i == point || (point < 0 && i == len(ap.Moras)+point) {
			v = 1
		}
		list = append(list, v)
		if m.Consonant != nil {
			list = append(list, v)
		}
	}
	if ap.PauseMora != nil {
		list = append(list, 0)
	}
	return list
}

// ApplyPhonemeLength writes per-phoneme durations, indexed like
// InitialProcess phonemes, onto copies of the phrases.
func ApplyPhonemeLength(aps []AccentPhrase, lengths []float32) []AccentPhrase {
	out := CloneAccentPhrases(aps)
	_, phonemes := InitialProcess(out)
	_, _, vowelIndexes := SplitMora(phonemes)

	index := 0
	set := func(m *Mora) {
		vi := vowelIndexes[index+1]
		if m.Consonant != nil {
			l := lengths[vi-1]
			m.ConsonantLength = &l
		}
		m.VowelLength = lengths[vi]
		index++
	}
	for i := range out {
		for j := range out[i].Moras {
			set(&out[i].Moras[j])
		}
		if out[i].PauseMora != nil {
			// Pause moras keep their consonant length as given.
			cl := out[i].PauseMora.ConsonantLength
			set(out[i].PauseMora)
			out[i].PauseMora.ConsonantLength = cl
		}
	}
	return out
}

// ApplyMoraPitch writes per-mora f0, indexed like SplitMora tails, onto
// copies of the phrases. Unvoiced tails get pitch 0.
func ApplyMoraPitch(aps []AccentPhrase, f0 []float32, vowels []int64) []AccentPhrase {
	out := CloneAccentPhrases(aps)
	f0 = append([]float32(nil), f0...)
	for i, v := range vowels {
		if name, ok := PhonemeName(v); ok && IsUnvoiced(name) {
			f0[i] = 0
		}
	}

	index := 0
	for i := range out {
		for j := range out[i].Moras {
			out[i].Moras[j].Pitch = f0[index+1]
			index++
		}
		if out[i].PauseMora != nil {
			out[i].PauseMora.Pitch = f0[index+1]
			index++
		}
	}
	return out
}
