package engine

import (
	"errors"
	"math"
	"slices"
	"testing"

	"github.com/example/go-voicevox-core/internal/vverror"
)

func strp(s string) *string    { return &s }
func f32p(v float32) *float32  { return &v }
func approx(a, b float32) bool { return math.Abs(float64(a-b)) < 1e-5 }

// tesuto is the phrase テスト with zeroed lengths and pitches.
func tesuto() []AccentPhrase {
	return []AccentPhrase{{
		Moras: []Mora{
			{Text: "テ", Consonant: strp("t"), ConsonantLength: f32p(0), Vowel: "e"},
			{Text: "ス", Consonant: strp("s"), ConsonantLength: f32p(0), Vowel: "U"},
			{Text: "ト", Consonant: strp("t"), ConsonantLength: f32p(0), Vowel: "o"},
		},
		Accent: 1,
	}}
}

// --- Phonemes ---

func TestPhonemeIDs(t *testing.T) {
	_, phonemes := InitialProcess(tesuto())
	got, err := PhonemeIDs(phonemes)
	if err != nil {
		t.Fatalf("PhonemeIDs: %v", err)
	}
	want := []int64{0, 37, 14, 35, 6, 37, 30, 0}
	if !slices.Equal(got, want) {
		t.Errorf("PhonemeIDs = %v; want %v", got, want)
	}
}

func TestPhonemeIDSilAndUnknown(t *testing.T) {
	if id, err := PhonemeID("sil"); err != nil || id != PauID {
		t.Errorf("PhonemeID(sil) = %d, %v; want 0", id, err)
	}
	if _, err := PhonemeID("xx"); err == nil {
		t.Error("expected error for unknown phoneme")
	}
}

func TestPhonemeClasses(t *testing.T) {
	tests := []struct {
		p                         string
		tail, consonant, unvoiced bool
	}{
		{"a", true, false, false},
		{"U", true, false, true},
		{"N", true, false, false},
		{"cl", true, false, true},
		{"pau", true, false, true},
		{"ch", false, true, false},
		{"xx", false, false, false},
	}
	for _, tt := range tests {
		if got := IsMoraTail(tt.p); got != tt.tail {
			t.Errorf("IsMoraTail(%q) = %v; want %v", tt.p, got, tt.tail)
		}
		if got := IsConsonant(tt.p); got != tt.consonant {
			t.Errorf("IsConsonant(%q) = %v; want %v", tt.p, got, tt.consonant)
		}
		if got := IsUnvoiced(tt.p); got != tt.unvoiced {
			t.Errorf("IsUnvoiced(%q) = %v; want %v", tt.p, got, tt.unvoiced)
		}
	}
}

// --- Interpreter ---

func TestSplitMora(t *testing.T) {
	_, phonemes := InitialProcess(tesuto())
	consonants, vowels, indexes := SplitMora(phonemes)

	if want := []int64{-1, 37, 35, 37, -1}; !slices.Equal(consonants, want) {
		t.Errorf("consonants = %v; want %v", consonants, want)
	}
	if want := []int64{0, 14, 6, 30, 0}; !slices.Equal(vowels, want) {
		t.Errorf("vowels = %v; want %v", vowels, want)
	}
	if want := []int{0, 2, 4, 6, 7}; !slices.Equal(indexes, want) {
		t.Errorf("vowelIndexes = %v; want %v", indexes, want)
	}
}

func TestInitialProcessIncludesPauseMora(t *testing.T) {
	aps := tesuto()
	aps[0].PauseMora = &Mora{Text: "、", Vowel: "pau", VowelLength: 0.3}
	aps = append(aps, AccentPhrase{Moras: []Mora{{Text: "ア", Vowel: "a"}}, Accent: 1})

	moras, phonemes := InitialProcess(aps)
	if len(moras) != 5 {
		t.Errorf("len(moras) = %d; want 5", len(moras))
	}
	want := []string{"pau", "t", "e", "s", "U", "t", "o", "pau", "a", "pau"}
	if !slices.Equal(phonemes, want) {
		t.Errorf("phonemes = %v; want %v", phonemes, want)
	}
}

func TestPhonemeFrameLengthsRoundsHalfToEven(t *testing.T) {
	tests := []struct {
		name   string
		length float32
		speed  float32
		want   int
	}{
		{"exact", 0.064, 1, 6},
		{"half down to even", 0.096, 2, 4},
		{"half up to even", 0.032, 2, 2},
		{"speed up", 0.064, 0.8, 8},
		{"zero", 0, 1, 0},
		{"negative clamps", -0.5, 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PhonemeFrameLengths([]float32{tt.length}, tt.speed)
			if got[0] != tt.want {
				t.Errorf("PhonemeFrameLengths(%v, %v) = %d; want %d", tt.length, tt.speed, got[0], tt.want)
			}
		})
	}
}

func TestMoraF0(t *testing.T) {
	moras := []Mora{{Pitch: 5}, {Pitch: 0}, {Pitch: 6}}

	got := MoraF0(moras, 0, 2)
	want := []float32{0, 4.5, 0, 6.5, 0}
	for i := range want {
		if !approx(got[i], want[i]) {
			t.Fatalf("MoraF0 = %v; want %v", got, want)
		}
	}

	scaled := MoraF0(moras, 1, 1)
	if !approx(scaled[1], 10) || !approx(scaled[3], 12) {
		t.Errorf("pitchScale 1 = %v; want doubled pitches", scaled)
	}
}

func TestMoraF0AllUnvoiced(t *testing.T) {
	got := MoraF0([]Mora{{Pitch: 0}, {Pitch: 0}}, 0, 3)
	for i, v := range got {
		if v != 0 {
			t.Errorf("f0[%d] = %v; want 0", i, v)
		}
	}
}

func singleMoraQuery(interrogative bool) AudioQuery {
	q := NewAudioQuery([]AccentPhrase{{
		Moras:           []Mora{{Text: "ア", Vowel: "a", VowelLength: 0.064, Pitch: 5}},
		Accent:          1,
		IsInterrogative: interrogative,
	}})
	q.PrePhonemeLength = 0.032
	q.PostPhonemeLength = 0.032
	return q
}

func TestDecoderFeature(t *testing.T) {
	f, err := singleMoraQuery(false).DecoderFeature(true)
	if err != nil {
		t.Fatalf("DecoderFeature: %v", err)
	}
	if f.Frames() != 12 {
		t.Fatalf("Frames() = %d; want 12", f.Frames())
	}
	if len(f.Phoneme) != 12*NumPhonemes {
		t.Fatalf("len(Phoneme) = %d; want %d", len(f.Phoneme), 12*NumPhonemes)
	}

	for i := 0; i < 12; i++ {
		wantF0, wantID := float32(0), 0
		if i >= 3 && i < 9 {
			wantF0, wantID = 5, 7
		}
		if !approx(f.F0[i], wantF0) {
			t.Errorf("F0[%d] = %v; want %v", i, f.F0[i], wantF0)
		}
		row := f.Phoneme[i*NumPhonemes : (i+1)*NumPhonemes]
		if row[wantID] != 1 {
			t.Errorf("row %d is not one-hot at %d", i, wantID)
		}
	}
}

func TestDecoderFeatureHoldsF0AcrossConsonant(t *testing.T) {
	q := NewAudioQuery([]AccentPhrase{{
		Moras:  []Mora{{Text: "カ", Consonant: strp("k"), ConsonantLength: f32p(0.032), Vowel: "a", VowelLength: 0.064, Pitch: 5.5}},
		Accent: 1,
	}})
	q.PrePhonemeLength, q.PostPhonemeLength = 0.032, 0.032
	f, err := q.DecoderFeature(false)
	if err != nil {
		t.Fatalf("DecoderFeature: %v", err)
	}
	// pau(3) k(3) a(6) pau(3)
	if f.Frames() != 15 {
		t.Fatalf("Frames() = %d; want 15", f.Frames())
	}
	for i := 3; i < 12; i++ {
		if !approx(f.F0[i], 5.5) {
			t.Errorf("F0[%d] = %v; want 5.5", i, f.F0[i])
		}
	}
	if f.Phoneme[3*NumPhonemes+23] != 1 {
		t.Error("frame 3 is not k")
	}
}

func TestInterrogativeAddsOneMora(t *testing.T) {
	q := singleMoraQuery(true)

	plain, err := q.DecoderFeature(false)
	if err != nil {
		t.Fatal(err)
	}
	up, err := q.DecoderFeature(true)
	if err != nil {
		t.Fatal(err)
	}
	// 0.15 s is 14.0625 frames.
	if got := up.Frames() - plain.Frames(); got != 14 {
		t.Errorf("upspeak added %d frames; want 14", got)
	}

	adjusted := AdjustInterrogative(q.AccentPhrases)
	if n := len(adjusted[0].Moras); n != 2 {
		t.Fatalf("moras after adjust = %d; want 2", n)
	}
	extra := adjusted[0].Moras[1]
	if extra.Text != "ア" || extra.Vowel != "a" || extra.Consonant != nil {
		t.Errorf("extra mora = %+v", extra)
	}
	if !approx(extra.Pitch, 5.3) || !approx(extra.VowelLength, 0.15) {
		t.Errorf("extra pitch/length = %v/%v; want 5.3/0.15", extra.Pitch, extra.VowelLength)
	}
	if len(q.AccentPhrases[0].Moras) != 1 {
		t.Error("AdjustInterrogative modified its input")
	}
}

func TestAdjustInterrogativeEdgeCases(t *testing.T) {
	tests := []struct {
		name  string
		ap    AccentPhrase
		moras int
		pitch float32
	}{
		{"pitch capped", AccentPhrase{Moras: []Mora{{Vowel: "U", Pitch: 6.4}}, Accent: 1, IsInterrogative: true}, 2, 6.5},
		{"unvoiced last mora", AccentPhrase{Moras: []Mora{{Vowel: "a", Pitch: 0}}, Accent: 1, IsInterrogative: true}, 1, 0},
		{"not interrogative", AccentPhrase{Moras: []Mora{{Vowel: "a", Pitch: 5}}, Accent: 1}, 1, 5},
		{"no moras", AccentPhrase{Accent: 1, IsInterrogative: true}, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AdjustInterrogative([]AccentPhrase{tt.ap})[0].Moras
			if len(got) != tt.moras {
				t.Fatalf("moras = %d; want %d", len(got), tt.moras)
			}
			if tt.moras > 0 && !approx(got[len(got)-1].Pitch, tt.pitch) {
				t.Errorf("last pitch = %v; want %v", got[len(got)-1].Pitch, tt.pitch)
			}
		})
	}

	if got := AdjustInterrogative([]AccentPhrase{tests[0].ap})[0].Moras[1].Text; got != "ウ" {
		t.Errorf("unvoiced vowel text = %q; want ウ", got)
	}
}

func TestPaddingRoundTrip(t *testing.T) {
	f, err := singleMoraQuery(false).DecoderFeature(false)
	if err != nil {
		t.Fatal(err)
	}

	for _, pad := range []int{0, 1, PaddingFrames} {
		padded := PadDecoderFeature(f, pad)
		if padded.Frames() != f.Frames()+2*pad {
			t.Fatalf("pad %d: Frames() = %d", pad, padded.Frames())
		}
		for i := 0; i < pad; i++ {
			if padded.F0[i] != 0 || padded.Phoneme[i*NumPhonemes] != 1 {
				t.Fatalf("pad %d: leading row %d is not silent pau", pad, i)
			}
			last := padded.Frames() - 1 - i
			if padded.F0[last] != 0 || padded.Phoneme[last*NumPhonemes] != 1 {
				t.Fatalf("pad %d: trailing row %d is not silent pau", pad, last)
			}
		}

		wave := make([]float32, padded.Frames()*HopLength)
		if got := len(TrimPadding(wave, pad)); got != f.Frames()*HopLength {
			t.Errorf("pad %d: trimmed length = %d; want %d", pad, got, f.Frames()*HopLength)
		}
	}
}

func TestEnsureMinimumPhonemeLength(t *testing.T) {
	got := EnsureMinimumPhonemeLength([]float32{-0.5, 0, 0.005, 0.01, 0.2})
	want := []float32{0.01, 0.01, 0.01, 0.01, 0.2}
	if !slices.Equal(got, want) {
		t.Errorf("EnsureMinimumPhonemeLength = %v; want %v", got, want)
	}
}

func TestCreateAccentLists(t *testing.T) {
	lists := CreateAccentLists(tesuto())
	check := func(name string, got, want []int64) {
		t.Helper()
		if !slices.Equal(got, want) {
			t.Errorf("%s = %v; want %v", name, got, want)
		}
	}
	check("Start", lists.Start, []int64{0, 1, 0, 0, 0})
	check("End", lists.End, []int64{0, 1, 0, 0, 0})
	check("StartPhrase", lists.StartPhrase, []int64{0, 1, 0, 0, 0})
	check("EndPhrase", lists.EndPhrase, []int64{0, 0, 0, 1, 0})

	aps := tesuto()
	aps[0].Accent = 2
	lists = CreateAccentLists(aps)
	check("Start accent 2", lists.Start, []int64{0, 0, 1, 0, 0})
	check("End accent 2", lists.End, []int64{0, 0, 1, 0, 0})
}

func TestApplyPhonemeLengthAndPitch(t *testing.T) {
	aps := tesuto()
	lengths := []float32{0.1, 0.01, 0.02, 0.03, 0.04, 0.05, 0.06, 0.1}

	withLength := ApplyPhonemeLength(aps, lengths)
	m := withLength[0].Moras
	if !approx(*m[0].ConsonantLength, 0.01) || !approx(m[0].VowelLength, 0.02) {
		t.Errorf("mora 0 = %v/%v; want 0.01/0.02", *m[0].ConsonantLength, m[0].VowelLength)
	}
	if !approx(*m[2].ConsonantLength, 0.05) || !approx(m[2].VowelLength, 0.06) {
		t.Errorf("mora 2 = %v/%v; want 0.05/0.06", *m[2].ConsonantLength, m[2].VowelLength)
	}
	if *aps[0].Moras[0].ConsonantLength != 0 {
		t.Error("ApplyPhonemeLength modified its input")
	}

	_, phonemes := InitialProcess(aps)
	_, vowels, _ := SplitMora(phonemes)
	withPitch := ApplyMoraPitch(withLength, []float32{0, 5.1, 5.2, 5.3, 0}, vowels)
	p := withPitch[0].Moras
	if !approx(p[0].Pitch, 5.1) || p[1].Pitch != 0 || !approx(p[2].Pitch, 5.3) {
		t.Errorf("pitches = %v, %v, %v; want 5.1, 0 (unvoiced U), 5.3", p[0].Pitch, p[1].Pitch, p[2].Pitch)
	}
}

// --- AudioQuery ---

func TestDecodeAudioQueryDefaults(t *testing.T) {
	q, err := DecodeAudioQuery([]byte(`{"accent_phrases": [], "speedScale": 1.5}`))
	if err != nil {
		t.Fatalf("DecodeAudioQuery: %v", err)
	}
	if q.SpeedScale != 1.5 {
		t.Errorf("SpeedScale = %v; want 1.5", q.SpeedScale)
	}
	if q.IntonationScale != 1 || q.VolumeScale != 1 || q.PitchScale != 0 {
		t.Errorf("scales = %v/%v/%v; want 1/1/0", q.IntonationScale, q.VolumeScale, q.PitchScale)
	}
	if !approx(q.PrePhonemeLength, 0.1) || !approx(q.PostPhonemeLength, 0.1) {
		t.Errorf("pre/post = %v/%v; want 0.1/0.1", q.PrePhonemeLength, q.PostPhonemeLength)
	}
	if q.OutputSamplingRate != DefaultSamplingRate || q.OutputStereo {
		t.Errorf("output = %d stereo=%v; want 24000 mono", q.OutputSamplingRate, q.OutputStereo)
	}
}

func TestDecodeAudioQueryInvalidJSON(t *testing.T) {
	_, err := DecodeAudioQuery([]byte(`{"accent_phrases": 3}`))
	if !errors.Is(err, vverror.ErrInvalidQuery) {
		t.Errorf("err = %v; want InvalidQuery", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*AudioQuery)
	}{
		{"consonant without length", func(q *AudioQuery) { q.AccentPhrases[0].Moras[0].ConsonantLength = nil }},
		{"vowel as consonant", func(q *AudioQuery) { q.AccentPhrases[0].Moras[0].Consonant = strp("a") }},
		{"consonant as vowel", func(q *AudioQuery) { q.AccentPhrases[0].Moras[0].Vowel = "k" }},
		{"unknown vowel", func(q *AudioQuery) { q.AccentPhrases[0].Moras[0].Vowel = "q" }},
		{"zero accent", func(q *AudioQuery) { q.AccentPhrases[0].Accent = 0 }},
		{"zero rate", func(q *AudioQuery) { q.OutputSamplingRate = 0 }},
		{"zero speed", func(q *AudioQuery) { q.SpeedScale = 0 }},
		{"negative speed", func(q *AudioQuery) { q.SpeedScale = -1 }},
		{"infinite speed", func(q *AudioQuery) { q.SpeedScale = float32(math.Inf(1)) }},
		{"nan speed", func(q *AudioQuery) { q.SpeedScale = float32(math.NaN()) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := NewAudioQuery(tesuto())
			tt.mutate(&q)
			if err := q.Validate(); !errors.Is(err, vverror.ErrInvalidQuery) {
				t.Errorf("Validate() = %v; want InvalidQuery", err)
			}
		})
	}

	if err := NewAudioQuery(tesuto()).Validate(); err != nil {
		t.Errorf("valid query: %v", err)
	}
}

func TestDecoderFeatureRejectsInvalidPhrase(t *testing.T) {
	q := NewAudioQuery(tesuto())
	q.AccentPhrases[0].Moras[1].Vowel = "zz"
	if _, err := q.DecoderFeature(false); !errors.Is(err, vverror.ErrInvalidQuery) {
		t.Errorf("err = %v; want InvalidQuery", err)
	}
}
