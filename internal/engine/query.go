// Package engine turns AudioQuery documents into the tensors the acoustic
// models consume and writes model output back onto accent phrases. Every
// function here is pure and deterministic.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"

	"github.com/example/go-voicevox-core/internal/vverror"
)

// DefaultSamplingRate is the rate every acoustic model renders at.
const DefaultSamplingRate = 24000

type Mora struct {
	Text            string   `json:"text"`
	Consonant       *string  `json:"consonant"`
	ConsonantLength *float32 `json:"consonant_length"`
	Vowel           string   `json:"vowel"`
	VowelLength     float32  `json:"vowel_length"`
	Pitch           float32  `json:"pitch"`
}

type AccentPhrase struct {
	Moras           []Mora `json:"moras"`
	Accent          int    `json:"accent"`
	PauseMora       *Mora  `json:"pause_mora"`
	IsInterrogative bool   `json:"is_interrogative"`
}

// AudioQuery describes one utterance and how to render it.
type AudioQuery struct {
	AccentPhrases      []AccentPhrase `json:"accent_phrases"`
	SpeedScale         float32        `json:"speedScale"`
	PitchScale         float32        `json:"pitchScale"`
	IntonationScale    float32        `json:"intonationScale"`
	VolumeScale        float32        `json:"volumeScale"`
	PrePhonemeLength   float32        `json:"prePhonemeLength"`
	PostPhonemeLength  float32        `json:"postPhonemeLength"`
	OutputSamplingRate uint32         `json:"outputSamplingRate"`
	OutputStereo       bool           `json:"outputStereo"`
	Kana               *string        `json:"kana,omitempty"`
}

// NewAudioQuery wraps accent phrases with the default rendering parameters.
func NewAudioQuery(accentPhrases []AccentPhrase) AudioQuery {
	return AudioQuery{
		AccentPhrases:      accentPhrases,
		SpeedScale:         1,
		PitchScale:         0,
		IntonationScale:    1,
		VolumeScale:        1,
		PrePhonemeLength:   0.1,
		PostPhonemeLength:  0.1,
		OutputSamplingRate: DefaultSamplingRate,
	}
}

// DecodeAudioQuery parses a query; fields absent from data keep their
// defaults.
func DecodeAudioQuery(data []byte) (AudioQuery, error) {
	q := NewAudioQuery(nil)
	if err := json.Unmarshal(data, &q); err != nil {
		return AudioQuery{}, vverror.Wrap(vverror.KindInvalidQuery, "audio query", err)
	}
	if q.AccentPhrases == nil {
		q.AccentPhrases = []AccentPhrase{}
	}
	return q, nil
}

// Clone returns a deep copy.
func (q AudioQuery) Clone() AudioQuery {
	q.AccentPhrases = CloneAccentPhrases(q.AccentPhrases)
	return q
}

// CloneAccentPhrases deep-copies phrases so edits never alias the input.
func CloneAccentPhrases(aps []AccentPhrase) []AccentPhrase {
	if aps == nil {
		return nil
	}
	out := make([]AccentPhrase, len(aps))
	for i, ap := range aps {
		out[i] = ap
		out[i].Moras = make([]Mora, len(ap.Moras))
		for j, m := range ap.Moras {
			out[i].Moras[j] = m.clone()
		}
		if ap.PauseMora != nil {
			pm := ap.PauseMora.clone()
			out[i].PauseMora = &pm
		}
	}
	return out
}

func (m Mora) clone() Mora {
	if m.Consonant != nil {
		c := *m.Consonant
		m.Consonant = &c
	}
	if m.ConsonantLength != nil {
		l := *m.ConsonantLength
		m.ConsonantLength = &l
	}
	return m
}

// Validate rejects a mora whose consonant and consonant length disagree or
// whose phonemes are in the wrong class. Non-finite or negative lengths are
// logged only.
func (m Mora) Validate() error {
	if (m.Consonant == nil) != (m.ConsonantLength == nil) {
		return vverror.New(vverror.KindInvalidQuery, "mora", "consonant and consonant_length must be given together (text %q)", m.Text)
	}
	if m.Consonant != nil {
		if !IsConsonant(*m.Consonant) {
			return vverror.New(vverror.KindInvalidQuery, "mora", "%q is not a consonant", *m.Consonant)
		}
		warnNonNegative("consonant_length", *m.ConsonantLength)
	}
	if _, err := PhonemeID(m.Vowel); err != nil || IsConsonant(m.Vowel) {
		return vverror.New(vverror.KindInvalidQuery, "mora", "%q is not a vowel", m.Vowel)
	}
	warnNonNegative("vowel_length", m.VowelLength)
	warnNonFinite("pitch", m.Pitch)
	return nil
}

func (ap AccentPhrase) Validate() error {
	for _, m := range ap.Moras {
		if err := m.Validate(); err != nil {
			return err
		}
	}
	if ap.PauseMora != nil {
		if err := ap.PauseMora.Validate(); err != nil {
			return err
		}
	}
	if ap.Accent == 0 {
		return vverror.New(vverror.KindInvalidQuery, "accent phrase", "accent must be positive")
	}
	if ap.Accent < 0 {
		return vverror.New(vverror.KindInvalidQuery, "accent phrase", "accent %d is negative", ap.Accent)
	}
	if ap.Accent > len(ap.Moras) {
		slog.Warn("accent exceeds mora count", "accent", ap.Accent, "moras", len(ap.Moras))
	}
	return nil
}

// ValidateAccentPhrases validates every phrase.
func ValidateAccentPhrases(aps []AccentPhrase) error {
	for i, ap := range aps {
		if err := ap.Validate(); err != nil {
			return fmt.Errorf("accent_phrases[%d]: %w", i, err)
		}
	}
	return nil
}

// Validate checks the phrases, the speed and the output format. The other
// scales are logged when non-finite or, where a sign matters, negative.
func (q AudioQuery) Validate() error {
	if err := ValidateAccentPhrases(q.AccentPhrases); err != nil {
		return err
	}
	if q.OutputSamplingRate == 0 {
		return vverror.New(vverror.KindInvalidQuery, "audio query", "outputSamplingRate must be positive")
	}
	if s := float64(q.SpeedScale); !(s > 0) || math.IsInf(s, 1) {
		return vverror.New(vverror.KindInvalidQuery, "audio query", "speedScale must be positive and finite, got %v", s)
	}
	warnNonFinite("pitchScale", q.PitchScale)
	warnNonFinite("intonationScale", q.IntonationScale)
	warnNonNegative("volumeScale", q.VolumeScale)
	warnNonNegative("prePhonemeLength", q.PrePhonemeLength)
	warnNonNegative("postPhonemeLength", q.PostPhonemeLength)
	return nil
}

func warnNonFinite(field string, v float32) {
	f := float64(v)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		slog.Warn("audio query value is not finite", "field", field, "value", f)
	}
}

func warnNonNegative(field string, v float32) {
	warnNonFinite(field, v)
	if v < 0 {
		slog.Warn("audio query value is negative", "field", field, "value", float64(v))
	}
}

// TextAnalyzer turns text into accent phrases with empty lengths and
// pitches. Implementations live outside this module.
type TextAnalyzer interface {
	Analyze(ctx context.Context, text string) ([]AccentPhrase, error)
}

// TextAnalyzerFunc adapts a function to TextAnalyzer.
type TextAnalyzerFunc func(ctx context.Context, text string) ([]AccentPhrase, error)

func (f TextAnalyzerFunc) Analyze(ctx context.Context, text string) ([]AccentPhrase, error) {
	return f(ctx, text)
}
