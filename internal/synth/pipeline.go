package synth

import (
	"context"

	"github.com/example/go-voicevox-core/internal/audio"
	"github.com/example/go-voicevox-core/internal/engine"
	"github.com/example/go-voicevox-core/internal/infer"
	"github.com/example/go-voicevox-core/internal/onnx"
	"github.com/example/go-voicevox-core/internal/voicemodel"
	"github.com/example/go-voicevox-core/internal/vverror"
)

// renderMargin is the frames of context rendered on each side of a Render
// range and cut afterwards. It covers the vocoder's receptive field.
const renderMargin = 14

// outputFormat is the PCM format a query asks for.
func outputFormat(q engine.AudioQuery) audio.Format {
	return audio.Format{
		SampleRate: int(q.OutputSamplingRate),
		Stereo:     q.OutputStereo,
		Volume:     q.VolumeScale,
	}
}

// SynthesizeWaveform renders query for style to a 24 kHz float waveform of
// sum(frames)*HopLength samples.
func (s *Synthesizer) SynthesizeWaveform(ctx context.Context, query engine.AudioQuery, style voicemodel.StyleID, opts SynthesisOptions) ([]float32, error) {
	h, err := s.resolve(style, infer.DomainTalk, infer.DomainExperimentalTalk)
	if err != nil {
		return nil, err
	}
	defer h.Release()

	if err := query.Validate(); err != nil {
		return nil, err
	}
	feature, err := query.DecoderFeature(opts.EnableInterrogativeUpspeak)
	if err != nil {
		return nil, err
	}
	wave, err := s.decode(ctx, h, feature)
	if err != nil {
		return nil, err
	}
	if err := checkFinite(infer.OpDecode.String(), wave); err != nil {
		return nil, err
	}
	return wave, nil
}

// Synthesize renders query for style as a WAV file in the query's output
// format.
func (s *Synthesizer) Synthesize(ctx context.Context, query engine.AudioQuery, style voicemodel.StyleID, opts SynthesisOptions) ([]byte, error) {
	wave, err := s.SynthesizeWaveform(ctx, query, style, opts)
	if err != nil {
		return nil, err
	}
	wav, err := audio.EncodeWAV(wave, outputFormat(query))
	if err != nil {
		return nil, vverror.Wrap(vverror.KindInvalidQuery, "audio query", err)
	}
	return wav, nil
}

// AudioFeature is the precomputed intermediate spectrogram of a query,
// padded with PaddingFrameLength silent frames on each side. Render turns
// any frame range of it into PCM.
type AudioFeature struct {
	Style              voicemodel.StyleID
	FrameLength        int
	PaddingFrameLength int
	// Spec is row-major with SpecDim values per frame.
	Spec    []float32
	SpecDim int
	Query   engine.AudioQuery
}

// PrecomputeRender runs the query up to the intermediate spectrogram. The
// style must be served by an experimental talk model.
func (s *Synthesizer) PrecomputeRender(ctx context.Context, query engine.AudioQuery, style voicemodel.StyleID, opts SynthesisOptions) (*AudioFeature, error) {
	h, err := s.resolve(style, infer.DomainExperimentalTalk)
	if err != nil {
		return nil, err
	}
	defer h.Release()

	if err := query.Validate(); err != nil {
		return nil, err
	}
	feature, err := query.DecoderFeature(opts.EnableInterrogativeUpspeak)
	if err != nil {
		return nil, err
	}
	padded := engine.PadDecoderFeature(feature, engine.PaddingFrames)
	spec, err := s.generateFullIntermediate(ctx, h, padded)
	if err != nil {
		return nil, err
	}
	data, err := onnx.ExtractFloat32(spec)
	if err != nil {
		return nil, vverror.Wrap(vverror.KindInferenceFailed, infer.OpGenerateFullIntermediate.String(), err)
	}

	return &AudioFeature{
		Style:              style,
		FrameLength:        feature.Frames(),
		PaddingFrameLength: engine.PaddingFrames,
		Spec:               data,
		SpecDim:            int(spec.Shape()[1]),
		Query:              query.Clone(),
	}, nil
}

// Render returns 16-bit PCM for frames [start, end) of feature in the
// feature's query output format. The range is clipped to the feature; an
// empty range yields no samples.
func (s *Synthesizer) Render(ctx context.Context, feature *AudioFeature, start, end int) ([]byte, error) {
	start = min(max(start, 0), feature.FrameLength)
	end = min(max(end, 0), feature.FrameLength)
	if start >= end {
		return []byte{}, nil
	}
	if renderMargin > feature.PaddingFrameLength {
		return nil, invalid("render", "padding of %d frames is shorter than the render margin", feature.PaddingFrameLength)
	}

	h, err := s.resolve(feature.Style, infer.DomainExperimentalTalk)
	if err != nil {
		return nil, err
	}
	defer h.Release()

	from := feature.PaddingFrameLength + start - renderMargin
	to := feature.PaddingFrameLength + end + renderMargin
	segment, err := onnx.Matrix(feature.Spec[from*feature.SpecDim:to*feature.SpecDim], to-from)
	if err != nil {
		return nil, tensorErr(infer.OpRenderAudioSegment, err)
	}
	wave, err := s.renderAudioSegment(ctx, h, segment)
	if err != nil {
		return nil, err
	}
	if want := (to - from) * engine.HopLength; len(wave) != want {
		return nil, vverror.New(vverror.KindInferenceFailed, infer.OpRenderAudioSegment.String(),
			"got %d samples for %d frames", len(wave), to-from)
	}
	wave = wave[renderMargin*engine.HopLength : len(wave)-renderMargin*engine.HopLength]
	if err := checkFinite(infer.OpRenderAudioSegment.String(), wave); err != nil {
		return nil, err
	}

	pcm, err := audio.PCM16LE(wave, outputFormat(feature.Query))
	if err != nil {
		return nil, vverror.Wrap(vverror.KindInvalidQuery, "audio query", err)
	}
	return pcm, nil
}

// ReplacePhonemeLength predicts consonant and vowel lengths for copies of
// aps.
func (s *Synthesizer) ReplacePhonemeLength(ctx context.Context, aps []engine.AccentPhrase, style voicemodel.StyleID) ([]engine.AccentPhrase, error) {
	if err := engine.ValidateAccentPhrases(aps); err != nil {
		return nil, err
	}
	_, phonemes := engine.InitialProcess(aps)
	ids, err := engine.PhonemeIDs(phonemes)
	if err != nil {
		return nil, vverror.Wrap(vverror.KindInvalidQuery, "accent phrases", err)
	}
	lengths, err := s.PredictDuration(ctx, ids, style)
	if err != nil {
		return nil, err
	}
	return engine.ApplyPhonemeLength(aps, lengths), nil
}

// ReplaceMoraPitch predicts mora pitches for copies of aps.
func (s *Synthesizer) ReplaceMoraPitch(ctx context.Context, aps []engine.AccentPhrase, style voicemodel.StyleID) ([]engine.AccentPhrase, error) {
	if err := engine.ValidateAccentPhrases(aps); err != nil {
		return nil, err
	}
	_, phonemes := engine.InitialProcess(aps)
	consonants, vowels, _ := engine.SplitMora(phonemes)
	lists := engine.CreateAccentLists(aps)

	f0, err := s.PredictIntonation(ctx, IntonationInput{
		Vowels:            vowels,
		Consonants:        consonants,
		StartAccent:       lists.Start,
		EndAccent:         lists.End,
		StartAccentPhrase: lists.StartPhrase,
		EndAccentPhrase:   lists.EndPhrase,
	}, style)
	if err != nil {
		return nil, err
	}
	if len(f0) != len(vowels) {
		return nil, vverror.New(vverror.KindInferenceFailed, infer.OpPredictIntonation.String(),
			"got %d pitches for %d moras", len(f0), len(vowels))
	}
	return engine.ApplyMoraPitch(aps, f0, vowels), nil
}

// ReplaceMoraData predicts lengths, then pitches.
func (s *Synthesizer) ReplaceMoraData(ctx context.Context, aps []engine.AccentPhrase, style voicemodel.StyleID) ([]engine.AccentPhrase, error) {
	aps, err := s.ReplacePhonemeLength(ctx, aps, style)
	if err != nil {
		return nil, err
	}
	return s.ReplaceMoraPitch(ctx, aps, style)
}

// CreateAccentPhrases analyzes text with the configured text analyzer and
// fills in lengths and pitches for style.
func (s *Synthesizer) CreateAccentPhrases(ctx context.Context, text string, style voicemodel.StyleID) ([]engine.AccentPhrase, error) {
	if s.opts.TextAnalyzer == nil {
		return nil, vverror.New(vverror.KindLinguisticAnalysisFailed, "", "no text analyzer is configured")
	}
	if !s.registry.IsLoadedByStyle(style) {
		_, _, err := s.registry.Character(style)
		return nil, err
	}
	aps, err := s.opts.TextAnalyzer.Analyze(ctx, text)
	if err != nil {
		return nil, vverror.Wrap(vverror.KindLinguisticAnalysisFailed, "", err)
	}
	return s.ReplaceMoraData(ctx, aps, style)
}

// CreateAudioQuery builds a query with default parameters for text.
func (s *Synthesizer) CreateAudioQuery(ctx context.Context, text string, style voicemodel.StyleID) (engine.AudioQuery, error) {
	aps, err := s.CreateAccentPhrases(ctx, text, style)
	if err != nil {
		return engine.AudioQuery{}, err
	}
	return engine.NewAudioQuery(aps), nil
}

// TTS synthesizes text in one step.
func (s *Synthesizer) TTS(ctx context.Context, text string, style voicemodel.StyleID, opts TTSOptions) ([]byte, error) {
	query, err := s.CreateAudioQuery(ctx, text, style)
	if err != nil {
		return nil, err
	}
	return s.Synthesize(ctx, query, style, opts.synthesis())
}
