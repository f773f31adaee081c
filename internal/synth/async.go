package synth

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/semaphore"

	"github.com/example/go-voicevox-core/internal/engine"
	"github.com/example/go-voicevox-core/internal/voicemodel"
)

// ErrCanceled is returned when the caller's context ends while its call is
// still queued. It matches context.Canceled under errors.Is.
var ErrCanceled = fmt.Errorf("synth: canceled while queued: %w", context.Canceled)

// Async runs a Synthesizer's blocking calls on a bounded pool. A call
// started from the queue runs to completion even if its caller's context
// ends meanwhile.
type Async struct {
	sync *Synthesizer
	sem  *semaphore.Weighted
}

// NewAsync wraps s with a pool of workers concurrent calls.
func NewAsync(s *Synthesizer, workers int) *Async {
	if workers < 1 {
		workers = 1
	}
	return &Async{sync: s, sem: semaphore.NewWeighted(int64(workers))}
}

// Sync returns the wrapped synthesizer for cheap, non-blocking lookups.
func (a *Async) Sync() *Synthesizer {
	return a.sync
}

func submit[T any](ctx context.Context, a *Async, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	err := ctx.Err()
	if err == nil {
		err = a.sem.Acquire(ctx, 1)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return zero, fmt.Errorf("%w: %w", ErrCanceled, context.DeadlineExceeded)
		}
		return zero, ErrCanceled
	}
	defer a.sem.Release(1)
	return fn(context.WithoutCancel(ctx))
}

func (a *Async) LoadModel(ctx context.Context, pkg *voicemodel.Package) error {
	_, err := submit(ctx, a, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, a.sync.LoadModel(ctx, pkg)
	})
	return err
}

// LoadModelFromPath reads and loads the package at path on the pool.
func (a *Async) LoadModelFromPath(ctx context.Context, path string) (voicemodel.ID, error) {
	return submit(ctx, a, func(ctx context.Context) (voicemodel.ID, error) {
		return a.sync.LoadModelFromPath(ctx, path)
	})
}

func (a *Async) UnloadModel(ctx context.Context, id voicemodel.ID) error {
	_, err := submit(ctx, a, func(context.Context) (struct{}, error) {
		return struct{}{}, a.sync.UnloadModel(id)
	})
	return err
}

func (a *Async) PredictDuration(ctx context.Context, phonemes []int64, style voicemodel.StyleID) ([]float32, error) {
	return submit(ctx, a, func(ctx context.Context) ([]float32, error) {
		return a.sync.PredictDuration(ctx, phonemes, style)
	})
}

func (a *Async) PredictIntonation(ctx context.Context, in IntonationInput, style voicemodel.StyleID) ([]float32, error) {
	return submit(ctx, a, func(ctx context.Context) ([]float32, error) {
		return a.sync.PredictIntonation(ctx, in, style)
	})
}

func (a *Async) Decode(ctx context.Context, f0, phoneme []float32, style voicemodel.StyleID) ([]float32, error) {
	return submit(ctx, a, func(ctx context.Context) ([]float32, error) {
		return a.sync.Decode(ctx, f0, phoneme, style)
	})
}

func (a *Async) Synthesize(ctx context.Context, query engine.AudioQuery, style voicemodel.StyleID, opts SynthesisOptions) ([]byte, error) {
	return submit(ctx, a, func(ctx context.Context) ([]byte, error) {
		return a.sync.Synthesize(ctx, query, style, opts)
	})
}

func (a *Async) PrecomputeRender(ctx context.Context, query engine.AudioQuery, style voicemodel.StyleID, opts SynthesisOptions) (*AudioFeature, error) {
	return submit(ctx, a, func(ctx context.Context) (*AudioFeature, error) {
		return a.sync.PrecomputeRender(ctx, query, style, opts)
	})
}

func (a *Async) Render(ctx context.Context, feature *AudioFeature, start, end int) ([]byte, error) {
	return submit(ctx, a, func(ctx context.Context) ([]byte, error) {
		return a.sync.Render(ctx, feature, start, end)
	})
}

func (a *Async) ReplaceMoraData(ctx context.Context, aps []engine.AccentPhrase, style voicemodel.StyleID) ([]engine.AccentPhrase, error) {
	return submit(ctx, a, func(ctx context.Context) ([]engine.AccentPhrase, error) {
		return a.sync.ReplaceMoraData(ctx, aps, style)
	})
}

func (a *Async) ReplacePhonemeLength(ctx context.Context, aps []engine.AccentPhrase, style voicemodel.StyleID) ([]engine.AccentPhrase, error) {
	return submit(ctx, a, func(ctx context.Context) ([]engine.AccentPhrase, error) {
		return a.sync.ReplacePhonemeLength(ctx, aps, style)
	})
}

func (a *Async) ReplaceMoraPitch(ctx context.Context, aps []engine.AccentPhrase, style voicemodel.StyleID) ([]engine.AccentPhrase, error) {
	return submit(ctx, a, func(ctx context.Context) ([]engine.AccentPhrase, error) {
		return a.sync.ReplaceMoraPitch(ctx, aps, style)
	})
}

func (a *Async) CreateAudioQuery(ctx context.Context, text string, style voicemodel.StyleID) (engine.AudioQuery, error) {
	return submit(ctx, a, func(ctx context.Context) (engine.AudioQuery, error) {
		return a.sync.CreateAudioQuery(ctx, text, style)
	})
}

func (a *Async) TTS(ctx context.Context, text string, style voicemodel.StyleID, opts TTSOptions) ([]byte, error) {
	return submit(ctx, a, func(ctx context.Context) ([]byte, error) {
		return a.sync.TTS(ctx, text, style, opts)
	})
}

func (a *Async) Morph(ctx context.Context, query engine.AudioQuery, base, target voicemodel.StyleID, rate float32) ([]byte, error) {
	return submit(ctx, a, func(ctx context.Context) ([]byte, error) {
		return a.sync.Morph(ctx, query, base, target, rate)
	})
}
