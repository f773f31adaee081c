// Package status is the model registry: it owns the session sets of every
// loaded voice model and resolves styles to the sessions that serve them.
package status

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/example/go-voicevox-core/internal/infer"
	"github.com/example/go-voicevox-core/internal/onnx"
	"github.com/example/go-voicevox-core/internal/voicemodel"
	"github.com/example/go-voicevox-core/internal/vverror"
)

// OptionsFunc chooses the session options for one operation.
type OptionsFunc func(op infer.Operation) infer.OperationOptions

// Registry is safe for concurrent use. Lookups take the read lock; insert
// and unload take the write lock only for their bookkeeping, never while
// compiling or closing sessions.
type Registry struct {
	backend onnx.Backend
	options OptionsFunc
	logger  *slog.Logger

	mu     sync.RWMutex
	order  []voicemodel.ID
	models map[voicemodel.ID]*loadedModel
}

type loadedModel struct {
	id       voicemodel.ID
	manifest voicemodel.Manifest
	metas    []voicemodel.CharacterMeta
	sets     map[infer.Domain]*infer.SessionSet

	// users counts outstanding Resolved handles.
	users sync.WaitGroup
}

// New returns an empty registry compiling sessions with backend. A nil
// options func compiles every operation with default options.
func New(backend onnx.Backend, options OptionsFunc, logger *slog.Logger) *Registry {
	if options == nil {
		options = func(infer.Operation) infer.OperationOptions { return infer.OperationOptions{} }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		backend: backend,
		options: options,
		logger:  logger,
		models:  make(map[voicemodel.ID]*loadedModel),
	}
}

// Insert compiles the package's domains and registers the model. The model
// id and every style id must be new to the registry.
func (r *Registry) Insert(ctx context.Context, pkg *voicemodel.Package) error {
	r.mu.RLock()
	err := r.ensureAcceptable(pkg)
	r.mu.RUnlock()
	if err != nil {
		return err
	}

	sets, err := r.buildSessionSets(ctx, pkg)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Another insert may have won the race while sessions were compiling.
	if err := r.ensureAcceptable(pkg); err != nil {
		closeSets(sets)
		return err
	}
	r.warnMetaDiffs(pkg)

	id := pkg.ID()
	r.models[id] = &loadedModel{
		id:       id,
		manifest: pkg.Manifest,
		metas:    pkg.Metas,
		sets:     sets,
	}
	r.order = append(r.order, id)

	r.logger.Info("loaded voice model",
		"id", id.String(),
		"domains", domainNames(pkg.Manifest.Domains()),
		"styles", len(pkg.Styles()),
	)
	return nil
}

func (r *Registry) ensureAcceptable(pkg *voicemodel.Package) error {
	id := pkg.ID()
	if _, ok := r.models[id]; ok {
		return vverror.New(vverror.KindAlreadyLoadedModel, id.String(), "voice model is already loaded")
	}

	loaded := make(map[voicemodel.StyleID]bool)
	for _, mid := range r.order {
		for _, c := range r.models[mid].metas {
			for _, s := range c.Styles {
				loaded[s.ID] = true
			}
		}
	}

	var dups []string
	for _, ref := range pkg.Styles() {
		if loaded[ref.Style.ID] {
			dups = append(dups, fmt.Sprint(ref.Style.ID))
		}
	}
	if len(dups) > 0 {
		return vverror.New(vverror.KindAlreadyLoadedStyle, id.String(),
			"style ids already loaded: %s", strings.Join(dups, ", "))
	}
	return nil
}

// warnMetaDiffs logs characters of pkg that are already loaded with
// different metadata. Callers hold r.mu for writing.
func (r *Registry) warnMetaDiffs(pkg *voicemodel.Package) {
	characters := make(map[string]voicemodel.CharacterMeta)
	for _, mid := range r.order {
		for _, c := range r.models[mid].metas {
			characters[c.SpeakerUUID] = c
		}
	}

	for _, c := range pkg.Metas {
		prev, ok := characters[c.SpeakerUUID]
		if !ok {
			continue
		}
		if diff := voicemodel.DiffExceptStyles(prev, c); len(diff) > 0 {
			r.logger.Warn("character metas differ between voice models",
				"speaker_uuid", c.SpeakerUUID,
				"fields", strings.Join(diff, ","),
				"model", pkg.ID().String(),
			)
		}
	}
}

func (r *Registry) buildSessionSets(ctx context.Context, pkg *voicemodel.Package) (map[infer.Domain]*infer.SessionSet, error) {
	where := pkg.Path
	if where == "" {
		where = pkg.ID().String()
	}

	sets := make(map[infer.Domain]*infer.SessionSet)
	for _, d := range pkg.Manifest.Domains() {
		if err := ctx.Err(); err != nil {
			closeSets(sets)
			return nil, err
		}

		models, err := pkg.ModelData(d)
		if err != nil {
			closeSets(sets)
			return nil, vverror.Wrap(vverror.KindInvalidModelData, where, err)
		}

		opts := make(map[infer.Operation]infer.OperationOptions, len(models))
		for op := range models {
			opts[op] = r.options(op)
		}

		set, err := infer.NewSessionSet(r.backend, d, models, opts)
		if err != nil {
			closeSets(sets)
			return nil, vverror.Wrap(vverror.KindInvalidModelData, where, err)
		}
		sets[d] = set
	}
	return sets, nil
}

// Unload removes the model and closes its sessions once every outstanding
// Resolved handle on it has been released.
func (r *Registry) Unload(id voicemodel.ID) error {
	r.mu.Lock()
	m, ok := r.models[id]
	if !ok {
		r.mu.Unlock()
		return vverror.New(vverror.KindModelNotFound, id.String(), "voice model is not loaded")
	}
	delete(r.models, id)
	r.order = slices.DeleteFunc(r.order, func(x voicemodel.ID) bool { return x == id })
	r.mu.Unlock()

	m.users.Wait()
	closeSets(m.sets)
	r.logger.Info("unloaded voice model", "id", id.String())
	return nil
}

// Resolved is a style resolved to the session set serving it. Release must
// be called when the caller is done running sessions.
type Resolved struct {
	Set     *infer.SessionSet
	Inner   voicemodel.InnerVoiceID
	ModelID voicemodel.ID

	once  sync.Once
	model *loadedModel
}

func (h *Resolved) Release() {
	h.once.Do(func() { h.model.users.Done() })
}

// Resolve finds the model whose metas hold style with a type domain serves.
func (r *Registry) Resolve(style voicemodel.StyleID, domain infer.Domain) (*Resolved, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, id := range r.order {
		m := r.models[id]
		set, ok := m.sets[domain]
		if !ok {
			continue
		}
		for _, c := range m.metas {
			for _, s := range c.Styles {
				if s.ID != style || !s.Type.ServedBy(domain) {
					continue
				}
				m.users.Add(1)
				return &Resolved{
					Set:     set,
					Inner:   m.manifest.Domain(domain).InnerVoice(style),
					ModelID: id,
					model:   m,
				}, nil
			}
		}
	}
	return nil, vverror.New(vverror.KindStyleNotFound, fmt.Sprint(style), "no loaded %s style", domain)
}

// HasDomain reports whether style resolves for domain.
func (r *Registry) HasDomain(style voicemodel.StyleID, domain infer.Domain) bool {
	h, err := r.Resolve(style, domain)
	if err != nil {
		return false
	}
	h.Release()
	return true
}

func (r *Registry) IsLoaded(id voicemodel.ID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.models[id]
	return ok
}

func (r *Registry) IsLoadedByStyle(style voicemodel.StyleID) bool {
	_, _, err := r.Character(style)
	return err == nil
}

// Character returns the character owning style.
func (r *Registry) Character(style voicemodel.StyleID) (voicemodel.CharacterMeta, voicemodel.StyleMeta, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, id := range r.order {
		for _, c := range r.models[id].metas {
			for _, s := range c.Styles {
				if s.ID == style {
					return c, s, nil
				}
			}
		}
	}
	return voicemodel.CharacterMeta{}, voicemodel.StyleMeta{}, vverror.New(vverror.KindStyleNotFound, fmt.Sprint(style), "style is not loaded")
}

// Metas merges the character metas of every loaded model.
func (r *Registry) Metas() []voicemodel.CharacterMeta {
	r.mu.RLock()
	defer r.mu.RUnlock()

	groups := make([][]voicemodel.CharacterMeta, 0, len(r.order))
	for _, id := range r.order {
		groups = append(groups, r.models[id].metas)
	}
	return voicemodel.MergeMetas(groups...)
}

// Models lists loaded model ids in insertion order.
func (r *Registry) Models() []voicemodel.ID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// Close unloads every model.
func (r *Registry) Close() error {
	var errs []error
	for _, id := range r.Models() {
		if err := r.Unload(id); err != nil && !errors.Is(err, vverror.ErrModelNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func closeSets(sets map[infer.Domain]*infer.SessionSet) {
	for d, set := range sets {
		if err := set.Close(); err != nil {
			slog.Warn("close session set", "domain", d.String(), "error", err)
		}
	}
}

func domainNames(domains []infer.Domain) string {
	names := make([]string, len(domains))
	for i, d := range domains {
		names[i] = d.String()
	}
	return strings.Join(names, ",")
}
