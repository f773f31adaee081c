// Package voicemodel reads voice model packages: a manifest, character metas
// and the model files each inference domain needs. A package is either a
// directory or a .vvm zip archive with the same layout.
package voicemodel

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"

	"github.com/example/go-voicevox-core/internal/infer"
)

// Package is an opened voice model. Model bytes are read on demand, so the
// package must stay open until every domain has been loaded.
type Package struct {
	Path     string
	Manifest Manifest
	Metas    []CharacterMeta

	fsys   fs.FS
	closer io.Closer
}

// Open reads the package at p, a directory or a zip archive.
func Open(p string) (*Package, error) {
	info, err := os.Stat(p)
	if err != nil {
		return nil, fmt.Errorf("open voice model: %w", err)
	}

	if info.IsDir() {
		pkg, err := FromFS(os.DirFS(p))
		if err != nil {
			return nil, fmt.Errorf("voice model %s: %w", p, err)
		}
		pkg.Path = p
		return pkg, nil
	}

	zr, err := zip.OpenReader(p)
	if err != nil {
		return nil, fmt.Errorf("voice model %s: read archive: %w", p, err)
	}
	pkg, err := FromFS(zr)
	if err != nil {
		_ = zr.Close()
		return nil, fmt.Errorf("voice model %s: %w", p, err)
	}
	pkg.Path = p
	pkg.closer = zr
	return pkg, nil
}

// FromFS reads a package laid out at the root of fsys.
func FromFS(fsys fs.FS) (*Package, error) {
	data, err := fs.ReadFile(fsys, ManifestFilename)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	manifest, err := ParseManifest(data)
	if err != nil {
		return nil, err
	}

	data, err = fs.ReadFile(fsys, manifest.MetasFilename)
	if err != nil {
		return nil, fmt.Errorf("read metas: %w", err)
	}
	metas, err := ParseMetas(data)
	if err != nil {
		return nil, err
	}

	pkg := &Package{Manifest: manifest, Metas: metas, fsys: fsys}
	if err := pkg.validateStyles(); err != nil {
		return nil, err
	}
	return pkg, nil
}

func (p *Package) ID() ID {
	return p.Manifest.ID
}

// Styles returns every style of the package with its character.
func (p *Package) Styles() []StyleRef {
	var out []StyleRef
	for _, c := range p.Metas {
		for _, s := range c.Styles {
			out = append(out, StyleRef{Character: c, Style: s})
		}
	}
	return out
}

// StyleRef pairs a style with the character that owns it.
type StyleRef struct {
	Character CharacterMeta
	Style     StyleMeta
}

// ModelData reads every model file of domain d.
func (p *Package) ModelData(d infer.Domain) (map[infer.Operation][]byte, error) {
	section := p.Manifest.Domain(d)
	if section == nil {
		return nil, fmt.Errorf("package has no %s models", d)
	}
	out := make(map[infer.Operation][]byte, len(section.Files))
	for _, op := range d.Operations() {
		name := path.Clean(section.Files[op].Filename)
		data, err := fs.ReadFile(p.fsys, name)
		if err != nil {
			return nil, fmt.Errorf("%s: %s: %w", d, op, err)
		}
		out[op] = data
	}
	return out, nil
}

// Close releases the archive behind a zip package.
func (p *Package) Close() error {
	if p.closer == nil {
		return nil
	}
	err := p.closer.Close()
	p.closer = nil
	return err
}

func (p *Package) validateStyles() error {
	types := make(map[StyleID]StyleType)
	for _, ref := range p.Styles() {
		if _, dup := types[ref.Style.ID]; dup {
			return fmt.Errorf("duplicate style id %d", ref.Style.ID)
		}
		types[ref.Style.ID] = ref.Style.Type
	}

	var errs []error
	for _, d := range p.Manifest.Domains() {
		for style := range p.Manifest.Domain(d).InnerVoiceID {
			typ, ok := types[style]
			if !ok {
				errs = append(errs, fmt.Errorf("%s: style %d is not in the metas", d, style))
				continue
			}
			if !typ.ServedBy(d) {
				errs = append(errs, fmt.Errorf("%s: style %d has type %s", d, style, typ))
			}
		}
	}

	for id, typ := range types {
		served := false
		for _, d := range p.Manifest.Domains() {
			if typ.ServedBy(d) {
				served = true
				break
			}
		}
		if !served {
			slog.Warn("style has no domain to serve it", "model", p.ID().String(), "style", id, "type", string(typ))
		}
	}
	return errors.Join(errs...)
}
