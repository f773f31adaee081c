package testutil

import (
	"archive/zip"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"testing/fstest"

	"github.com/example/go-voicevox-core/internal/infer"
	"github.com/example/go-voicevox-core/internal/voicemodel"
)

// PackageSpec describes a fake voice model package. Every model file holds
// FakeModel bytes, so packages built from it load on a FakeBackend.
type PackageSpec struct {
	// ID defaults to a fresh random id.
	ID voicemodel.ID
	// Domains defaults to Talk only.
	Domains []infer.Domain
	// Characters defaults to one talk character with style 0.
	Characters []voicemodel.CharacterMeta
	// InnerVoice overrides the inner voice id of a style in every domain
	// serving it. Unlisted styles map to themselves.
	InnerVoice map[voicemodel.StyleID]voicemodel.InnerVoiceID
	// Files replaces or adds raw files, keyed by path.
	Files map[string][]byte
}

// Character builds a character meta with one style per id of the given type.
func Character(name, speakerUUID string, typ voicemodel.StyleType, styles ...voicemodel.StyleID) voicemodel.CharacterMeta {
	c := voicemodel.CharacterMeta{Name: name, SpeakerUUID: speakerUUID, Version: "0.0.1"}
	for _, id := range styles {
		c.Styles = append(c.Styles, voicemodel.StyleMeta{ID: id, Name: "style", Type: typ})
	}
	return c
}

// TalkCharacter is Character with talk styles.
func TalkCharacter(name, speakerUUID string, styles ...voicemodel.StyleID) voicemodel.CharacterMeta {
	return Character(name, speakerUUID, voicemodel.StyleTypeTalk, styles...)
}

// PackageFS renders spec as an in-memory package tree.
func PackageFS(tb testing.TB, spec PackageSpec) fstest.MapFS {
	tb.Helper()

	if spec.ID.IsZero() {
		spec.ID = voicemodel.NewID()
	}
	if len(spec.Domains) == 0 {
		spec.Domains = []infer.Domain{infer.DomainTalk}
	}
	if spec.Characters == nil {
		spec.Characters = []voicemodel.CharacterMeta{
			TalkCharacter("dummy", "574bc678-8370-44be-b941-08e46e7b47d7", 0),
		}
	}

	fsys := fstest.MapFS{}
	manifest := voicemodel.Manifest{
		FormatVersion: voicemodel.FormatVersion,
		ID:            spec.ID,
		MetasFilename: "metas.json",
	}
	for _, d := range spec.Domains {
		section := &voicemodel.DomainManifest{
			Files:        map[infer.Operation]voicemodel.ModelFile{},
			InnerVoiceID: map[voicemodel.StyleID]voicemodel.InnerVoiceID{},
		}
		for _, op := range d.Operations() {
			name := filepath.ToSlash(filepath.Join(d.String(), op.String()+".onnx"))
			section.Files[op] = voicemodel.ModelFile{Type: voicemodel.ModelFileONNX, Filename: name}
			fsys[name] = &fstest.MapFile{Data: FakeModel(op)}
		}
		for _, c := range spec.Characters {
			for _, s := range c.Styles {
				if !s.Type.ServedBy(d) {
					continue
				}
				inner, ok := spec.InnerVoice[s.ID]
				if !ok {
					inner = voicemodel.InnerVoiceID(s.ID)
				}
				section.InnerVoiceID[s.ID] = inner
			}
		}
		switch d {
		case infer.DomainTalk:
			manifest.Talk = section
		case infer.DomainExperimentalTalk:
			manifest.ExperimentalTalk = section
		case infer.DomainSingingTeacher:
			manifest.SingingTeacher = section
		case infer.DomainFrameDecode:
			manifest.FrameDecode = section
		}
	}

	fsys[voicemodel.ManifestFilename] = &fstest.MapFile{Data: mustJSON(tb, manifest)}
	fsys["metas.json"] = &fstest.MapFile{Data: mustJSON(tb, spec.Characters)}
	for name, data := range spec.Files {
		fsys[name] = &fstest.MapFile{Data: data}
	}
	return fsys
}

// NewPackage builds spec and opens it as a package.
func NewPackage(tb testing.TB, spec PackageSpec) *voicemodel.Package {
	tb.Helper()

	pkg, err := voicemodel.FromFS(PackageFS(tb, spec))
	if err != nil {
		tb.Fatalf("open fake package: %v", err)
	}
	return pkg
}

// WritePackageDir writes spec under a fresh temp directory and returns it.
func WritePackageDir(tb testing.TB, spec PackageSpec) string {
	tb.Helper()

	dir := tb.TempDir()
	for name, file := range PackageFS(tb, spec) {
		p := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			tb.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(p, file.Data, 0o644); err != nil {
			tb.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

// WritePackageZip writes spec as a .vvm archive and returns its path.
func WritePackageZip(tb testing.TB, spec PackageSpec) string {
	tb.Helper()

	p := filepath.Join(tb.TempDir(), "model.vvm")
	f, err := os.Create(p)
	if err != nil {
		tb.Fatalf("create archive: %v", err)
	}
	defer f.Close()

	fsys := PackageFS(tb, spec)
	names := make([]string, 0, len(fsys))
	for name := range fsys {
		names = append(names, name)
	}
	sort.Strings(names)

	zw := zip.NewWriter(f)
	for _, name := range names {
		w, err := zw.Create(name)
		if err != nil {
			tb.Fatalf("zip create %s: %v", name, err)
		}
		if _, err := w.Write(fsys[name].Data); err != nil {
			tb.Fatalf("zip write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		tb.Fatalf("zip close: %v", err)
	}
	return p
}

func mustJSON(tb testing.TB, v any) []byte {
	tb.Helper()

	data, err := json.Marshal(v)
	if err != nil {
		tb.Fatalf("marshal: %v", err)
	}
	return data
}
