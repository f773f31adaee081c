package voicemodel

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"

	"github.com/example/go-voicevox-core/internal/infer"
	"github.com/google/uuid"
)

// ManifestFilename is the manifest's name at the package root.
const ManifestFilename = "manifest.json"

// FormatVersion is the only package format this build reads.
const FormatVersion = 1

// ID identifies a voice model package.
type ID uuid.UUID

func NewID() ID {
	return ID(uuid.New())
}

func ParseID(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return ID{}, fmt.Errorf("parse voice model id %q: %w", s, err)
	}
	return ID(u), nil
}

func (id ID) String() string {
	return uuid.UUID(id).String()
}

func (id ID) IsZero() bool {
	return uuid.UUID(id) == uuid.Nil
}

func (id ID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}

func (id *ID) UnmarshalText(b []byte) error {
	parsed, err := ParseID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

type ModelFileType string

const (
	ModelFileONNX  ModelFileType = "onnx"
	ModelFileVVBin ModelFileType = "vv_bin"
)

type ModelFile struct {
	Type     ModelFileType `json:"type"`
	Filename string        `json:"filename"`
}

// DomainManifest lists one domain's model files keyed by operation and the
// style to inner voice table. On the wire the files are flattened next to
// style_id_to_inner_voice_id.
type DomainManifest struct {
	Files        map[infer.Operation]ModelFile
	InnerVoiceID map[StyleID]InnerVoiceID
}

const innerVoiceKey = "style_id_to_inner_voice_id"

func (m *DomainManifest) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := DomainManifest{
		Files:        make(map[infer.Operation]ModelFile),
		InnerVoiceID: make(map[StyleID]InnerVoiceID),
	}
	for key, value := range raw {
		if key == innerVoiceKey {
			var table map[string]uint32
			if err := json.Unmarshal(value, &table); err != nil {
				return fmt.Errorf("%s: %w", innerVoiceKey, err)
			}
			for k, v := range table {
				style, err := strconv.ParseUint(k, 10, 32)
				if err != nil {
					return fmt.Errorf("%s: invalid style id %q", innerVoiceKey, k)
				}
				out.InnerVoiceID[StyleID(style)] = InnerVoiceID(v)
			}
			continue
		}
		op, ok := infer.ParseOperation(key)
		if !ok {
			return fmt.Errorf("unknown operation %q", key)
		}
		var file ModelFile
		if err := json.Unmarshal(value, &file); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		out.Files[op] = file
	}
	*m = out
	return nil
}

func (m DomainManifest) MarshalJSON() ([]byte, error) {
	raw := make(map[string]any, len(m.Files)+1)
	for op, file := range m.Files {
		raw[op.String()] = file
	}
	table := make(map[string]uint32, len(m.InnerVoiceID))
	for style, inner := range m.InnerVoiceID {
		table[strconv.FormatUint(uint64(style), 10)] = uint32(inner)
	}
	raw[innerVoiceKey] = table
	return json.Marshal(raw)
}

// InnerVoice maps a style to the speaker index the domain's networks expect.
// Unmapped styles use their own id.
func (m *DomainManifest) InnerVoice(style StyleID) InnerVoiceID {
	if inner, ok := m.InnerVoiceID[style]; ok {
		return inner
	}
	return InnerVoiceID(style)
}

type Manifest struct {
	FormatVersion    int             `json:"vvm_format_version"`
	ID               ID              `json:"id"`
	MetasFilename    string          `json:"metas_filename"`
	Talk             *DomainManifest `json:"talk,omitempty"`
	ExperimentalTalk *DomainManifest `json:"experimental_talk,omitempty"`
	SingingTeacher   *DomainManifest `json:"singing_teacher,omitempty"`
	FrameDecode      *DomainManifest `json:"frame_decode,omitempty"`
}

// Domain returns the section for d, or nil when the package lacks it.
func (m *Manifest) Domain(d infer.Domain) *DomainManifest {
	switch d {
	case infer.DomainTalk:
		return m.Talk
	case infer.DomainExperimentalTalk:
		return m.ExperimentalTalk
	case infer.DomainSingingTeacher:
		return m.SingingTeacher
	case infer.DomainFrameDecode:
		return m.FrameDecode
	default:
		return nil
	}
}

// Domains lists the domains the package provides in declaration order.
func (m *Manifest) Domains() []infer.Domain {
	var out []infer.Domain
	for _, d := range infer.Domains() {
		if m.Domain(d) != nil {
			out = append(out, d)
		}
	}
	return out
}

// ParseManifest decodes and validates a manifest document.
func ParseManifest(data []byte) (Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

func (m *Manifest) Validate() error {
	if m.FormatVersion != FormatVersion {
		return fmt.Errorf("unsupported vvm_format_version %d", m.FormatVersion)
	}
	if m.ID.IsZero() {
		return errors.New("manifest id is empty")
	}
	if m.MetasFilename == "" {
		return errors.New("manifest metas_filename is empty")
	}

	for _, d := range m.Domains() {
		section := m.Domain(d)
		for op := range section.Files {
			if !d.Has(op) {
				return fmt.Errorf("%s: operation %s does not belong to the domain", d, op)
			}
		}
		for _, op := range d.Operations() {
			file, ok := section.Files[op]
			if !ok {
				return fmt.Errorf("%s: missing model file for %s", d, op)
			}
			switch file.Type {
			case ModelFileONNX:
			case ModelFileVVBin:
				return fmt.Errorf("%s: %s: vv_bin models are not supported", d, op)
			default:
				return fmt.Errorf("%s: %s: unknown model type %q", d, op, file.Type)
			}
			if file.Filename == "" {
				return fmt.Errorf("%s: %s: empty filename", d, op)
			}
		}
	}
	return nil
}

// StyleIDs returns the style ids named by any domain's inner voice table,
// sorted.
func (m *Manifest) StyleIDs() []StyleID {
	seen := map[StyleID]bool{}
	var out []StyleID
	for _, d := range m.Domains() {
		for style := range m.Domain(d).InnerVoiceID {
			if !seen[style] {
				seen[style] = true
				out = append(out, style)
			}
		}
	}
	slices.Sort(out)
	return out
}
