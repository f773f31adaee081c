package voicemodel

import (
	"cmp"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/example/go-voicevox-core/internal/infer"
)

// StyleID is the externally visible identity of a selectable voice.
type StyleID uint32

// InnerVoiceID is a model-internal speaker index.
type InnerVoiceID uint32

// StyleType says which domains can serve a style.
type StyleType string

const (
	StyleTypeTalk           StyleType = "talk"
	StyleTypeSingingTeacher StyleType = "singing_teacher"
	StyleTypeFrameDecode    StyleType = "frame_decode"
	StyleTypeSing           StyleType = "sing"
)

// ServedBy reports whether domain d accepts styles of type t.
func (t StyleType) ServedBy(d infer.Domain) bool {
	switch d {
	case infer.DomainTalk, infer.DomainExperimentalTalk:
		return t == StyleTypeTalk
	case infer.DomainSingingTeacher:
		return t == StyleTypeSingingTeacher || t == StyleTypeSing
	case infer.DomainFrameDecode:
		return t == StyleTypeFrameDecode || t == StyleTypeSing
	default:
		return false
	}
}

func (t *StyleType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch StyleType(s) {
	case StyleTypeTalk, StyleTypeSingingTeacher, StyleTypeFrameDecode, StyleTypeSing:
		*t = StyleType(s)
		return nil
	default:
		return fmt.Errorf("unknown style type %q", s)
	}
}

// MorphingPolicy controls which styles a character may be morphed with.
type MorphingPolicy string

const (
	MorphingAll      MorphingPolicy = "ALL"
	MorphingSelfOnly MorphingPolicy = "SELF_ONLY"
	MorphingNothing  MorphingPolicy = "NOTHING"
)

type SupportedFeatures struct {
	PermittedSynthesisMorphing MorphingPolicy `json:"permitted_synthesis_morphing"`
}

type StyleMeta struct {
	ID    StyleID   `json:"id"`
	Name  string    `json:"name"`
	Type  StyleType `json:"type"`
	Order *uint32   `json:"order,omitempty"`
}

type CharacterMeta struct {
	Name              string             `json:"name"`
	Styles            []StyleMeta        `json:"styles"`
	Version           string             `json:"version"`
	SpeakerUUID       string             `json:"speaker_uuid"`
	Order             *uint32            `json:"order,omitempty"`
	SupportedFeatures *SupportedFeatures `json:"supported_features,omitempty"`
}

// MorphingPolicy returns the character's policy, ALL when unspecified.
func (c CharacterMeta) MorphingPolicy() MorphingPolicy {
	if c.SupportedFeatures == nil || c.SupportedFeatures.PermittedSynthesisMorphing == "" {
		return MorphingAll
	}
	return c.SupportedFeatures.PermittedSynthesisMorphing
}

// ParseMetas decodes a metas document. Missing style types default to talk.
func ParseMetas(data []byte) ([]CharacterMeta, error) {
	var metas []CharacterMeta
	if err := json.Unmarshal(data, &metas); err != nil {
		return nil, fmt.Errorf("decode metas: %w", err)
	}
	for i := range metas {
		if metas[i].SpeakerUUID == "" {
			return nil, fmt.Errorf("character %q has empty speaker_uuid", metas[i].Name)
		}
		switch metas[i].MorphingPolicy() {
		case MorphingAll, MorphingSelfOnly, MorphingNothing:
		default:
			return nil, fmt.Errorf("character %q: unknown morphing policy %q",
				metas[i].Name, metas[i].SupportedFeatures.PermittedSynthesisMorphing)
		}
		for j := range metas[i].Styles {
			if metas[i].Styles[j].Type == "" {
				metas[i].Styles[j].Type = StyleTypeTalk
			}
		}
	}
	return metas, nil
}

// MergeMetas merges characters sharing a speaker_uuid, concatenating their
// styles. Characters and styles are stably sorted by order; entries without
// an order come last.
func MergeMetas(groups ...[]CharacterMeta) []CharacterMeta {
	var merged []CharacterMeta
	index := make(map[string]int)
	for _, metas := range groups {
		for _, c := range metas {
			if i, ok := index[c.SpeakerUUID]; ok {
				merged[i].Styles = append(merged[i].Styles, c.Styles...)
				continue
			}
			c.Styles = append([]StyleMeta(nil), c.Styles...)
			index[c.SpeakerUUID] = len(merged)
			merged = append(merged, c)
		}
	}

	for i := range merged {
		slices.SortStableFunc(merged[i].Styles, func(a, b StyleMeta) int {
			return cmp.Compare(orderKey(a.Order), orderKey(b.Order))
		})
	}
	slices.SortStableFunc(merged, func(a, b CharacterMeta) int {
		return cmp.Compare(orderKey(a.Order), orderKey(b.Order))
	})
	return merged
}

func orderKey(order *uint32) uint64 {
	if order == nil {
		return uint64(^uint32(0)) + 1
	}
	return uint64(*order)
}

// DiffExceptStyles lists the fields other than styles that differ between
// two characters with the same speaker_uuid.
func DiffExceptStyles(a, b CharacterMeta) []string {
	var diffs []string
	if a.Name != b.Name {
		diffs = append(diffs, "name")
	}
	if a.Version != b.Version {
		diffs = append(diffs, "version")
	}
	if orderKey(a.Order) != orderKey(b.Order) {
		diffs = append(diffs, "order")
	}
	return diffs
}
