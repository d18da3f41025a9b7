package models

import (
	"fmt"
	"regexp"
	"strings"
)

// Collection names the two independently-tracked parcel sets.
// A parcel id is unique within a collection but the same physical parcel may
// hold a record in both collections at once (after a search result is
// claimed into the click set).
type Collection string

const (
	CollectionSearch Collection = "search"
	CollectionClick  Collection = "click"
)

// Valid reports whether c is one of the two known collections.
func (c Collection) Valid() bool {
	return c == CollectionSearch || c == CollectionClick
}

// Mode selects which collection is rendered. It shares the value set of
// Collection: records are visible iff their collection matches the mode.
type Mode = Collection

// DefaultMode is the mode on startup, before any search has run.
const DefaultMode = CollectionClick

// Color is either transparent (no fill) or an RGB hex string from the
// palette. The zero value is transparent.
type Color string

// ColorTransparent is the no-fill color. Click-origin parcels start here.
const ColorTransparent Color = "transparent"

// ColorSearchHighlight is the default fill for search-origin parcels.
const ColorSearchHighlight Color = "#FF6B6B"

var hexColorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// ParseColor validates a user-supplied color value.
func ParseColor(s string) (Color, error) {
	if s == "" || s == string(ColorTransparent) {
		return ColorTransparent, nil
	}
	if !hexColorPattern.MatchString(s) {
		return "", fmt.Errorf("invalid color %q: expected \"transparent\" or #RRGGBB", s)
	}
	return Color(strings.ToUpper(s)), nil
}

// Transparent reports whether the color carries no fill.
func (c Color) Transparent() bool {
	return c == "" || c == ColorTransparent
}

// OwnerInfo is the free-form annotation record attached by the user.
// Its presence marks the parcel as persisted to durable storage.
type OwnerInfo struct {
	Owner   string `json:"owner"`
	Address string `json:"address,omitempty"`
	Contact string `json:"contact,omitempty"`
	Memo    string `json:"memo,omitempty"`
}

// TrackedParcel is the central entity: one cadastral parcel tracked in one
// collection, with its geometry, raw provider attributes, and user edits.
// Visual artifacts are owned by the render projector, keyed by
// (collection, id), so records survive JSON round-trips unchanged.
type TrackedParcel struct {
	// ID is the cadastral parcel number (PNU), stable across lookups.
	ID string `json:"id"`

	Geometry Geometry `json:"geometry"`

	// Attributes holds the raw provider properties. Opaque to the registry;
	// read only once, at ingestion, to derive DisplayLabel.
	Attributes map[string]interface{} `json:"attributes,omitempty"`

	// DisplayLabel is computed on first insert and never mutated afterward.
	DisplayLabel string `json:"displayLabel"`

	Color Color `json:"color"`

	// OwnerInfo is nil until the user explicitly saves annotation data.
	OwnerInfo *OwnerInfo `json:"ownerInfo,omitempty"`

	Collection Collection `json:"collection"`
}

// Persisted reports whether the record has a durable-store counterpart.
// Records without owner info are ephemeral: memory plus session cache only.
func (p *TrackedParcel) Persisted() bool {
	return p.OwnerInfo != nil
}

// Clone returns a deep copy safe to hand outside the registry lock.
func (p *TrackedParcel) Clone() *TrackedParcel {
	out := *p
	if p.OwnerInfo != nil {
		oi := *p.OwnerInfo
		out.OwnerInfo = &oi
	}
	if p.Attributes != nil {
		attrs := make(map[string]interface{}, len(p.Attributes))
		for k, v := range p.Attributes {
			attrs[k] = v
		}
		out.Attributes = attrs
	}
	return &out
}

// FormatDisplayLabel derives the short label shown next to a parcel, e.g.
// "사직동 344-1", from raw provider attributes. The provider exposes the full
// jibun address under "addr" and the lot number under "jibun"; older layers
// only carry "bonbun"/"bubun" fragments.
func FormatDisplayLabel(attrs map[string]interface{}) string {
	addr := stringAttr(attrs, "addr")
	jibun := stringAttr(attrs, "jibun")

	if addr != "" {
		parts := strings.Fields(addr)
		if len(parts) >= 2 {
			// Last two tokens of a jibun address are the neighborhood
			// name and the lot number.
			return parts[len(parts)-2] + " " + parts[len(parts)-1]
		}
		return addr
	}

	if jibun != "" {
		return jibun
	}

	bonbun := strings.TrimLeft(stringAttr(attrs, "bonbun"), "0")
	bubun := strings.TrimLeft(stringAttr(attrs, "bubun"), "0")
	switch {
	case bonbun != "" && bubun != "":
		return bonbun + "-" + bubun
	case bonbun != "":
		return bonbun
	}

	return stringAttr(attrs, "pnu")
}

func stringAttr(attrs map[string]interface{}, key string) string {
	if attrs == nil {
		return ""
	}
	if v, ok := attrs[key]; ok {
		if s, ok := v.(string); ok {
			return strings.TrimSpace(s)
		}
	}
	return ""
}
