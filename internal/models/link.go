package models

import "time"

// LinkType is the typed edge between two nodes.
type LinkType string

const (
	LinkChild       LinkType = "child"
	LinkParent      LinkType = "parent"
	LinkRespondsTo  LinkType = "responds-to"
	LinkFollows     LinkType = "follows"
	LinkDerivedFrom LinkType = "derived-from" // source derives from target
	LinkReferences  LinkType = "references"
	LinkQuotes      LinkType = "quotes"
)

// ContentLink is a directed, typed edge. (SourceID, TargetID, Type) is its natural identity.
type ContentLink struct {
	ID           string         `json:"id"`
	SourceID     string         `json:"source_id"`
	TargetID     string         `json:"target_id"`
	Type         LinkType       `json:"type"`
	Strength     *float64       `json:"strength,omitempty"`
	SourceAnchor *Anchor        `json:"source_anchor,omitempty"`
	TargetAnchor *Anchor        `json:"target_anchor,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	CreatedBy    string         `json:"created_by,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// EffectiveStrength returns the strength, treating unset as 1.0.
func (l *ContentLink) EffectiveStrength() float64 {
	if l.Strength == nil {
		return 1.0
	}
	return *l.Strength
}

// LinkInput is the input structure for creating links.
type LinkInput struct {
	SourceID     string
	TargetID     string
	Type         LinkType
	Strength     *float64
	SourceAnchor *Anchor
	TargetAnchor *Anchor
	CreatedBy    string
	Metadata     map[string]any
}

// Direction selects which side of a node links are matched on.
type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
	DirectionBoth     Direction = "both"
)

// LinkQuery filters links around a node.
type LinkQuery struct {
	Direction   Direction
	Types       []LinkType // empty means all
	MinStrength float64
}

// Lineage is the derivation neighbourhood of a node.
type Lineage struct {
	Node        *ContentNode  `json:"node"`
	Ancestors   []ContentNode `json:"ancestors"`
	Descendants []ContentNode `json:"descendants"`
	Versions    []ContentNode `json:"versions"`
}
