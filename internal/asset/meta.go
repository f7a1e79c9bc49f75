package asset

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"loom/internal/payload"
)

// History actions recorded in asset metadata.
const (
	HistoryCreated  = "CREATE"
	HistoryUpdated  = "UPDATE"
	HistoryAssigned = "ASSIGN"
	HistoryRouted   = "ROUTE"
	HistoryError    = "ERROR"
)

// HistoryEntry is one row of the append-only asset history log.
type HistoryEntry struct {
	At       time.Time `json:"datetime"`
	Operator string    `json:"operator,omitempty"`
	Action   string    `json:"action"`
	StageID  int64     `json:"stage,omitempty"`
	Detail   string    `json:"detail,omitempty"`
}

// CreatorRef identifies one publication creator resolved from the
// asset's authorship fields.
type CreatorRef struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// MetaValue is one free-form metadata entry. Single controls whether
// the key renders as a scalar or a list; mutation directives can flip
// it without touching the values.
type MetaValue struct {
	Single bool
	Values []payload.Value
}

// Meta is the bookkeeping that travels with an asset: creator ids,
// the history log, publication creators, merge pointers, plus
// free-form keys the mutation directives read and write.
type Meta struct {
	Creator                     int64
	CreatorStr                  string
	OriginalCreator             int64
	History                     []HistoryEntry
	PublicationCreators         []CreatorRef
	PublicationCreatorsComplete bool
	MergedAssets                []int64
	MergedInto                  int64
	Extra                       map[string]MetaValue
}

// NewMeta returns empty metadata ready for use.
func NewMeta() *Meta {
	return &Meta{Extra: map[string]MetaValue{}}
}

// CreatorID returns the creator user id, falling back to the legacy
// string form. Zero means no creator is recorded.
func (m *Meta) CreatorID() int64 {
	if m.Creator != 0 {
		return m.Creator
	}
	if m.CreatorStr != "" {
		if id, err := strconv.ParseInt(strings.TrimSpace(m.CreatorStr), 10, 64); err == nil {
			return id
		}
	}
	return 0
}

// IsCreator reports whether the user id matches any recorded creator.
func (m *Meta) IsCreator(userID int64) bool {
	if userID == 0 {
		return false
	}
	if m.CreatorID() == userID {
		return true
	}
	for _, cr := range m.PublicationCreators {
		if cr.ID == userID {
			return true
		}
	}
	return false
}

// AppendHistory adds one entry to the history log.
func (m *Meta) AppendHistory(entry HistoryEntry) {
	m.History = append(m.History, entry)
}

// Clone returns a deep copy.
func (m *Meta) Clone() *Meta {
	if m == nil {
		return NewMeta()
	}
	clone := *m
	clone.History = append([]HistoryEntry(nil), m.History...)
	clone.PublicationCreators = append([]CreatorRef(nil), m.PublicationCreators...)
	clone.MergedAssets = append([]int64(nil), m.MergedAssets...)
	clone.Extra = make(map[string]MetaValue, len(m.Extra))
	for key, mv := range m.Extra {
		vals := make([]payload.Value, len(mv.Values))
		for i, v := range mv.Values {
			vals[i] = v.Clone()
		}
		clone.Extra[key] = MetaValue{Single: mv.Single, Values: vals}
	}
	return &clone
}

// Values implements payload.MetaAccess over the free-form keys.
func (m *Meta) Values(key string) (vals []payload.Value, single bool, ok bool) {
	mv, ok := m.Extra[key]
	return mv.Values, mv.Single, ok
}

// Set implements payload.MetaAccess.
func (m *Meta) Set(key string, vals []payload.Value, single bool) {
	if m.Extra == nil {
		m.Extra = map[string]MetaValue{}
	}
	m.Extra[key] = MetaValue{Single: single, Values: vals}
}

// Delete implements payload.MetaAccess.
func (m *Meta) Delete(key string) {
	delete(m.Extra, key)
}

// SetSingle implements payload.MetaAccess.
func (m *Meta) SetSingle(key string, single bool) bool {
	mv, ok := m.Extra[key]
	if !ok {
		return false
	}
	mv.Single = single
	m.Extra[key] = mv
	return true
}

type metaKnown struct {
	Creator                     int64           `json:"creator,omitempty"`
	CreatorStr                  string          `json:"creator_str,omitempty"`
	OriginalCreator             int64           `json:"original_creator,omitempty"`
	History                     []HistoryEntry  `json:"history,omitempty"`
	PublicationCreators         []CreatorRef    `json:"publication_creators,omitempty"`
	PublicationCreatorsComplete bool            `json:"publication_creators_complete,omitempty"`
	MergedAssets                []int64         `json:"merged_assets,omitempty"`
	MergedInto                  int64           `json:"merged_into,omitempty"`
}

var metaKnownKeys = map[string]bool{
	"creator": true, "creator_str": true, "original_creator": true,
	"history": true, "publication_creators": true,
	"publication_creators_complete": true,
	"merged_assets":                 true, "merged_into": true,
}

// MarshalJSON folds known fields and free-form keys into one object.
// Free-form keys marked singular render as a scalar.
func (m *Meta) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(metaKnown{
		Creator:                     m.Creator,
		CreatorStr:                  m.CreatorStr,
		OriginalCreator:             m.OriginalCreator,
		History:                     m.History,
		PublicationCreators:         m.PublicationCreators,
		PublicationCreatorsComplete: m.PublicationCreatorsComplete,
		MergedAssets:                m.MergedAssets,
		MergedInto:                  m.MergedInto,
	})
	if err != nil {
		return nil, err
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(known, &merged); err != nil {
		return nil, err
	}
	for key, mv := range m.Extra {
		var raw []byte
		if mv.Single && len(mv.Values) == 1 {
			raw, err = json.Marshal(mv.Values[0])
		} else {
			raw, err = json.Marshal(mv.Values)
		}
		if err != nil {
			return nil, err
		}
		merged[key] = raw
	}
	return json.Marshal(merged)
}

// UnmarshalJSON splits known fields from free-form keys. A scalar
// free-form value decodes as a singular one-element entry.
func (m *Meta) UnmarshalJSON(data []byte) error {
	var known metaKnown
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = Meta{
		Creator:                     known.Creator,
		CreatorStr:                  known.CreatorStr,
		OriginalCreator:             known.OriginalCreator,
		History:                     known.History,
		PublicationCreators:         known.PublicationCreators,
		PublicationCreatorsComplete: known.PublicationCreatorsComplete,
		MergedAssets:                known.MergedAssets,
		MergedInto:                  known.MergedInto,
		Extra:                       map[string]MetaValue{},
	}
	for key, msg := range raw {
		if metaKnownKeys[key] {
			continue
		}
		trimmed := strings.TrimSpace(string(msg))
		if strings.HasPrefix(trimmed, "[") {
			var vals []payload.Value
			if err := json.Unmarshal(msg, &vals); err != nil {
				return err
			}
			m.Extra[key] = MetaValue{Single: false, Values: vals}
			continue
		}
		var single payload.Value
		if err := json.Unmarshal(msg, &single); err != nil {
			return err
		}
		m.Extra[key] = MetaValue{Single: true, Values: []payload.Value{single}}
	}
	return nil
}
