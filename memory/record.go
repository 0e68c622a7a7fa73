package memory

import (
	"encoding/json"
	"strconv"
	"time"
)

// MemoryType labels a record's tier. It drives TTL policy and storage scope.
type MemoryType string

const (
	ShortTerm  MemoryType = "short_term"
	MediumTerm MemoryType = "medium_term"
	LongTerm   MemoryType = "long_term"
)

// Valid reports whether t is one of the three known tiers.
func (t MemoryType) Valid() bool {
	switch t {
	case ShortTerm, MediumTerm, LongTerm:
		return true
	}
	return false
}

// Scope names one independently queried collection group.
type Scope string

const (
	// ScopeCore is the system collection (configuration-type entries).
	ScopeCore Scope = "core"
	// ScopeGlobal is the long-term collection shared by all users.
	ScopeGlobal Scope = "global"
	// ScopeUser is the calling user's own collection (short and medium term).
	ScopeUser Scope = "user"
)

// Metadata keys with meaning to the memory system.
const (
	KeyTimestamp       = "timestamp"
	KeyMemoryType      = "memory_type"
	KeyEntity          = "entity"
	KeyEntities        = "entities"
	KeyAuthor          = "author"
	KeyCommand         = "command"
	KeyPriority        = "priority"
	KeyMerged          = "merged"
	KeyMergedFrom      = "merged_from"
	KeyRelatedMemories = "related_memories"
	KeyRole            = "role"
	KeySource          = "source"
)

// PriorityHigh marks records that sort ahead of everything else.
const PriorityHigh = "high"

// AuthorSystem is the author recorded for trusted internal writes.
const AuthorSystem = "system"

// Metadata is the open key-value map stored alongside every record.
// Values are strings so they round-trip through any vector store; lists are
// stored as JSON strings.
type Metadata map[string]string

// Clone returns a copy that is safe to mutate.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m)+4)
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Timestamp returns the creation time in float Unix seconds, or 0 when
// missing or unparsable.
func (m Metadata) Timestamp() float64 {
	ts, err := strconv.ParseFloat(m[KeyTimestamp], 64)
	if err != nil {
		return 0
	}
	return ts
}

// MemoryType returns the record's tier label.
func (m Metadata) MemoryType() MemoryType {
	return MemoryType(m[KeyMemoryType])
}

// Entity returns the subject a long-term memory is attached to.
func (m Metadata) Entity() string {
	return m[KeyEntity]
}

// Author returns who created the record.
func (m Metadata) Author() string {
	return m[KeyAuthor]
}

// Entities decodes the JSON list stored under "entities".
func (m Metadata) Entities() []string {
	raw, ok := m[KeyEntities]
	if !ok || raw == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

// SetEntities encodes entities as a JSON list under "entities".
func (m Metadata) SetEntities(entities []string) {
	if entities == nil {
		entities = []string{}
	}
	b, _ := json.Marshal(entities)
	m[KeyEntities] = string(b)
}

// FormatTimestamp renders t as float Unix seconds.
func FormatTimestamp(t time.Time) string {
	return strconv.FormatFloat(float64(t.UnixNano())/1e9, 'f', 6, 64)
}

// MemoryResult is a single retrieved record, ready for ranking or display.
type MemoryResult struct {
	ID       string   `json:"id"`
	Text     string   `json:"text"`
	Metadata Metadata `json:"metadata"`
	Distance float64  `json:"distance"`

	// Relevance is 1 - min(distance, 1), clamped to [0, 1].
	Relevance float64 `json:"relevance"`
	// Priority is "high" for authorized authors or records tagged high,
	// otherwise the record's own priority (default "normal").
	Priority string `json:"priority"`
	// Scope is the collection group the record was retrieved from.
	Scope Scope `json:"scope"`
	// Score is the combined relevance/recency/type score assigned by Bridge.
	Score float64 `json:"score,omitempty"`
}

// MemoryType returns the record's tier label.
func (r MemoryResult) MemoryType() MemoryType {
	return r.Metadata.MemoryType()
}

// ScopedResults holds query results keyed by scope. A scope that was not
// requested or that failed is an empty slice.
type ScopedResults struct {
	Core   []MemoryResult `json:"core"`
	Global []MemoryResult `json:"global"`
	User   []MemoryResult `json:"user"`
}

func newScopedResults() ScopedResults {
	return ScopedResults{
		Core:   []MemoryResult{},
		Global: []MemoryResult{},
		User:   []MemoryResult{},
	}
}

// All returns every result in core, global, user order.
func (s ScopedResults) All() []MemoryResult {
	out := make([]MemoryResult, 0, len(s.Core)+len(s.Global)+len(s.User))
	out = append(out, s.Core...)
	out = append(out, s.Global...)
	out = append(out, s.User...)
	return out
}

// Len returns the total number of results.
func (s ScopedResults) Len() int {
	return len(s.Core) + len(s.Global) + len(s.User)
}

// IDs returns result ids grouped by scope. Empty scopes are omitted.
func (s ScopedResults) IDs() map[Scope][]string {
	out := make(map[Scope][]string)
	collect := func(scope Scope, rs []MemoryResult) {
		for _, r := range rs {
			out[scope] = append(out[scope], r.ID)
		}
	}
	collect(ScopeCore, s.Core)
	collect(ScopeGlobal, s.Global)
	collect(ScopeUser, s.User)
	return out
}

func (s *ScopedResults) set(scope Scope, rs []MemoryResult) {
	if rs == nil {
		rs = []MemoryResult{}
	}
	switch scope {
	case ScopeCore:
		s.Core = rs
	case ScopeGlobal:
		s.Global = rs
	case ScopeUser:
		s.User = rs
	}
}
