// Package podio maps Podio apps, members and contacts onto flat rows and
// back. A SchemaCatalog describes the columns, the Reader flattens remote
// JSON into rows and the Writer reassembles row changes into submissions.
package podio

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// NativeType is the remote field family a column belongs to.
type NativeType int

const (
	NativeString NativeType = iota
	NativeNumber
	NativeDateTime
	NativeDuration
	NativeCategory
	NativeMoney
	NativeApp
	NativeContact
	NativeImage
	NativeLink
	NativeQuestion
	NativeEmail
	NativePhone
	NativeLocation
)

var nativeTypeNames = [...]string{
	NativeString:   "String",
	NativeNumber:   "Number",
	NativeDateTime: "DateTime",
	NativeDuration: "Duration",
	NativeCategory: "Category",
	NativeMoney:    "Money",
	NativeApp:      "App",
	NativeContact:  "Contact",
	NativeImage:    "Image",
	NativeLink:     "Link",
	NativeQuestion: "Question",
	NativeEmail:    "Email",
	NativePhone:    "Phone",
	NativeLocation: "Location",
}

func (t NativeType) String() string {
	if int(t) < len(nativeTypeNames) {
		return nativeTypeNames[t]
	}
	return "Unknown"
}

// DeclaredType is the scalar or array type a column exposes to the host.
type DeclaredType int

const (
	TypeString DeclaredType = iota
	TypeInt32
	TypeInt64
	TypeDecimal
	TypeDouble
	TypeBool
	TypeDateTime
	TypeStringArray
	TypeInt32Array
	TypeInt64Array
	// TypeJSON carries a serialized JSON document as a string.
	TypeJSON
)

var declaredTypeNames = [...]string{
	TypeString:      "string",
	TypeInt32:       "int32",
	TypeInt64:       "int64",
	TypeDecimal:     "decimal",
	TypeDouble:      "double",
	TypeBool:        "bool",
	TypeDateTime:    "datetime",
	TypeStringArray: "string[]",
	TypeInt32Array:  "int32[]",
	TypeInt64Array:  "int64[]",
	TypeJSON:        "json",
}

func (t DeclaredType) String() string {
	if int(t) < len(declaredTypeNames) {
		return declaredTypeNames[t]
	}
	return "unknown"
}

// IsArray reports whether the type is one of the array types.
func (t DeclaredType) IsArray() bool {
	return t == TypeStringArray || t == TypeInt32Array || t == TypeInt64Array
}

// Elem returns the element type of an array type, or t itself.
func (t DeclaredType) Elem() DeclaredType {
	switch t {
	case TypeStringArray:
		return TypeString
	case TypeInt32Array:
		return TypeInt32
	case TypeInt64Array:
		return TypeInt64
	default:
		return t
	}
}

// Dependency names a sibling column that must be submitted together with
// the declaring column.
type Dependency struct {
	Key      string
	Required bool
}

// Lookup resolves option display text to option ids, ignoring case.
type Lookup struct {
	ids   map[string]int64
	texts []string
}

// NewLookup creates an empty lookup table.
func NewLookup() *Lookup {
	return &Lookup{ids: make(map[string]int64)}
}

// Add registers an option. The first registration of a text wins.
func (l *Lookup) Add(text string, id int64) {
	k := strings.ToLower(text)
	if _, ok := l.ids[k]; ok {
		return
	}
	l.ids[k] = id
	l.texts = append(l.texts, text)
}

// Resolve returns the id for text.
func (l *Lookup) Resolve(text string) (int64, bool) {
	if l == nil {
		return 0, false
	}
	id, ok := l.ids[strings.ToLower(text)]
	return id, ok
}

// Len returns the number of options.
func (l *Lookup) Len() int {
	if l == nil {
		return 0
	}
	return len(l.texts)
}

// Texts returns option texts in registration order.
func (l *Lookup) Texts() []string {
	if l == nil {
		return nil
	}
	out := make([]string, len(l.texts))
	copy(out, l.texts)
	return out
}

// ColumnDescriptor describes one flat column. Descriptors are immutable once
// a catalog is built.
type ColumnDescriptor struct {
	// Key is "externalId" or "externalId|subkey".
	Key         string
	DisplayName string
	// RootFieldName is the item envelope member or the field external id.
	RootFieldName string
	// SubKey is the member inside the native value; empty for whole values.
	SubKey string
	// Container nests root columns one level down, e.g. "profile" for members.
	Container string

	NativeType   NativeType
	DeclaredType DeclaredType
	// FieldType is the remote field type name ("date", "category", ...).
	FieldType string
	FieldID   int64

	IsRoot              bool
	IsMultiValue        bool
	IsIndexedMultiValue bool
	Index               int

	ReadOnly bool
	Nullable bool
	Unique   bool

	Lookup       *Lookup
	Dependencies []Dependency

	// TimeDisabled marks date fields without a time of day.
	TimeDisabled bool
	// TimeUTCField is the sibling member that carries an absolute UTC time.
	TimeUTCField string
}

// HasRequiredDependency reports whether any dependency is required.
func (c *ColumnDescriptor) HasRequiredDependency() bool {
	for _, d := range c.Dependencies {
		if d.Required {
			return true
		}
	}
	return false
}

// IsSubValue reports whether the column addresses a member of a composite
// custom field.
func (c *ColumnDescriptor) IsSubValue() bool {
	return !c.IsRoot && c.SubKey != ""
}

// Row maps column keys to cell values: string, int32, int64, float64, bool,
// time.Time, []string, []int32, []int64 or nil.
type Row map[string]interface{}

// Keys returns the row keys in sorted order.
func (r Row) Keys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Overlay returns a copy of r with every key of other applied on top.
func (r Row) Overlay(other Row) Row {
	out := make(Row, len(r)+len(other))
	for k, v := range r {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// SinkResult tells a reader whether to keep going.
type SinkResult int

const (
	Continue SinkResult = iota
	Stop
)

// RowSink receives flattened rows keyed by their native id.
type RowSink interface {
	Add(id int64, row Row) SinkResult
}

// SinkFunc adapts a function to RowSink.
type SinkFunc func(id int64, row Row) SinkResult

// Add calls f.
func (f SinkFunc) Add(id int64, row Row) SinkResult { return f(id, row) }

// MemorySink collects rows in arrival order. It is safe for concurrent use
// and stops the reader once Limit rows arrived (zero means no limit).
type MemorySink struct {
	Limit int

	mu   sync.Mutex
	ids  []int64
	rows []Row
}

// Add stores the row.
func (s *MemorySink) Add(id int64, row Row) SinkResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = append(s.ids, id)
	s.rows = append(s.rows, row)
	if s.Limit > 0 && len(s.rows) >= s.Limit {
		return Stop
	}
	return Continue
}

// Len returns the number of rows received.
func (s *MemorySink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

// Rows returns the received rows.
func (s *MemorySink) Rows() []Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Row, len(s.rows))
	copy(out, s.rows)
	return out
}

// IDs returns the received row ids.
func (s *MemorySink) IDs() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, len(s.ids))
	copy(out, s.ids)
	return out
}

// Get returns the row stored under id.
func (s *MemorySink) Get(id int64) (Row, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, v := range s.ids {
		if v == id {
			return s.rows[i], true
		}
	}
	return nil, false
}

// lockedSink serializes a shared sink and latches the first Stop so every
// worker can observe it without taking the lock.
type lockedSink struct {
	mu      sync.Mutex
	sink    RowSink
	stopped atomic.Bool
}

func (s *lockedSink) Add(id int64, row Row) SinkResult {
	if s.stopped.Load() {
		return Stop
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped.Load() {
		return Stop
	}
	if s.sink.Add(id, row) == Stop {
		s.stopped.Store(true)
		return Stop
	}
	return Continue
}

func (s *lockedSink) stop() { s.stopped.Store(true) }

func (s *lockedSink) isStopped() bool { return s.stopped.Load() }
