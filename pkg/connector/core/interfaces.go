package core

import (
	"context"
	"time"

	"github.com/ajitpratap0/podsync/pkg/config"
)

// ConnectorType represents the type of connector
type ConnectorType string

const (
	ConnectorTypeSource      ConnectorType = "source"
	ConnectorTypeDestination ConnectorType = "destination"
)

// State represents connector state carried between sync runs
type State map[string]interface{}

// Well-known state keys.
const (
	// StateLastChanged holds the RFC 3339 time the record type last changed.
	StateLastChanged = "last_changed"
)

// Schema represents the flat schema of one record type
type Schema struct {
	Name        string
	Description string
	Fields      []Field
	Version     int
	CreatedAt   time.Time
}

// Field represents a column of the schema
type Field struct {
	Name        string
	DisplayName string
	Type        FieldType
	// NativeType names the remote field family the column was expanded from.
	NativeType string
	Nullable   bool
	Primary    bool
	Unique     bool
	ReadOnly   bool
	Multi      bool
}

// FieldType represents the declared data type of a field
type FieldType string

const (
	FieldTypeString      FieldType = "string"
	FieldTypeInt32       FieldType = "int32"
	FieldTypeInt64       FieldType = "int64"
	FieldTypeDecimal     FieldType = "decimal"
	FieldTypeDouble      FieldType = "double"
	FieldTypeBool        FieldType = "bool"
	FieldTypeTimestamp   FieldType = "datetime"
	FieldTypeStringArray FieldType = "string[]"
	FieldTypeInt32Array  FieldType = "int32[]"
	FieldTypeInt64Array  FieldType = "int64[]"
	FieldTypeJSON        FieldType = "json"
)

// Field returns the named field.
func (s *Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// PrimaryKey returns the name of the primary key column, if any.
func (s *Schema) PrimaryKey() string {
	for _, f := range s.Fields {
		if f.Primary {
			return f.Name
		}
	}
	return ""
}

// Record is one flattened row together with its remote id.
type Record struct {
	ID   int64
	Data map[string]interface{}
}

// RecordStream represents a stream of records. Errors receives at most one
// error; both channels are closed when the read ends.
type RecordStream struct {
	Records <-chan *Record
	Errors  <-chan error
}

// ChangeType represents the type of change
type ChangeType string

const (
	ChangeTypeInsert ChangeType = "insert"
	ChangeTypeUpdate ChangeType = "update"
	ChangeTypeDelete ChangeType = "delete"
)

// ChangeEvent is one row change computed by the host engine.
type ChangeEvent struct {
	Type ChangeType
	// ID is the remote id of an updated or deleted record.
	ID int64
	// Before holds the record's current values (updates only).
	Before map[string]interface{}
	// After holds the new values: the whole row of an insert, or the
	// changed columns of an update.
	After map[string]interface{}
}

// ChangeSet groups the changes of one sync run. Inserts are applied first,
// then updates, then deletes.
type ChangeSet struct {
	Inserts []*ChangeEvent
	Updates []*ChangeEvent
	Deletes []*ChangeEvent
}

// Len returns the number of changes.
func (cs *ChangeSet) Len() int {
	return len(cs.Inserts) + len(cs.Updates) + len(cs.Deletes)
}

// Add files an event under its change type.
func (cs *ChangeSet) Add(ev *ChangeEvent) {
	switch ev.Type {
	case ChangeTypeInsert:
		cs.Inserts = append(cs.Inserts, ev)
	case ChangeTypeUpdate:
		cs.Updates = append(cs.Updates, ev)
	case ChangeTypeDelete:
		cs.Deletes = append(cs.Deletes, ev)
	}
}

// ApplyResult reports the outcome of a ChangeSet.
type ApplyResult struct {
	Inserted int
	Updated  int
	Deleted  int
	Failed   int
	// CreatedIDs holds the new remote id of every insert, in order; zero
	// marks an insert that failed or was not attempted.
	CreatedIDs []int64
	Errors     []error
}

// Connector is the base interface for all connectors
type Connector interface {
	// Metadata
	Name() string
	Type() ConnectorType
	Version() string

	// Lifecycle
	Initialize(ctx context.Context) error
	Close(ctx context.Context) error

	// Health and monitoring
	Health(ctx context.Context) error
	Metrics() map[string]interface{}
}

// Source is the interface that all source connectors must implement
type Source interface {
	Connector

	Discover(ctx context.Context) (*Schema, error)
	// Read streams every record. columns selects a subset; nil means all.
	Read(ctx context.Context, columns []string) (*RecordStream, error)
	// ReadKeys streams the records whose keyColumn holds one of keys.
	ReadKeys(ctx context.Context, keyColumn string, keys []interface{}, columns []string) (*RecordStream, error)

	// State management
	GetState() State
	SetState(state State) error
	// Changed reports whether the record type changed since the state's
	// last_changed mark.
	Changed(ctx context.Context) (bool, error)

	// Capabilities
	SupportsKeyedRead() bool
	SupportsIncremental() bool
}

// Destination is the interface that all destination connectors must implement
type Destination interface {
	Connector

	Discover(ctx context.Context) (*Schema, error)
	Apply(ctx context.Context, changes *ChangeSet) (*ApplyResult, error)

	// Capabilities
	SupportsUpdate() bool
}

// SourceFactory creates source connector instances.
type SourceFactory func(cfg *config.PodioConfig) (Source, error)

// DestinationFactory creates destination connector instances.
type DestinationFactory func(cfg *config.PodioConfig) (Destination, error)

// ConnectorMetadata provides metadata about a connector
type ConnectorMetadata struct {
	Name         string        `json:"name"`
	Type         ConnectorType `json:"type"`
	Description  string        `json:"description"`
	Capabilities []string      `json:"capabilities"`
}
