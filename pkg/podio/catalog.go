package podio

import (
	"fmt"
	"strings"
	"sync"

	"github.com/ajitpratap0/podsync/pkg/errors"
	"github.com/ajitpratap0/podsync/pkg/jsonvalue"
)

// FieldDefinition is one custom field of an app definition.
type FieldDefinition struct {
	FieldID    int64
	ExternalID string
	Label      string
	Type       string
	Status     string
	Config     *jsonvalue.Value
}

// Settings returns config.settings, or nil.
func (f FieldDefinition) Settings() *jsonvalue.Value {
	return f.Config.Get("settings")
}

// Active reports whether the field is live.
func (f FieldDefinition) Active() bool {
	return f.Status == "" || f.Status == "active"
}

// AppDefinition is the subset of an app definition the catalog needs.
type AppDefinition struct {
	AppID    int64
	SpaceID  int64
	Name     string
	ItemName string
	AppToken string
	Fields   []FieldDefinition
}

// ParseAppDefinition reads the response of GET app/{id}.
func ParseAppDefinition(doc *jsonvalue.Value) (*AppDefinition, error) {
	if !doc.IsObject() {
		return nil, errors.New(errors.ErrorTypeData, "app definition is not an object")
	}
	def := &AppDefinition{}
	def.AppID, _ = doc.Get("app_id").Int64()
	def.SpaceID, _ = doc.Get("space_id").Int64()
	def.AppToken, _ = doc.Get("token").Str()
	def.Name, _ = doc.Path("config", "name").Str()
	def.ItemName, _ = doc.Path("config", "item_name").Str()
	if def.AppID == 0 {
		return nil, errors.New(errors.ErrorTypeData, "app definition has no app_id")
	}

	for _, f := range doc.Get("fields").Items() {
		fd := FieldDefinition{Config: f.Get("config")}
		fd.FieldID, _ = f.Get("field_id").Int64()
		fd.ExternalID, _ = f.Get("external_id").Str()
		fd.Type, _ = f.Get("type").Str()
		fd.Status, _ = f.Get("status").Str()
		fd.Label, _ = fd.Config.Get("label").Str()
		if fd.Label == "" {
			fd.Label = fd.ExternalID
		}
		def.Fields = append(def.Fields, fd)
	}
	return def, nil
}

// SchemaCatalog is the ordered set of flat columns for one source.
type SchemaCatalog struct {
	identity string
	columns  []*ColumnDescriptor
	index    map[string]*ColumnDescriptor
}

// Identity names what the catalog was built from.
func (c *SchemaCatalog) Identity() string { return c.identity }

// Columns returns every column in catalog order.
func (c *SchemaCatalog) Columns() []*ColumnDescriptor { return c.columns }

// Len returns the column count.
func (c *SchemaCatalog) Len() int { return len(c.columns) }

// Column returns the column with key.
func (c *SchemaCatalog) Column(key string) (*ColumnDescriptor, bool) {
	col, ok := c.index[key]
	return col, ok
}

// Keys returns the column keys in catalog order.
func (c *SchemaCatalog) Keys() []string {
	out := make([]string, len(c.columns))
	for i, col := range c.columns {
		out[i] = col.Key
	}
	return out
}

// Select returns the columns for keys, in the order given. An empty key
// list selects every column.
func (c *SchemaCatalog) Select(keys []string) ([]*ColumnDescriptor, error) {
	if len(keys) == 0 {
		return c.columns, nil
	}
	out := make([]*ColumnDescriptor, 0, len(keys))
	for _, k := range keys {
		col, ok := c.index[k]
		if !ok {
			return nil, errors.Validation(k, "unknown column '%s'", k)
		}
		out = append(out, col)
	}
	return out, nil
}

// Siblings returns every custom field column sharing root, in catalog order.
func (c *SchemaCatalog) Siblings(root string) []*ColumnDescriptor {
	var out []*ColumnDescriptor
	for _, col := range c.columns {
		if !col.IsRoot && col.RootFieldName == root {
			out = append(out, col)
		}
	}
	return out
}

type catalogBuilder struct {
	identity string
	columns  []*ColumnDescriptor
	index    map[string]*ColumnDescriptor
}

func newCatalogBuilder(identity string) *catalogBuilder {
	return &catalogBuilder{identity: identity, index: make(map[string]*ColumnDescriptor)}
}

// add appends col unless its key is taken.
func (b *catalogBuilder) add(col *ColumnDescriptor) {
	if _, ok := b.index[col.Key]; ok {
		return
	}
	b.columns = append(b.columns, col)
	b.index[col.Key] = col
}

func (b *catalogBuilder) build() *SchemaCatalog {
	return &SchemaCatalog{identity: b.identity, columns: b.columns, index: b.index}
}

func columnKey(externalID, suffix string) string {
	if suffix == "" {
		return externalID
	}
	return externalID + "|" + suffix
}

func fieldColumn(f FieldDefinition, suffix, sub string, nt NativeType, dt DeclaredType) *ColumnDescriptor {
	display := f.Label
	if suffix != "" {
		display = f.Label + "|" + suffix
	}
	return &ColumnDescriptor{
		Key:           columnKey(f.ExternalID, suffix),
		DisplayName:   display,
		RootFieldName: f.ExternalID,
		SubKey:        sub,
		NativeType:    nt,
		DeclaredType:  dt,
		FieldType:     f.Type,
		FieldID:       f.FieldID,
		Nullable:      true,
	}
}

// rootColumn describes an envelope member of a fixed-shape catalog.
type rootColumn struct {
	key       string
	name      string
	sub       string
	container string
	dt        DeclaredType
	readOnly  bool
	unique    bool
	multi     bool
	indexed   bool
	index     int
}

func (r rootColumn) descriptor() *ColumnDescriptor {
	name := r.name
	if name == "" {
		name = r.key
	}
	return &ColumnDescriptor{
		Key:                 r.key,
		DisplayName:         r.key,
		RootFieldName:       name,
		SubKey:              r.sub,
		Container:           r.container,
		NativeType:          NativeString,
		DeclaredType:        r.dt,
		IsRoot:              true,
		IsMultiValue:        r.multi,
		IsIndexedMultiValue: r.indexed,
		Index:               r.index,
		ReadOnly:            r.readOnly,
		Unique:              r.unique,
		Nullable:            !r.unique,
	}
}

var itemRootColumns = []rootColumn{
	{key: "external_id", dt: TypeString},
	{key: "item_id", dt: TypeInt64, unique: true},
	{key: "app_item_id", dt: TypeInt32, readOnly: true},
	{key: "app_item_id_formatted", dt: TypeString, readOnly: true},
	{key: "created_on", dt: TypeDateTime, readOnly: true},
	{key: "last_event_on", dt: TypeDateTime, readOnly: true},
	{key: "created_by|user_id", name: "created_by", sub: "user_id", dt: TypeInt32, readOnly: true},
	{key: "created_by|name", name: "created_by", sub: "name", dt: TypeString, readOnly: true},
}

// BuildItemCatalog expands an app definition into flat columns: the item
// envelope first, then every active field in definition order.
func BuildItemCatalog(def *AppDefinition) *SchemaCatalog {
	b := newCatalogBuilder(fmt.Sprintf("app:%d", def.AppID))
	for _, rc := range itemRootColumns {
		b.add(rc.descriptor())
	}
	for _, f := range def.Fields {
		if !f.Active() || f.ExternalID == "" {
			continue
		}
		kindForField(f.Type).expand(b, f)
	}
	return b.build()
}

// RawJSONCatalog is the fixed column set of raw JSON mode.
func RawJSONCatalog() *SchemaCatalog {
	b := newCatalogBuilder("raw-json")
	for _, rc := range []rootColumn{
		{key: "item_id", dt: TypeInt64, unique: true, readOnly: true},
		{key: "app_id", dt: TypeInt64, readOnly: true},
		{key: "external_id", dt: TypeString, readOnly: true},
		{key: "created", name: "created_on", dt: TypeDateTime, readOnly: true},
		{key: "modified", name: "last_event_on", dt: TypeDateTime, readOnly: true},
		{key: "title", dt: TypeString, readOnly: true},
		{key: "json", dt: TypeJSON, readOnly: true},
	} {
		b.add(rc.descriptor())
	}
	return b.build()
}

// indexed returns count columns prefix1..prefixN over name[0..N-1].
func indexed(prefix, name, container string, count int) []rootColumn {
	out := make([]rootColumn, count)
	for i := range out {
		out[i] = rootColumn{
			key:       fmt.Sprintf("%s%d", prefix, i+1),
			name:      name,
			container: container,
			dt:        TypeString,
			indexed:   true,
			index:     i,
		}
	}
	return out
}

// MembersCatalog is the fixed column set of space members.
func MembersCatalog() *SchemaCatalog {
	const p = "profile"
	cols := []rootColumn{
		{key: "external_id", container: p, dt: TypeString, readOnly: true},
		{key: "profile_id", container: p, dt: TypeInt32, readOnly: true},
		{key: "user_id", container: p, dt: TypeInt32, unique: true},
		{key: "type", container: p, dt: TypeString, readOnly: true},
		{key: "name", container: p, dt: TypeString, readOnly: true},
		{key: "title", container: p, dt: TypeString, readOnly: true},
		{key: "organization", container: p, dt: TypeString, readOnly: true},
	}
	cols = append(cols, indexed("emailaddress", "mail", p, 3)...)
	cols = append(cols, indexed("phone", "phone", p, 4)...)
	cols = append(cols, indexed("address", "address", p, 3)...)
	for _, k := range []string{"city", "state", "zip", "country", "location"} {
		cols = append(cols, rootColumn{key: k, container: p, dt: TypeString, readOnly: true})
	}
	cols = append(cols, rootColumn{key: "avatar", container: p, dt: TypeInt32, readOnly: true})
	for _, k := range []string{"skype", "twitter", "linkedin", "about", "birthdate", "url"} {
		cols = append(cols, rootColumn{key: k, container: p, dt: TypeString, readOnly: true})
	}
	cols = append(cols,
		rootColumn{key: "skills", name: "skill", container: p, dt: TypeStringArray, multi: true, readOnly: true},
		rootColumn{key: "last_seen_on", container: p, dt: TypeDateTime, readOnly: true},
		rootColumn{key: "employee", dt: TypeBool, readOnly: true},
		rootColumn{key: "role", dt: TypeString},
	)

	b := newCatalogBuilder("members")
	for _, rc := range cols {
		b.add(rc.descriptor())
	}
	return b.build()
}

// ContactsCatalog is the fixed column set of space contacts.
func ContactsCatalog() *SchemaCatalog {
	cols := []rootColumn{
		{key: "external_id", dt: TypeString},
		{key: "profile_id", dt: TypeInt64, unique: true, readOnly: true},
		{key: "name", dt: TypeString},
		{key: "title", dt: TypeString},
		{key: "organization", dt: TypeString},
	}
	cols = append(cols, indexed("emailaddress", "mail", "", 3)...)
	cols = append(cols, indexed("phone", "phone", "", 4)...)
	cols = append(cols, indexed("address", "address", "", 3)...)
	for _, k := range []string{"city", "state", "zip", "country", "skype", "about"} {
		cols = append(cols, rootColumn{key: k, dt: TypeString})
	}

	b := newCatalogBuilder("contacts")
	for _, rc := range cols {
		b.add(rc.descriptor())
	}
	return b.build()
}

// CatalogCache keeps the catalog of the current app definition and rebuilds
// it only when the app identity changes.
type CatalogCache struct {
	mu      sync.Mutex
	appID   int64
	def     *AppDefinition
	catalog *SchemaCatalog
	builds  int
}

// Catalog returns the cached catalog for appID, calling load on a miss.
func (c *CatalogCache) Catalog(appID int64, load func() (*AppDefinition, error)) (*SchemaCatalog, *AppDefinition, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.catalog != nil && c.appID == appID {
		return c.catalog, c.def, nil
	}
	def, err := load()
	if err != nil {
		return nil, nil, err
	}
	c.appID = appID
	c.def = def
	c.catalog = BuildItemCatalog(def)
	c.builds++
	return c.catalog, c.def, nil
}

// Invalidate drops the cached catalog.
func (c *CatalogCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.catalog = nil
	c.def = nil
	c.appID = 0
}

// Builds returns how many catalogs were built.
func (c *CatalogCache) Builds() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.builds
}

// String renders the column for schema listings.
func (col *ColumnDescriptor) String() string {
	var flags []string
	if col.ReadOnly {
		flags = append(flags, "ro")
	}
	if col.Unique {
		flags = append(flags, "unique")
	}
	if col.IsMultiValue {
		flags = append(flags, "multi")
	}
	s := fmt.Sprintf("%s %s", col.Key, col.DeclaredType)
	if len(flags) > 0 {
		s += " [" + strings.Join(flags, ",") + "]"
	}
	return s
}
