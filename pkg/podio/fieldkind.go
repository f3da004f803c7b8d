package podio

import (
	"strings"
	"time"

	"github.com/ajitpratap0/podsync/pkg/errors"
	"github.com/ajitpratap0/podsync/pkg/jsonvalue"
)

// fieldKind owns the three behaviours of one native field family: how a
// field definition expands into columns, how a column value is extracted
// from the field's native values, and how a cell value is written back.
type fieldKind interface {
	expand(b *catalogBuilder, f FieldDefinition)
	extract(x *extractor, col *ColumnDescriptor, values *jsonvalue.Value) (interface{}, error)
	assemble(a *assembly, col *ColumnDescriptor, value interface{}) error
}

// gatheringKind marks kinds that rebuild the whole field from every sibling
// column of the row, so a null cell still goes through assemble.
type gatheringKind interface {
	gathers() bool
}

var kindsByFieldType = map[string]fieldKind{
	"text":     wholeKind{nt: NativeString, dt: TypeString},
	"number":   wholeKind{nt: NativeNumber, dt: TypeDecimal},
	"progress": wholeKind{nt: NativeNumber, dt: TypeInt32},
	"duration": wholeKind{nt: NativeDuration, dt: TypeInt32},
	"date":     dateKind{},
	"money":    moneyKind{},
	"app":      appKind,
	"contact":  contactKind,
	"image":    imageKind,
	"embed":    embedKind,
	"category": optionKind{nt: NativeCategory},
	"question": optionKind{nt: NativeQuestion},
	"email":    typedListKind{nt: NativeEmail, types: []string{"work", "home", "other"}},
	"phone":    typedListKind{nt: NativePhone, types: []string{"mobile", "home", "work", "main", "work_fax", "private_fax", "other"}},
	"location": locationKind{},
}

// kindForField returns the expansion for a remote field type. Unknown types
// degrade to a single text column.
func kindForField(fieldType string) fieldKind {
	if k, ok := kindsByFieldType[fieldType]; ok {
		return k
	}
	return wholeKind{nt: NativeString, dt: TypeString}
}

// kindFor returns the behaviour for a built column.
func kindFor(col *ColumnDescriptor) fieldKind {
	switch col.NativeType {
	case NativeDateTime:
		return dateKind{}
	case NativeMoney:
		return moneyKind{}
	case NativeApp:
		return appKind
	case NativeContact:
		return contactKind
	case NativeImage:
		return imageKind
	case NativeLink:
		return embedKind
	case NativeCategory, NativeQuestion:
		return optionKind{nt: col.NativeType}
	case NativeEmail, NativePhone:
		return typedListKind{nt: col.NativeType}
	case NativeLocation:
		return locationKind{}
	case NativeString, NativeNumber, NativeDuration:
		return wholeKind{nt: col.NativeType, dt: col.DeclaredType}
	}
	return wholeKind{nt: NativeString, dt: TypeString}
}

func arrayOf(dt DeclaredType) DeclaredType {
	switch dt {
	case TypeString:
		return TypeStringArray
	case TypeInt32:
		return TypeInt32Array
	case TypeInt64:
		return TypeInt64Array
	default:
		return dt
	}
}

// extractor carries the read-side settings shared by every column.
type extractor struct {
	codec *Codec
	// local, when set, is the zone timed dates are returned in.
	local *time.Location
}

func (x *extractor) handlingLocation() *time.Location {
	if x.local != nil {
		return x.local
	}
	return time.UTC
}

// first returns values[0][sub] converted to the column type.
func (x *extractor) first(col *ColumnDescriptor, values *jsonvalue.Value) (interface{}, error) {
	return x.codec.ToDeclared(values.Index(0).Get(col.SubKey), col.NativeType, col.DeclaredType)
}

// each collects values[i].value[sub] (or values[i].embed[sub]) into an array.
func (x *extractor) each(col *ColumnDescriptor, values *jsonvalue.Value) (interface{}, error) {
	arr := jsonvalue.NewArray()
	for _, entry := range values.Items() {
		inner := entry.Get("value")
		if inner == nil {
			inner = entry.Get("embed")
		}
		arr.Append(inner.Get(col.SubKey))
	}
	return x.codec.ToDeclared(arr, col.NativeType, col.DeclaredType)
}

// wholeKind is a single column holding values[0].value.
type wholeKind struct {
	nt NativeType
	dt DeclaredType
}

func (k wholeKind) expand(b *catalogBuilder, f FieldDefinition) {
	b.add(fieldColumn(f, "", "", k.nt, k.dt))
}

func (k wholeKind) extract(x *extractor, col *ColumnDescriptor, values *jsonvalue.Value) (interface{}, error) {
	return x.codec.ToDeclared(values.Index(0).Get("value"), col.NativeType, col.DeclaredType)
}

func (k wholeKind) assemble(a *assembly, col *ColumnDescriptor, value interface{}) error {
	v, err := a.codec.ToNative(value, col.NativeType, col.DeclaredType)
	if err != nil {
		return a.convertError(col, err)
	}
	a.fields.Set(col.RootFieldName, v)
	return nil
}

// dateKind expands into start and end columns. The end requires the start.
type dateKind struct{}

func (dateKind) expand(b *catalogBuilder, f FieldDefinition) {
	timeEnabled := true
	if t := f.Settings().Get("time"); t != nil {
		s, _ := t.Text()
		timeEnabled = strings.EqualFold(s, "enabled")
	}
	startSub, endSub := "start_utc", "end_utc"
	if !timeEnabled {
		startSub, endSub = "start_date", "end_date"
	}

	start := fieldColumn(f, "startdate", startSub, NativeDateTime, TypeDateTime)
	start.TimeUTCField = "start_time_utc"
	start.TimeDisabled = !timeEnabled
	start.Dependencies = []Dependency{{Key: columnKey(f.ExternalID, "enddate")}}

	end := fieldColumn(f, "enddate", endSub, NativeDateTime, TypeDateTime)
	end.TimeUTCField = "end_time_utc"
	end.TimeDisabled = !timeEnabled
	end.Dependencies = []Dependency{{Key: columnKey(f.ExternalID, "startdate"), Required: true}}

	b.add(start)
	b.add(end)
}

func (dateKind) extract(x *extractor, col *ColumnDescriptor, values *jsonvalue.Value) (interface{}, error) {
	v := values.Index(0)
	s, ok := v.Get(col.SubKey).Text()
	if !ok || s == "" {
		return nil, nil
	}

	var (
		t   time.Time
		err error
	)
	if v.Get(col.TimeUTCField).IsNull() {
		t, err = x.codec.ParseTime(s, x.handlingLocation())
	} else {
		t, err = x.codec.ParseTime(s, time.UTC)
		if err == nil && !col.TimeDisabled && x.local != nil {
			t = t.In(x.local)
		}
	}
	if err != nil {
		return nil, err
	}
	if col.DeclaredType == TypeDateTime {
		return t, nil
	}
	return x.codec.Coerce(t, col.DeclaredType)
}

func (dateKind) assemble(a *assembly, col *ColumnDescriptor, value interface{}) error {
	v, err := a.nativeDate(col, value)
	if err != nil {
		return err
	}
	a.object(col.RootFieldName).Set(col.SubKey, v)
	return nil
}

// moneyKind expands into amount and currency, each depending on the other.
type moneyKind struct{}

func (moneyKind) expand(b *catalogBuilder, f FieldDefinition) {
	amount := fieldColumn(f, "amount", "value", NativeMoney, TypeDecimal)
	amount.Dependencies = []Dependency{{Key: columnKey(f.ExternalID, "currency")}}
	currency := fieldColumn(f, "currency", "currency", NativeMoney, TypeString)
	currency.Dependencies = []Dependency{{Key: columnKey(f.ExternalID, "amount")}}
	b.add(amount)
	b.add(currency)
}

func (moneyKind) extract(x *extractor, col *ColumnDescriptor, values *jsonvalue.Value) (interface{}, error) {
	return x.first(col, values)
}

func (moneyKind) assemble(a *assembly, col *ColumnDescriptor, value interface{}) error {
	v, err := a.codec.ToNative(value, col.NativeType, col.DeclaredType)
	if err != nil {
		return a.convertError(col, err)
	}
	a.object(col.RootFieldName).Set(col.SubKey, v)
	return nil
}

// subColumn describes one column of a reference-style field.
type subColumn struct {
	suffix   string
	sub      string
	dt       DeclaredType
	readOnly bool
}

// refKind covers fields whose values are references to other objects (app
// items, contacts, files, embeds). Every column reads across all values;
// writes go through the one sub-key the API accepts, so every other column
// is read-only.
type refKind struct {
	nt      NativeType
	columns []subColumn
	// settable is the sub-key submitted as a list of ids.
	settable string
	// urlSub, when set, is submitted as {"url": value}.
	urlSub string
}

var appKind = refKind{
	nt: NativeApp,
	columns: []subColumn{
		{"", "item_id", TypeInt64Array, false},
		{"title", "title", TypeStringArray, true},
	},
	settable: "item_id",
}

var contactKind = refKind{
	nt: NativeContact,
	columns: []subColumn{
		{"user_id", "user_id", TypeInt64Array, true},
		{"profile_id", "profile_id", TypeInt64Array, false},
		{"connection_id", "connection_id", TypeInt64Array, true},
		{"external_id", "external_id", TypeStringArray, true},
		{"name", "name", TypeStringArray, true},
	},
	settable: "profile_id",
}

var imageKind = refKind{
	nt: NativeImage,
	columns: []subColumn{
		{"id", "file_id", TypeInt32, false},
		{"name", "name", TypeString, true},
		{"description", "description", TypeString, true},
		{"mimetype", "mimetype", TypeString, true},
		{"size", "size", TypeInt32, true},
		{"perma_link", "perma_link", TypeString, true},
		{"link", "link", TypeString, true},
		{"thumbnail_link", "thumbnail_link", TypeString, true},
	},
	settable: "file_id",
}

var embedKind = refKind{
	nt: NativeLink,
	columns: []subColumn{
		{"id", "embed_id", TypeInt32, false},
		{"original_url", "original_url", TypeString, false},
		{"resolved_url", "resolved_url", TypeString, true},
		{"title", "title", TypeString, true},
		{"description", "description", TypeString, true},
		{"type", "type", TypeString, true},
	},
	settable: "embed_id",
	urlSub:   "original_url",
}

func (k refKind) expand(b *catalogBuilder, f FieldDefinition) {
	for _, sc := range k.columns {
		col := fieldColumn(f, sc.suffix, sc.sub, k.nt, sc.dt)
		col.IsMultiValue = true
		col.ReadOnly = sc.readOnly
		b.add(col)
	}
}

func (k refKind) extract(x *extractor, col *ColumnDescriptor, values *jsonvalue.Value) (interface{}, error) {
	return x.each(col, values)
}

func (k refKind) assemble(a *assembly, col *ColumnDescriptor, value interface{}) error {
	if cur := a.fields.Get(col.RootFieldName); cur != nil && !cur.IsNull() {
		return nil
	}
	switch col.SubKey {
	case k.settable:
		v, err := a.codec.ToNative(value, col.NativeType, arrayOf(col.DeclaredType))
		if err != nil {
			return a.convertError(col, err)
		}
		a.fields.Set(col.RootFieldName, v)
	case k.urlSub:
		v, err := a.codec.ToNative(value, col.NativeType, TypeString)
		if err != nil {
			return a.convertError(col, err)
		}
		if !v.IsNull() {
			a.fields.Set(col.RootFieldName, jsonvalue.NewObject().Set("url", v))
		}
	}
	return nil
}

// optionKind covers category and question fields: an id column and a text
// column sharing one lookup table of active options.
type optionKind struct {
	nt NativeType
}

func (k optionKind) expand(b *catalogBuilder, f FieldDefinition) {
	settings := f.Settings()
	multiple, _ := settings.Get("multiple").Bool()

	lookup := NewLookup()
	for _, opt := range settings.Get("options").Items() {
		if status, _ := opt.Get("status").Str(); status != "active" {
			continue
		}
		text, ok := opt.Get("text").Text()
		id, okID := opt.Get("id").Int64()
		if ok && okID {
			lookup.Add(text, id)
		}
	}

	idType, textType := TypeInt32, TypeString
	if multiple {
		idType, textType = TypeInt32Array, TypeStringArray
	}
	id := fieldColumn(f, "id", "id", k.nt, idType)
	id.IsMultiValue = true
	id.Lookup = lookup
	text := fieldColumn(f, "text", "text", k.nt, textType)
	text.IsMultiValue = true
	text.Lookup = lookup
	b.add(id)
	b.add(text)
}

func (k optionKind) extract(x *extractor, col *ColumnDescriptor, values *jsonvalue.Value) (interface{}, error) {
	return x.each(col, values)
}

func (k optionKind) assemble(a *assembly, col *ColumnDescriptor, value interface{}) error {
	if col.SubKey != "text" {
		v, err := a.codec.ToNative(value, col.NativeType, col.DeclaredType)
		if err != nil {
			return a.convertError(col, err)
		}
		a.fields.Set(col.RootFieldName, v)
		return nil
	}

	texts, err := a.codec.Coerce(value, TypeStringArray)
	if err != nil {
		return a.convertError(col, err)
	}
	var ids []int64
	if texts != nil {
		for _, t := range texts.([]string) {
			id, ok := col.Lookup.Resolve(t)
			if !ok {
				return errors.Validation(col.Key, "cannot lookup [id] value in '%s' for text value '%s'", col.DisplayName, t).
					WithDetail(errors.DetailField, col.RootFieldName)
			}
			ids = append(ids, id)
		}
	}
	switch {
	case len(ids) == 0:
		a.fields.Set(col.RootFieldName, jsonvalue.NewNull())
	case col.DeclaredType.IsArray():
		a.fields.Set(col.RootFieldName, jsonvalue.MustFrom(ids))
	default:
		a.fields.Set(col.RootFieldName, jsonvalue.NewInt(ids[0]))
	}
	return nil
}

// typedListKind covers email and phone fields: one column per type label,
// several values of one type joined with ";".
type typedListKind struct {
	nt    NativeType
	types []string
}

func (k typedListKind) gathers() bool { return true }

func (k typedListKind) expand(b *catalogBuilder, f FieldDefinition) {
	for _, t := range k.types {
		b.add(fieldColumn(f, t, t, k.nt, TypeString))
	}
}

func (k typedListKind) extract(x *extractor, col *ColumnDescriptor, values *jsonvalue.Value) (interface{}, error) {
	var matches []string
	for _, entry := range values.Items() {
		if t, _ := entry.Get("type").Str(); t != col.SubKey {
			continue
		}
		if s, ok := entry.Get("value").Text(); ok {
			matches = append(matches, s)
		}
	}
	if len(matches) == 0 {
		return nil, nil
	}
	return x.codec.ToDeclared(jsonvalue.NewString(strings.Join(matches, ";")), col.NativeType, col.DeclaredType)
}

func (k typedListKind) assemble(a *assembly, col *ColumnDescriptor, _ interface{}) error {
	if !a.firstTouch(col.RootFieldName) {
		return nil
	}
	list := jsonvalue.NewArray()
	for _, sib := range a.catalog.Siblings(col.RootFieldName) {
		raw, err := a.codec.Coerce(a.merged[sib.Key], TypeString)
		if err != nil {
			return a.convertError(sib, err)
		}
		s, _ := raw.(string)
		for _, part := range strings.Split(s, ";") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			list.Append(jsonvalue.NewObject().
				Set("type", jsonvalue.NewString(sib.SubKey)).
				Set("value", jsonvalue.NewString(part)))
		}
	}
	a.fields.Set(col.RootFieldName, list)
	return nil
}

// locationKind expands an address into its components.
type locationKind struct{}

var locationColumns = []subColumn{
	{"", "value", TypeString, false},
	{"formatted", "formatted", TypeString, false},
	{"street_number", "street_number", TypeString, false},
	{"street_name", "street_name", TypeString, false},
	{"city", "city", TypeString, false},
	{"state", "state", TypeString, false},
	{"postal_code", "postal_code", TypeString, false},
	{"country", "country", TypeString, false},
	{"lat", "lat", TypeDouble, false},
	{"lng", "lng", TypeDouble, false},
	{"map_in_sync", "map_in_sync", TypeBool, false},
}

func (locationKind) gathers() bool { return true }

func (locationKind) expand(b *catalogBuilder, f FieldDefinition) {
	for _, sc := range locationColumns {
		b.add(fieldColumn(f, sc.suffix, sc.sub, NativeLocation, sc.dt))
	}
}

func (locationKind) extract(x *extractor, col *ColumnDescriptor, values *jsonvalue.Value) (interface{}, error) {
	return x.first(col, values)
}

func (locationKind) assemble(a *assembly, col *ColumnDescriptor, _ interface{}) error {
	if !a.firstTouch(col.RootFieldName) {
		return nil
	}
	obj := jsonvalue.NewObject()
	for _, sib := range a.catalog.Siblings(col.RootFieldName) {
		val := a.merged[sib.Key]
		if val == nil {
			continue
		}
		v, err := a.codec.ToNative(val, sib.NativeType, sib.DeclaredType)
		if err != nil {
			return a.convertError(sib, err)
		}
		if v.IsNull() {
			continue
		}
		obj.Set(sib.SubKey, v)
	}
	if obj.Len() == 0 {
		a.fields.Set(col.RootFieldName, jsonvalue.NewNull())
		return nil
	}
	a.fields.Set(col.RootFieldName, obj)
	return nil
}
