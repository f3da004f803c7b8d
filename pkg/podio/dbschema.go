package podio

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ajitpratap0/podsync/pkg/clients"
)

// SchemaExportCatalog describes the rows produced by ExportSchema.
func SchemaExportCatalog() *SchemaCatalog {
	b := newCatalogBuilder("schema")
	for _, rc := range []rootColumn{
		{key: "app", dt: TypeString, readOnly: true},
		{key: "column", dt: TypeString, readOnly: true},
		{key: "display_name", dt: TypeString, readOnly: true},
		{key: "data_type", dt: TypeString, readOnly: true},
		{key: "native_type", dt: TypeString, readOnly: true},
		{key: "nullable", dt: TypeBool, readOnly: true},
		{key: "read_only", dt: TypeBool, readOnly: true},
		{key: "unique", dt: TypeBool, readOnly: true},
	} {
		b.add(rc.descriptor())
	}
	return b.build()
}

// ExportSchema emits one row per column of every app in a space.
func (d *Directory) ExportSchema(ctx context.Context, spaceID int64, sink RowSink) error {
	apps, err := d.Apps(ctx, spaceID)
	if err != nil {
		return err
	}

	var n int64
	for _, app := range apps {
		if err := ctx.Err(); err != nil {
			return err
		}
		doc, err := d.api.Call(ctx, http.MethodGet, fmt.Sprintf("app/%d", app.ID), nil, nil, clients.LevelMetadata)
		if err != nil {
			return err
		}
		def, err := ParseAppDefinition(doc)
		if err != nil {
			return err
		}
		for _, col := range BuildItemCatalog(def).Columns() {
			n++
			row := Row{
				"app":          app.Name,
				"column":       col.Key,
				"display_name": col.DisplayName,
				"data_type":    col.DeclaredType.String(),
				"native_type":  col.NativeType.String(),
				"nullable":     col.Nullable,
				"read_only":    col.ReadOnly,
				"unique":       col.Unique,
			}
			if sink.Add(n, row) == Stop {
				return nil
			}
		}
	}
	return nil
}
