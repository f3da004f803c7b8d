// Package podsync exposes Podio apps, space members and space contacts as
// flat, typed records that a host sync engine can read and write.
//
// Each app is described by a schema catalog: one column per field (or per
// field part, for money and ranged dates) plus the fixed item columns. The
// codec turns item documents into rows and rows back into field payloads.
// Reads page through the items of an app, optionally through a view, or
// fetch items by key; writes apply row changes as item creates, updates and
// deletes.
//
// # Quick Start
//
//	import (
//	    "context"
//
//	    "github.com/ajitpratap0/podsync/pkg/config"
//	    "github.com/ajitpratap0/podsync/pkg/connector/registry"
//	    _ "github.com/ajitpratap0/podsync/pkg/connector/sources/podio"
//	)
//
//	cfg := config.NewPodioConfig("crm", "podio-items")
//	cfg.App = "acme/sales/deals"
//	cfg.Security.Credentials["client_id"] = "..."
//	cfg.Security.Credentials["client_secret"] = "..."
//	cfg.Security.Credentials["refresh_token"] = "..."
//
//	src, _ := registry.CreateSource("podio-items", cfg)
//	_ = src.Initialize(context.Background())
//	stream, _ := src.Read(context.Background(), nil)
//
// # Key Packages
//
//	pkg/podio        - Catalog, codec, reader, writer, members, contacts, directory
//	pkg/clients      - HTTP transport, OAuth tokens and rate tracking
//	pkg/connector    - Source and destination connectors and their registry
//	pkg/store        - Connection registry persisted in bbolt
//	pkg/config       - Connector configuration
//	pkg/errors       - Structured error handling
//	pkg/logger       - Structured logging
//	pkg/metrics      - Prometheus metrics
//	pkg/observability - Request tracing
//
// The podsync command wraps all of this for use from a shell.
package podsync
