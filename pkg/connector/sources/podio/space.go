package podio

import (
	"context"

	"github.com/ajitpratap0/podsync/pkg/config"
	"github.com/ajitpratap0/podsync/pkg/connector/core"
	"github.com/ajitpratap0/podsync/pkg/connector/shared/podioconn"
	"github.com/ajitpratap0/podsync/pkg/errors"
	podioapi "github.com/ajitpratap0/podsync/pkg/podio"
)

// spaceLister is a fixed-shape space listing: members or contacts.
type spaceLister interface {
	Catalog() *podioapi.SchemaCatalog
	FetchAll(ctx context.Context, columns []*podioapi.ColumnDescriptor, sink podioapi.RowSink) error
}

type spaceBackend struct {
	list spaceLister
}

func (b spaceBackend) catalog(context.Context) (*podioapi.SchemaCatalog, error) {
	return b.list.Catalog(), nil
}

func (b spaceBackend) fetchAll(ctx context.Context, _ *podioapi.SchemaCatalog, columns []*podioapi.ColumnDescriptor, sink podioapi.RowSink) error {
	return b.list.FetchAll(ctx, columns, sink)
}

func requireSpace(cfg *config.PodioConfig) error {
	if cfg == nil {
		return errors.New(errors.ErrorTypeConfig, "configuration is required")
	}
	if cfg.SpaceID == 0 {
		return errors.New(errors.ErrorTypeConfig, "space_id is required")
	}
	return nil
}

// NewMembersSource creates a space members source.
func NewMembersSource(cfg *config.PodioConfig) (core.Source, error) {
	if err := requireSpace(cfg); err != nil {
		return nil, err
	}
	var s *recordSource
	s = newRecordSource("podio-members", cfg, func(_ context.Context, conn *podioconn.Connection) (backend, error) {
		return spaceBackend{podioapi.NewMembers(conn.API, conn.SpaceConfig(), s.GetMetricsCollector(), s.GetLogger())}, nil
	})
	return s, nil
}

// NewContactsSource creates a space contacts source.
func NewContactsSource(cfg *config.PodioConfig) (core.Source, error) {
	if err := requireSpace(cfg); err != nil {
		return nil, err
	}
	var s *recordSource
	s = newRecordSource("podio-contacts", cfg, func(_ context.Context, conn *podioconn.Connection) (backend, error) {
		return spaceBackend{podioapi.NewContacts(conn.API, conn.SpaceConfig(), s.GetMetricsCollector(), s.GetLogger())}, nil
	})
	return s, nil
}
