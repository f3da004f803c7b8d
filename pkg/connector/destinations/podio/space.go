package podio

import (
	"context"

	"github.com/ajitpratap0/podsync/pkg/config"
	"github.com/ajitpratap0/podsync/pkg/connector/core"
	"github.com/ajitpratap0/podsync/pkg/connector/shared/podioconn"
	"github.com/ajitpratap0/podsync/pkg/errors"
	podioapi "github.com/ajitpratap0/podsync/pkg/podio"
)

// spaceTarget writes a fixed-shape space family.
type spaceTarget struct {
	cat                     *podioapi.SchemaCatalog
	creates, updates, drops batchFunc
}

func (t spaceTarget) catalog(context.Context) (*podioapi.SchemaCatalog, error) { return t.cat, nil }
func (t spaceTarget) create(context.Context) (batchFunc, error) { return t.creates, nil }
func (t spaceTarget) update(context.Context) (batchFunc, error) { return t.updates, nil }
func (t spaceTarget) delete(context.Context) (batchFunc, error) { return t.drops, nil }

func requireSpace(cfg *config.PodioConfig) error {
	if cfg == nil {
		return errors.New(errors.ErrorTypeConfig, "configuration is required")
	}
	if cfg.SpaceID == 0 {
		return errors.New(errors.ErrorTypeConfig, "space_id is required")
	}
	return nil
}

// NewMembersDestination creates a space members destination. Inserts invite
// members, updates change their role and deletes end the membership.
func NewMembersDestination(cfg *config.PodioConfig) (core.Destination, error) {
	if err := requireSpace(cfg); err != nil {
		return nil, err
	}
	var d *recordDestination
	d = newRecordDestination("podio-members", cfg, func(_ context.Context, conn *podioconn.Connection) (target, error) {
		m := podioapi.NewMembers(conn.API, conn.SpaceConfig(), d.GetMetricsCollector(), d.GetLogger())
		return spaceTarget{cat: m.Catalog(), creates: m.Add, updates: m.Update, drops: m.Delete}, nil
	})
	return d, nil
}

// NewContactsDestination creates a space contacts destination.
func NewContactsDestination(cfg *config.PodioConfig) (core.Destination, error) {
	if err := requireSpace(cfg); err != nil {
		return nil, err
	}
	var d *recordDestination
	d = newRecordDestination("podio-contacts", cfg, func(_ context.Context, conn *podioconn.Connection) (target, error) {
		c := podioapi.NewContacts(conn.API, conn.SpaceConfig(), d.GetMetricsCollector(), d.GetLogger())
		return spaceTarget{cat: c.Catalog(), creates: c.Create, updates: c.Update, drops: c.Delete}, nil
	})
	return d, nil
}
