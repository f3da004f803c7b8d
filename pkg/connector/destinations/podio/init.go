package podio

import (
	"github.com/ajitpratap0/podsync/pkg/connector/core"
	"github.com/ajitpratap0/podsync/pkg/connector/registry"
)

func init() {
	_ = registry.RegisterDestination("podio-items", NewItemsDestination)
	registry.Describe(&core.ConnectorMetadata{
		Name:         "podio-items",
		Type:         core.ConnectorTypeDestination,
		Description:  "Creates, updates and deletes the items of one app",
		Capabilities: []string{"discover", "insert", "update", "delete"},
	})

	_ = registry.RegisterDestination("podio-members", NewMembersDestination)
	registry.Describe(&core.ConnectorMetadata{
		Name:         "podio-members",
		Type:         core.ConnectorTypeDestination,
		Description:  "Invites, updates and removes the members of one space",
		Capabilities: []string{"discover", "insert", "update", "delete"},
	})

	_ = registry.RegisterDestination("podio-contacts", NewContactsDestination)
	registry.Describe(&core.ConnectorMetadata{
		Name:         "podio-contacts",
		Type:         core.ConnectorTypeDestination,
		Description:  "Creates, updates and deletes the contacts of one space",
		Capabilities: []string{"discover", "insert", "update", "delete"},
	})
}
