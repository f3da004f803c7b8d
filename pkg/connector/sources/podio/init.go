package podio

import (
	"github.com/ajitpratap0/podsync/pkg/connector/core"
	"github.com/ajitpratap0/podsync/pkg/connector/registry"
)

func init() {
	_ = registry.RegisterSource("podio-items", NewItemsSource)
	registry.Describe(&core.ConnectorMetadata{
		Name:         "podio-items",
		Type:         core.ConnectorTypeSource,
		Description:  "Items of one app, flattened into columns",
		Capabilities: []string{"discover", "read", "keyed_read", "incremental", "raw_json"},
	})

	_ = registry.RegisterSource("podio-members", NewMembersSource)
	registry.Describe(&core.ConnectorMetadata{
		Name:         "podio-members",
		Type:         core.ConnectorTypeSource,
		Description:  "Members of one space",
		Capabilities: []string{"discover", "read"},
	})

	_ = registry.RegisterSource("podio-contacts", NewContactsSource)
	registry.Describe(&core.ConnectorMetadata{
		Name:         "podio-contacts",
		Type:         core.ConnectorTypeSource,
		Description:  "Contacts of one space",
		Capabilities: []string{"discover", "read"},
	})
}
