package podio

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/ajitpratap0/podsync/pkg/clients"
	"github.com/ajitpratap0/podsync/pkg/errors"
	"github.com/ajitpratap0/podsync/pkg/jsonvalue"
)

// Entry is a named object of the directory.
type Entry struct {
	Name string
	ID   int64
}

// AllItemsView is the pseudo view reading an app without a filter.
const AllItemsView = "All Items"

// Directory lists organizations, spaces, apps and views.
type Directory struct {
	api    Caller
	logger *zap.Logger
}

// NewDirectory creates a directory client.
func NewDirectory(api Caller, logger *zap.Logger) *Directory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Directory{api: api, logger: logger}
}

func (d *Directory) list(ctx context.Context, path string, nameOf func(*jsonvalue.Value) string, idKey string) ([]Entry, error) {
	doc, err := d.api.Call(ctx, http.MethodGet, path, nil, nil, clients.LevelMetadata)
	if err != nil {
		return nil, err
	}
	var out []Entry
	seen := make(map[string]bool)
	for _, it := range doc.Items() {
		id, ok := it.Get(idKey).Int64()
		if !ok {
			continue
		}
		out = append(out, Entry{Name: uniqueName(seen, nameOf(it)), ID: id})
	}
	return out, nil
}

// uniqueName suffixes repeated names with "/1", "/2", ...
func uniqueName(seen map[string]bool, name string) string {
	candidate := name
	for ix := 1; seen[candidate]; ix++ {
		candidate = fmt.Sprintf("%s/%d", name, ix)
	}
	seen[candidate] = true
	return candidate
}

func member(key string) func(*jsonvalue.Value) string {
	return func(v *jsonvalue.Value) string {
		s, _ := v.Get(key).Str()
		return s
	}
}

// Orgs lists the organizations of the authenticated user.
func (d *Directory) Orgs(ctx context.Context) ([]Entry, error) {
	return d.list(ctx, "org/", member("name"), "org_id")
}

// Spaces lists the spaces of an organization.
func (d *Directory) Spaces(ctx context.Context, orgID int64) ([]Entry, error) {
	return d.list(ctx, fmt.Sprintf("org/%d/space/", orgID), member("name"), "space_id")
}

// Apps lists the apps of a space.
func (d *Directory) Apps(ctx context.Context, spaceID int64) ([]Entry, error) {
	return d.list(ctx, fmt.Sprintf("app/space/%d/", spaceID), func(v *jsonvalue.Value) string {
		s, _ := v.Path("config", "name").Str()
		return s
	}, "app_id")
}

// Views lists the saved views of an app, led by the unfiltered view.
func (d *Directory) Views(ctx context.Context, appID int64) ([]Entry, error) {
	views, err := d.list(ctx, fmt.Sprintf("view/app/%d/", appID), member("name"), "view_id")
	if err != nil {
		return nil, err
	}
	out := []Entry{{Name: AllItemsView, ID: 0}}
	for _, v := range views {
		if v.Name == AllItemsView {
			v.Name += "/1"
		}
		out = append(out, v)
	}
	return out, nil
}

// SpaceName returns the name of a space.
func (d *Directory) SpaceName(ctx context.Context, spaceID int64) (string, error) {
	doc, err := d.api.Call(ctx, http.MethodGet, fmt.Sprintf("space/%d/", spaceID), nil, nil, clients.LevelMetadata)
	if err != nil {
		return "", err
	}
	name, _ := doc.Get("name").Str()
	return name, nil
}

// AddStatusMessage posts a status update to a space.
func (d *Directory) AddStatusMessage(ctx context.Context, spaceID int64, text string) error {
	body := jsonvalue.NewObject().Set("value", jsonvalue.NewString(text))
	_, err := d.api.Call(ctx, http.MethodPost, fmt.Sprintf("status/space/%d/", spaceID), nil, body, clients.LevelMetadata)
	return err
}

func find(entries []Entry, name string, fold bool) (int64, bool) {
	for _, e := range entries {
		if e.Name == name || (fold && strings.EqualFold(e.Name, name)) {
			return e.ID, true
		}
	}
	return 0, false
}

// ResolveAppID turns an app reference into an app id. Accepted forms are
// "name|id", a bare app name looked up in spaceID, and "org/space/app".
func (d *Directory) ResolveAppID(ctx context.Context, spaceID int64, path string) (int64, error) {
	if _, id, ok := strings.Cut(path, "|"); ok && id != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
		if err != nil {
			return 0, errors.Newf(errors.ErrorTypeConfig, "invalid app id in '%s'", path)
		}
		return n, nil
	}

	parts := strings.Split(path, "/")
	switch {
	case len(parts) == 1:
		if spaceID == 0 {
			return 0, errors.Newf(errors.ErrorTypeConfig, "app '%s' needs a space id", path)
		}
		apps, err := d.Apps(ctx, spaceID)
		if err != nil {
			return 0, err
		}
		if id, ok := find(apps, parts[0], true); ok {
			return id, nil
		}
	case len(parts) >= 3:
		orgName, spaceName, appName := parts[0], parts[1], parts[len(parts)-1]
		if len(parts) > 3 {
			spaceName = parts[1] + "/" + parts[2]
		}
		orgs, err := d.Orgs(ctx)
		if err != nil {
			return 0, err
		}
		orgID, ok := find(orgs, orgName, false)
		if !ok {
			break
		}
		spaces, err := d.Spaces(ctx, orgID)
		if err != nil {
			return 0, err
		}
		sid, ok := find(spaces, spaceName, false)
		if !ok {
			break
		}
		apps, err := d.Apps(ctx, sid)
		if err != nil {
			return 0, err
		}
		if id, ok := find(apps, appName, false); ok {
			return id, nil
		}
	}
	return 0, errors.Newf(errors.ErrorTypeNotFound, "app '%s' not found", path)
}
