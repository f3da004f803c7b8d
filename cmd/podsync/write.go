package main

import (
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/podsync/pkg/compression"
	"github.com/ajitpratap0/podsync/pkg/connector/core"
	"github.com/ajitpratap0/podsync/pkg/connector/registry"
	"github.com/ajitpratap0/podsync/pkg/errors"
	jsonpool "github.com/ajitpratap0/podsync/pkg/json"
)

// changeFile is the document read by the write command.
type changeFile struct {
	Inserts []map[string]interface{} `json:"inserts"`
	Updates []struct {
		ID     int64                  `json:"id"`
		Before map[string]interface{} `json:"before"`
		After  map[string]interface{} `json:"after"`
	} `json:"updates"`
	Deletes []int64 `json:"deletes"`
}

// decodeChanges reads a change file into a change set.
func decodeChanges(r io.Reader) (*core.ChangeSet, error) {
	var doc changeFile
	if err := jsonpool.Decode(r, &doc); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "invalid change file")
	}

	cs := &core.ChangeSet{}
	for _, row := range doc.Inserts {
		cs.Add(&core.ChangeEvent{Type: core.ChangeTypeInsert, After: row})
	}
	for i, u := range doc.Updates {
		if u.ID == 0 {
			return nil, errors.Newf(errors.ErrorTypeData, "update %d has no id", i)
		}
		cs.Add(&core.ChangeEvent{Type: core.ChangeTypeUpdate, ID: u.ID, Before: u.Before, After: u.After})
	}
	for _, id := range doc.Deletes {
		cs.Add(&core.ChangeEvent{Type: core.ChangeTypeDelete, ID: id})
	}
	return cs, nil
}

func readChangeFile(path string) (*core.ChangeSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to open change file")
	}
	defer f.Close()

	r, err := compression.NewReader(f, compression.FromPath(path))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return decodeChanges(r)
}

func (c *cli) writeCommand() *cobra.Command {
	var family, changes string
	cmd := &cobra.Command{
		Use:   "write",
		Short: "Apply a change file as creates, updates and deletes",
		Long: `Apply a JSON change file:

  {"inserts": [{"title": "New deal"}],
   "updates": [{"id": 5, "before": {"title": "Old"}, "after": {"title": "New"}}],
   "deletes": [6]}

Inserts are applied first, then updates, then deletes. The file may be
compressed; the codec is chosen by its extension.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cs, err := readChangeFile(changes)
			if err != nil {
				return err
			}

			name := connectorName(family)
			cfg, err := c.config(name)
			if err != nil {
				return err
			}
			dest, err := registry.CreateDestination(name, cfg)
			if err != nil {
				return err
			}
			if err := dest.Initialize(ctx); err != nil {
				return err
			}
			defer dest.Close(ctx)

			result, err := dest.Apply(ctx, cs)
			if result != nil {
				c.log.Info("changes applied",
					zap.String("connector", name),
					zap.Int("inserted", result.Inserted),
					zap.Int("updated", result.Updated),
					zap.Int("deleted", result.Deleted),
					zap.Int("failed", result.Failed),
					zap.Int64s("created_ids", result.CreatedIDs))
			}
			if err != nil {
				return err
			}
			if result.Failed > 0 {
				return errors.Newf(errors.ErrorTypeAPI, "%d of %d changes failed", result.Failed, cs.Len())
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&family, "family", "items", "Record family: items, members or contacts")
	cmd.Flags().StringVar(&changes, "changes", "", "Change file (required)")
	_ = cmd.MarkFlagRequired("changes")
	return cmd
}
