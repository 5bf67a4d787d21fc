package keeper

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/keepstack/keeper/pkg/docstore"
)

// systemDocsVersion gates re-seeding of the bundled meta-docs. Bump when a
// bundled definition changes.
const systemDocsVersion = 1

const (
	systemMarkerID = ".system/docs"
	tagDocsVersion = "_docs_version"
)

// bundledMetaDocs are the meta-docs every fresh store starts with. They are
// ordinary definitions and can be overwritten or extended at runtime.
var bundledMetaDocs = []MetaDoc{
	{
		Name:             "todo",
		Clauses:          []map[string]string{{"type": "todo", "status": "open"}},
		ContextKeys:      []string{"project"},
		PrerequisiteKeys: []string{"project"},
	},
	{
		Name:        "learnings",
		Clauses:     []map[string]string{{"type": "learning"}},
		ContextKeys: []string{"project"},
	},
	{
		Name:             "genre",
		Clauses:          []map[string]string{{"type": "note"}},
		ContextKeys:      []string{"genre"},
		PrerequisiteKeys: []string{"genre"},
	},
}

// seedSystemDocs installs the bundled meta-docs once per systemDocsVersion.
// A hidden marker document records the installed version.
func (k *Keeper) seedSystemDocs(ctx context.Context) error {
	rec, err := k.docs.Get(ctx, k.collection, systemMarkerID)
	if err == nil {
		if v, parseErr := strconv.Atoi(rec.Tags[tagDocsVersion]); parseErr == nil && v >= systemDocsVersion {
			return nil
		}
	} else if !errors.Is(err, docstore.ErrNotFound) {
		return err
	}

	for _, md := range bundledMetaDocs {
		if err := k.meta.Register(ctx, md); err != nil {
			return fmt.Errorf("failed to register bundled meta-doc %q: %w", md.Name, err)
		}
	}

	version := strconv.Itoa(systemDocsVersion)
	if err := k.docs.Upsert(ctx, docstore.Record{
		Collection:  k.collection,
		ID:          systemMarkerID,
		Summary:     "system docs marker",
		Tags:        map[string]string{tagDocsVersion: version},
		ContentHash: HashContent(version),
	}); err != nil {
		return fmt.Errorf("failed to record seed marker: %w", err)
	}

	k.logger.Info().Int("version", systemDocsVersion).Msg("Seeded system meta-docs")
	return nil
}
