package workflow

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"loom/internal/asset"
	"loom/internal/files"
	"loom/internal/payload"
)

// Converter turns the document behind a file field into a PDF stored
// under a fresh reference. Implementations mutate the asset's payload;
// the conversion lane persists it afterwards.
type Converter interface {
	Convert(ctx context.Context, a *asset.Asset, settings asset.BehaviorSettings) error
}

// RenameConverter is the built-in stand-in for a real document
// converter. It copies the source file under a new reference with a
// .pdf name, which keeps the conversion lane exercisable without an
// office suite on the host.
type RenameConverter struct {
	Files *files.Store
}

func (c *RenameConverter) Convert(ctx context.Context, a *asset.Asset, settings asset.BehaviorSettings) error {
	source := settings.ConvertField
	target := settings.ConvertTargetField
	if source == "" || target == "" {
		return fmt.Errorf("conversion fields not configured: %w", asset.ErrConfiguration)
	}
	first, ok := a.Payload.First(source)
	if !ok {
		return fmt.Errorf("field %q has no file to convert: %w", source, asset.ErrDataMissing)
	}
	ref, ok := first.Str()
	if !ok || ref == "" {
		return fmt.Errorf("field %q holds no storage reference: %w", source, asset.ErrDataMissing)
	}

	names, err := c.Files.List(ref)
	if err != nil {
		return fmt.Errorf("list source files: %w", err)
	}
	if len(names) == 0 {
		return fmt.Errorf("reference %s holds no files: %w", ref, asset.ErrDataMissing)
	}

	newRef := c.Files.NewRef()
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}
		src, err := c.Files.Open(ref, name)
		if err != nil {
			return err
		}
		converted := strings.TrimSuffix(name, filepath.Ext(name)) + ".pdf"
		err = c.Files.Save(newRef, converted, src)
		src.Close()
		if err != nil {
			return err
		}
	}

	a.Payload[target] = []payload.Value{payload.String(newRef)}
	return nil
}
