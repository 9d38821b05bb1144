package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vibebiz/premium/internal/bundle"
	"github.com/vibebiz/premium/internal/config"
	"github.com/vibebiz/premium/internal/distribution"
	"github.com/vibebiz/premium/internal/integrity"
	"github.com/vibebiz/premium/internal/license"
	"github.com/vibebiz/premium/internal/models"
)

// publisher registers a descriptor with the catalog.
type publisher interface {
	Publish(ctx context.Context, comp *models.Component) (*models.Component, error)
}

func newPublishCmd(a *app) *cobra.Command {
	var (
		slug     string
		name     string
		version  string
		tierFlag string
		deps     []string
	)

	cmd := &cobra.Command{
		Use:   "publish <dir|archive.tar.gz>",
		Short: "Upload a component version and add it to the catalog",
		Long: `Publish packs a component directory (or takes a prebuilt .tar.gz), uploads
it to the artifact store configured by VIBEBIZ_ARTIFACT_STORE and the
VIBEBIZ_ARTIFACT_DIR or VIBEBIZ_S3_* variables, and registers the descriptor
with its SHA-256 content hash.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tier, err := license.ParseTier(tierFlag)
			if err != nil {
				return err
			}
			artifacts, err := config.LoadArtifactConfig()
			if err != nil {
				return err
			}
			store, err := artifacts.OpenStore(cmd.Context())
			if err != nil {
				return err
			}
			c, err := a.client()
			if err != nil {
				return err
			}

			comp := &models.Component{
				Slug:         slug,
				Name:         name,
				Version:      version,
				RequiredTier: tier,
				Dependencies: deps,
			}
			if comp.Name == "" {
				comp.Name = slug
			}

			published, err := publish(cmd.Context(), store, c, comp, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Published %s (%s)\n", published.Ref(), published.ContentHash)
			return nil
		},
	}

	cmd.Flags().StringVar(&slug, "slug", "", "Component slug (required)")
	cmd.Flags().StringVar(&name, "name", "", "Display name (default: slug)")
	cmd.Flags().StringVar(&version, "version", "", "Semantic version (required)")
	cmd.Flags().StringVar(&tierFlag, "tier", "", "Required tier (required)")
	cmd.Flags().StringSliceVar(&deps, "depends", nil, "Slugs this component depends on")
	_ = cmd.MarkFlagRequired("slug")
	_ = cmd.MarkFlagRequired("version")
	_ = cmd.MarkFlagRequired("tier")

	return cmd
}

// publish uploads the artifact at src and registers comp. Storage locations
// embed the content hash, so a rejected duplicate version never replaces
// the artifact an existing descriptor points to.
func publish(ctx context.Context, store distribution.ArtifactStore, pub publisher, comp *models.Component, src string) (*models.Component, error) {
	archive, cleanup, err := archiveFor(ctx, comp.Slug, src)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	hash, err := integrity.ComputeFile(archive)
	if err != nil {
		return nil, fmt.Errorf("hash archive: %w", err)
	}
	digest := strings.TrimPrefix(hash, integrity.Prefix)
	location := fmt.Sprintf("%s/%s-%s%s", comp.Slug, comp.Version, digest[:12], bundle.Extension)

	f, err := os.Open(archive)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := store.Put(ctx, location, f); err != nil {
		return nil, fmt.Errorf("upload artifact: %w", err)
	}

	desc := *comp
	desc.ContentHash = hash
	desc.StorageLocation = location
	return pub.Publish(ctx, &desc)
}

// archiveFor returns a bundle for src, packing directories into a temp file.
func archiveFor(ctx context.Context, slug, src string) (string, func(), error) {
	info, err := os.Stat(src)
	if err != nil {
		return "", nil, err
	}
	if !info.IsDir() {
		if !strings.HasSuffix(src, bundle.Extension) {
			return "", nil, fmt.Errorf("%s is neither a directory nor a %s archive", src, bundle.Extension)
		}
		return src, func() {}, nil
	}

	tmp, err := os.CreateTemp("", "vibebiz-publish-*"+bundle.Extension)
	if err != nil {
		return "", nil, err
	}
	cleanup := func() { os.Remove(tmp.Name()) }

	if err := bundle.Pack(ctx, filepath.Clean(src), slug, tmp); err != nil {
		tmp.Close()
		cleanup()
		return "", nil, err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", nil, err
	}
	return tmp.Name(), cleanup, nil
}

func newCatalogCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Manage the component catalog",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "import <catalog.yaml>",
		Short: "Publish every component listed in a YAML manifest",
		Long: `Import registers descriptors whose artifacts are already in the store.
Versions that already exist are skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			var r io.Reader = os.Stdin
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}

			res, err := c.ImportCatalog(cmd.Context(), r)
			if err != nil {
				return err
			}
			for _, ref := range res.Published {
				fmt.Printf("published %s\n", ref)
			}
			for _, ref := range res.Skipped {
				fmt.Printf("skipped   %s (already exists)\n", ref)
			}
			return nil
		},
	})
	return cmd
}
