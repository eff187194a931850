package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"rentcomps/config"
	"rentcomps/metrics"
	"rentcomps/models"
	"rentcomps/services"
	"rentcomps/storage"
	"rentcomps/utils"
)

func newSearchCmd(cfg *config.Config, logger *utils.Logger) *cobra.Command {
	var (
		subject      models.Subject
		criteria     = models.DefaultCriteria()
		propertyType string
		asJSON       bool
		csvPath      string
		archive      bool
	)
	criteria.RowLimit = cfg.SearchLimit

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Find and rank rental comps for a subject property",
		RunE: func(cmd *cobra.Command, args []string) error {
			pt, err := parsePropertyType(propertyType)
			if err != nil {
				return err
			}
			subject.PropertyType = pt

			a, err := newApp(cfg, logger, metrics.NoopRecorder{})
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())

			res, err := a.compService().FindComps(cmd.Context(), &subject, criteria)
			if err != nil {
				return err
			}

			if csvPath != "" {
				if err := writeRawCSV(csvPath, res.Raw); err != nil {
					logger.Error("[rentcomps] CSV capture failed: %v", err)
				} else {
					logger.Info("[rentcomps] %d raw rows saved to %s", len(res.Raw), csvPath)
				}
			}

			if archive {
				if id, err := archiveResult(cmd, cfg, logger, res); err != nil {
					logger.Error("[rentcomps] Archive failed: %v", err)
				} else {
					logger.Info("[rentcomps] Comp search archived as %s", id)
				}
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			return services.NewSummaryService(logger).Print(out, &subject, res.Comps, res.Summary)
		},
	}

	f := cmd.Flags()
	f.StringVar(&subject.Address, "address", "", "subject street address")
	f.StringVar(&subject.City, "city", "", "subject city")
	f.StringVar(&subject.State, "state", "", "subject state")
	f.StringVar(&subject.Zip, "zip", "", "subject postal code")
	f.IntVar(&subject.Bedrooms, "beds", 0, "subject bedrooms")
	f.IntVar(&subject.Bathrooms, "baths", 0, "subject bathrooms")
	f.IntVar(&subject.Sqft, "sqft", 0, "subject living area")
	f.IntVar(&subject.YearBuilt, "year-built", 0, "subject year built")
	f.StringVar(&propertyType, "type", "", "subject property type (Single Family, Condo, Townhouse, ...)")
	f.Float64Var(&subject.Lat, "lat", 0, "subject latitude")
	f.Float64Var(&subject.Lng, "lng", 0, "subject longitude")
	f.BoolVar(&subject.Furnished, "furnished", false, "subject is furnished")
	f.BoolVar(&subject.PetsAllowed, "pets", false, "subject allows pets")
	f.BoolVar(&subject.WasherDryer, "washer-dryer", false, "subject has a washer/dryer")
	f.BoolVar(&subject.Pool, "pool", false, "subject has a pool")
	f.BoolVar(&subject.UtilitiesIncluded, "utilities", false, "subject rent includes utilities")
	f.IntVar(&subject.ParkingSpaces, "parking", 0, "subject parking spaces")
	f.IntVar(&subject.GarageSpaces, "garage", 0, "subject garage spaces")

	f.Float64Var(&criteria.RadiusMiles, "radius", criteria.RadiusMiles, "maximum distance in miles")
	f.IntVar(&criteria.DateRangeMonths, "months", criteria.DateRangeMonths, "only listings from the last N months")
	f.IntVar(&criteria.BedVariance, "bed-variance", criteria.BedVariance, "allowed bedroom difference")
	f.IntVar(&criteria.BathVariance, "bath-variance", criteria.BathVariance, "allowed bathroom difference")
	f.Float64Var(&criteria.SqftVariancePercent, "sqft-variance", criteria.SqftVariancePercent, "allowed living area difference in percent")
	f.BoolVar(&criteria.PropertyTypeMatch, "match-type", false, "only listings of the subject's property type")
	f.BoolVar(&criteria.IncludeActive, "include-active", criteria.IncludeActive, "include active and pending listings")
	f.BoolVar(&criteria.RequireSqft, "require-sqft", criteria.RequireSqft, "drop listings without a living area")
	f.IntVar(&criteria.RowLimit, "limit", criteria.RowLimit, "maximum rows requested from the server")
	f.IntVar(&criteria.TopN, "top", criteria.TopN, "number of ranked comps to return")

	f.BoolVar(&asJSON, "json", false, "print the result as JSON")
	f.StringVar(&csvPath, "csv", cfg.CSVOutputPath, "capture raw RETS rows to this CSV file")
	f.BoolVar(&archive, "archive", cfg.ArchiveEnabled, "store the result in PostgreSQL")

	return cmd
}

func writeRawCSV(path string, rows []models.RawRecord) error {
	w, err := storage.NewCSVWriter(path)
	if err != nil {
		return err
	}
	if err := w.WriteRaw(rows); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

func archiveResult(cmd *cobra.Command, cfg *config.Config, logger *utils.Logger, res *models.CompResult) (string, error) {
	pg, err := openArchive(cfg, logger)
	if err != nil {
		return "", err
	}
	defer pg.Close()
	return pg.Write(cmd.Context(), res)
}

func openArchive(cfg *config.Config, logger *utils.Logger) (*storage.PostgresWriter, error) {
	return storage.NewPostgresWriter(cfg.DSN(), utils.RetryConfig{
		MaxAttempts: cfg.MaxRetries,
		BaseDelay:   500 * time.Millisecond,
		Logger:      logger,
	})
}

func newPhotoCmd(cfg *config.Config, logger *utils.Logger) *cobra.Command {
	var (
		index  int
		count  int
		outDir string
	)

	cmd := &cobra.Command{
		Use:   "photo <listing-id>",
		Short: "Download listing photos",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			listingID := args[0]
			a, err := newApp(cfg, logger, metrics.NoopRecorder{})
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())
			fetcher := a.photoFetcher()

			if err := os.MkdirAll(outDir, 0755); err != nil {
				return fmt.Errorf("photo: create output dir: %w", err)
			}

			if count > 0 {
				photos, fetchErr := fetcher.FetchAll(cmd.Context(), listingID, count)
				for _, p := range photos {
					if err := savePhoto(cmd, outDir, listingID, p.Index, p.Data); err != nil {
						return err
					}
				}
				return fetchErr
			}

			obj, err := fetcher.Fetch(cmd.Context(), listingID, index)
			if err != nil {
				return err
			}
			if obj == nil {
				return fmt.Errorf("listing %s has no photo %d", listingID, index)
			}
			return savePhoto(cmd, outDir, listingID, index, obj.Data)
		},
	}

	cmd.Flags().IntVar(&index, "idx", 0, "photo index to fetch (0 is the preferred photo)")
	cmd.Flags().IntVar(&count, "count", 0, "fetch photos 1..count concurrently instead of one")
	cmd.Flags().StringVar(&outDir, "out", "photos", "output directory")
	return cmd
}

func savePhoto(cmd *cobra.Command, dir, listingID string, index int, data []byte) error {
	path := filepath.Join(dir, fmt.Sprintf("%s-%d.jpg", listingID, index))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("photo: write %s: %w", path, err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}

func newMetadataCmd(cfg *config.Config, logger *utils.Logger) *cobra.Command {
	var metaType, id string

	cmd := &cobra.Command{
		Use:   "metadata",
		Short: "Print a raw RETS metadata document",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cfg, logger, metrics.NoopRecorder{})
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())

			body, err := a.client.GetMetadata(cmd.Context(), metaType, id)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), body)
			return err
		},
	}

	cmd.Flags().StringVar(&metaType, "type", "METADATA-CLASS", "metadata type")
	cmd.Flags().StringVar(&id, "id", "Property", "metadata id")
	return cmd
}
