package main

import (
	"context"
	"encoding/json"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/kataster/internal/api"
	"github.com/sells-group/kataster/internal/batchio"
	"github.com/sells-group/kataster/internal/model"
)

var (
	batchInput       string
	batchKind        string
	batchOutput      string
	batchColumn      string
	batchSheet       string
	batchLimit       int
	batchConcurrency int
)

var batchCmd = &cobra.Command{
	Use:   "batch [--input] <ids.csv|ids.xlsx>",
	Short: "Resolve a list of identifiers from a CSV or XLSX file",
	Long:  "Writes one JSON line per identifier, or a polygon shapefile when --output ends in .shp. Failed identifiers become error records and do not stop the batch.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		input := batchInput
		if input == "" && len(args) == 1 {
			input = args[0]
		}
		if input == "" {
			return eris.New("batch: an input file is required")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		kind, ok := model.ParseKind(batchKind)
		if !ok || kind.IsCoordinate() {
			return eris.Errorf("batch: unsupported kind %q", batchKind)
		}

		ids, err := batchio.ReadIDs(input, batchio.InputOptions{Column: batchColumn, Sheet: batchSheet})
		if err != nil {
			return err
		}

		env, err := initLookups(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		out, err := batchio.NewWriter(batchOutput)
		if err != nil {
			return err
		}

		concurrency := batchConcurrency
		if concurrency <= 0 {
			concurrency = cfg.Batch.Concurrency
		}
		_, runErr := processBatch(ctx, env.Lookups, kind, ids, batchLimit, concurrency, out)
		if err := out.Close(); err != nil && runErr == nil {
			runErr = err
		}
		return runErr
	},
}

// batchSummary counts batch outcomes.
type batchSummary struct {
	Succeeded int64
	Failed    int64
	Cached    int64
	// Written and Skipped are set for writers that drop records, such as
	// shapefiles skipping results without polygon geometry.
	Written int
	Skipped int
}

// processBatch applies limit, then resolves ids concurrently. Individual
// failures become error records; only writer failures abort the batch.
func processBatch(ctx context.Context, l api.Lookuper, kind model.Kind, ids []string, limit, concurrency int, out batchio.Writer) (batchSummary, error) {
	if len(ids) == 0 {
		zap.L().Info("no identifiers found")
		return batchSummary{}, nil
	}

	// Apply limit
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	if concurrency < 1 {
		concurrency = 1
	}

	zap.L().Info("processing batch",
		zap.String("kind", string(kind)),
		zap.Int("ids", len(ids)),
		zap.Int("concurrency", concurrency),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var succeeded, failed, cached atomic.Int64

	for _, id := range ids {
		g.Go(func() error {
			rec := batchio.Record{ID: id, Kind: kind, Status: batchio.StatusOK}

			res, err := l.ByIdentifier(gctx, kind, id)
			if err != nil {
				failed.Add(1)
				rec.Status = batchio.StatusError
				rec.Error = describe(err).Error()
				zap.L().Warn("batch: lookup failed", zap.String("id", id), zap.Error(err))
			} else {
				succeeded.Add(1)
				if res.Hit {
					cached.Add(1)
				}
				rec.Cached = res.Hit
				rec.Result = json.RawMessage(res.Body)
			}

			return out.Write(rec)
		})
	}

	summary := batchSummary{}
	err := g.Wait()
	summary.Succeeded = succeeded.Load()
	summary.Failed = failed.Load()
	summary.Cached = cached.Load()
	if err != nil {
		return summary, eris.Wrap(err, "batch processing")
	}

	fields := []zap.Field{
		zap.Int64("succeeded", summary.Succeeded),
		zap.Int64("failed", summary.Failed),
		zap.Int64("cached", summary.Cached),
	}
	if c, ok := out.(batchio.Counter); ok {
		summary.Written, summary.Skipped = c.Counts()
		fields = append(fields, zap.Int("written", summary.Written), zap.Int("skipped", summary.Skipped))
	}
	zap.L().Info("batch complete", fields...)
	return summary, nil
}

func init() {
	batchCmd.Flags().StringVarP(&batchInput, "input", "i", "", "identifier file (.csv, .txt or .xlsx)")
	batchCmd.Flags().StringVar(&batchKind, "kind", string(model.KindParcel), "entity kind of the identifiers")
	batchCmd.Flags().StringVarP(&batchOutput, "output", "o", "results.jsonl", "output file (.jsonl or .shp)")
	batchCmd.Flags().StringVar(&batchColumn, "column", "", "header column holding identifiers (default first column)")
	batchCmd.Flags().StringVar(&batchSheet, "sheet", "", "XLSX sheet name (default first sheet)")
	batchCmd.Flags().IntVar(&batchLimit, "limit", 0, "max number of identifiers to process (0 = all)")
	batchCmd.Flags().IntVar(&batchConcurrency, "concurrency", 0, "parallel lookups (default from config)")
	rootCmd.AddCommand(batchCmd)
}
