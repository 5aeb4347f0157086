package main

import (
	"context"
	"fmt"
	"io"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/kataster/internal/cache"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Maintain the lookup cache",
}

var cachePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete expired entries from the configured cache backend",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := cache.Open(cmd.Context(), cfg.CacheSettings())
		if err != nil {
			return err
		}
		defer store.Close()
		return purgeCache(cmd.Context(), store, cmd.OutOrStdout())
	},
}

// purgeCache removes expired entries when the backend supports it. Redis
// expires keys itself.
func purgeCache(ctx context.Context, store cache.Store, w io.Writer) error {
	p, ok := store.(cache.Purger)
	if !ok {
		fmt.Fprintln(w, "backend expires entries itself; nothing to purge")
		return nil
	}
	n, err := p.Purge(ctx)
	if err != nil {
		return eris.Wrap(err, "cache: purge")
	}
	zap.L().Info("cache purged", zap.Int64("removed", n))
	fmt.Fprintf(w, "removed %d expired entries\n", n)
	return nil
}

func init() {
	cacheCmd.AddCommand(cachePurgeCmd)
	rootCmd.AddCommand(cacheCmd)
}
