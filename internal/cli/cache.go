package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/popfix/internal/cache"
	"github.com/ppiankov/popfix/internal/model"
	"github.com/ppiankov/popfix/internal/util"
)

// cacheCmd groups cache maintenance commands
var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the code listing cache",
}

// cacheClearCmd represents the cache clear command
var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every cached code listing",
	Long: `Clear empties the on-disk cache of code property listings so the next
run asks the query service again. Entities are never cached.

Example:
  popfix cache clear`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		dir, err := clearCache(cfg.Cache)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "✓ Cleared cache at %s\n", dir)
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}

// clearCache empties both cache layers and returns the directory cleared
func clearCache(cfg model.CacheConfig) (string, error) {
	dir := util.ExpandHome(cfg.Dir)
	if err := cache.NewLayeredCache(cfg.MemoryTTL, dir, cfg.DiskTTL).Clear(); err != nil {
		return dir, fmt.Errorf("clear cache: %w", err)
	}
	return dir, nil
}
