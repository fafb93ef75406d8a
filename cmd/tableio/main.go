package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/tableio/tableio/datastore"
	"github.com/tableio/tableio/pkg/config"
	"github.com/tableio/tableio/pkg/engine"
	"github.com/tableio/tableio/pkg/models/kr"
	"github.com/tableio/tableio/pkg/models/scan"
	"github.com/tableio/tableio/pkg/tablelog"
	"github.com/tableio/tableio/registry"
)

var (
	cfgPath   string
	srcTable  string
	destTable string
	startKey  string
	endKey    string
)

var rootCmd = &cobra.Command{
	Use:   "tableio run --config `path-to-config`",
	Short: "tableio",
	Long:  "Splittable range-scan reader and batched mutation sink runner",
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		tablelog.Zero.Fatal().Err(err).Msg("")
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "/etc/tableio/config.yaml", "path to config file")
	rootCmd.PersistentFlags().StringVar(&srcTable, "source-table", "", "table to scan")
	rootCmd.PersistentFlags().StringVar(&destTable, "dest-table", "", "table to write")
	rootCmd.PersistentFlags().StringVar(&startKey, "start-key", "", "inclusive scan start key")
	rootCmd.PersistentFlags().StringVar(&endKey, "end-key", "", "exclusive scan end key, empty for unbounded")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(loadCmd)
}

func setup() (datastore.Store, registry.Registry, error) {
	if err := config.LoadTableioCfg(cfgPath); err != nil {
		return nil, nil, err
	}
	cfg := config.TableioConfig()
	if cfg.LogFile != "" {
		tablelog.Zero = tablelog.NewZeroLogger(cfg.LogFile)
	}
	if err := tablelog.UpdateZeroLogLevel(cfg.LogLevel); err != nil {
		return nil, nil, err
	}

	store, err := datastore.NewStore(cfg.DataStore, cfg.DataFolder)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to open datastore")
	}
	reg, err := registry.NewRegistry(cfg.Registry, cfg.RegistryAddr)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to open registry")
	}
	return store, reg, nil
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "copy a bounded key range between tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		if srcTable == "" || destTable == "" {
			return fmt.Errorf("--source-table and --dest-table are required")
		}

		store, reg, err := setup()
		if err != nil {
			return err
		}

		ctx, cancelCtx := context.WithCancel(context.Background())
		defer cancelCtx()

		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGHUP, syscall.SIGTERM)
		go func() {
			s := <-sigs
			tablelog.Zero.Info().Str("signal", s.String()).Msg("got signal")
			cancelCtx()
		}()

		desc := scan.NewDescriptor(srcTable, kr.KeyRange{
			LowerBound: []byte(startKey),
			UpperBound: []byte(endKey),
		}, nil)
		if err := reg.AddWorkUnit(ctx, registry.NewWorkUnit(desc)); err != nil {
			return errors.Wrap(err, "failed to enqueue scan")
		}

		eng := engine.New(store, reg, destTable)
		if err := eng.Run(ctx); err != nil {
			return errors.Wrap(err, "engine failed")
		}
		stats := eng.Stats()
		tablelog.Zero.Info().
			Int64("rows", stats.RowsCopied).
			Int64("units", stats.UnitsDone).
			Msg("copy complete")
		return nil
	},
}

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "seed a table from stdin, one tab-separated key/value per line",
	RunE: func(cmd *cobra.Command, args []string) error {
		if srcTable == "" {
			return fmt.Errorf("--source-table is required")
		}

		store, _, err := setup()
		if err != nil {
			return err
		}
		seeder, ok := store.(interface{ Put(string, []byte, []byte) error })
		if !ok {
			return fmt.Errorf("datastore %q does not support seeding", config.TableioConfig().DataStore)
		}

		scanner := bufio.NewScanner(os.Stdin)
		var n int
		for scanner.Scan() {
			key, value, found := strings.Cut(scanner.Text(), "\t")
			if !found || key == "" {
				continue
			}
			if err := seeder.Put(srcTable, []byte(key), []byte(value)); err != nil {
				return errors.Wrap(err, "failed to seed row")
			}
			n++
		}
		if err := scanner.Err(); err != nil {
			return err
		}
		tablelog.Zero.Info().Int("rows", n).Str("table", srcTable).Msg("seeded table")
		return nil
	},
}

func main() {
	Execute()
}
