// Command routerctl holds operator commands that run outside the router service:
// policy checks, schema migrations and dead letter queue inspection.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JiscPER/jper-sub000/config"
	"github.com/JiscPER/jper-sub000/pkg/database"
	"github.com/JiscPER/jper-sub000/pkg/redis"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type cli struct {
	cfg    config.Config
	logger ectologger.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:          "routerctl",
		Short:        "Operator commands for the publications router",
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return c.init()
		},
	}
	root.AddCommand(c.versionCmd(), c.policyCmd(), c.migrateCmd(), c.dlqCmd())
	return root
}

func (c *cli) init() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	zapCfg := zap.NewDevelopmentConfig()
	if err := zapCfg.Level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	zapLogger, err := zapCfg.Build()
	if err != nil {
		return err
	}
	c.cfg = cfg
	c.logger = zapadapter.NewZapEctoLogger(zapLogger, nil)
	return nil
}

func (c *cli) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the configured application name and version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", c.cfg.AppName, c.cfg.AppVersion)
		},
	}
}

func (c *cli) policyCmd() *cobra.Command {
	policy := &cobra.Command{
		Use:   "policy",
		Short: "Routing policy commands",
	}
	policy.AddCommand(&cobra.Command{
		Use:   "check [file]",
		Short: "Strictly validate a routing policy file (defaults to ROUTING_POLICY_FILE)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := c.cfg.RoutingPolicyFile
			if len(args) == 1 {
				path = args[0]
			}
			p, err := config.CheckPolicyFile(path)
			if err != nil {
				return err
			}

			providers := make([]string, 0, len(p.GoldAllowLists))
			for provider := range p.GoldAllowLists {
				providers = append(providers, provider)
			}
			sort.Strings(providers)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: ok\n", path)
			fmt.Fprintf(out, "  postcode matching:    %t\n", p.Matching.PostcodeMatching)
			fmt.Fprintf(out, "  gold allow-lists:     %v\n", providers)
			fmt.Fprintf(out, "  repackage formats:    %d\n", len(p.RepackageFormats))
			fmt.Fprintf(out, "  max stalled attempts: %d\n", p.MaxStalledAttempts)
			fmt.Fprintf(out, "  call timeout:         %s\n", p.CallTimeout)
			return nil
		},
	})
	return policy
}

func (c *cli) migrateCmd() *cobra.Command {
	var (
		version uint
		force   int
	)
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			migrations := c.cfg.Migrations()
			if cmd.Flags().Changed("version") {
				migrations.Version = version
			}
			if cmd.Flags().Changed("force") {
				migrations.Force = force
			}

			db, err := database.Connect(cmd.Context(), c.cfg.Database(), c.logger)
			if err != nil {
				return err
			}
			defer db.Close()

			return database.NewMigrationService(c.logger, migrations).Migrate(db)
		},
	}
	cmd.Flags().UintVar(&version, "version", 0, "migrate to this schema version instead of the latest")
	cmd.Flags().IntVar(&force, "force", 0, "mark the schema clean at this version before migrating")
	return cmd
}

func (c *cli) dlqCmd() *cobra.Command {
	dlq := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect the dead letter queue",
	}

	var count int64
	list := &cobra.Command{
		Use:   "list",
		Short: "Print the oldest dead-lettered messages as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			queue, closeFn, err := c.deadLetterQueue()
			if err != nil {
				return err
			}
			defer closeFn()

			entries, err := queue.List(cmd.Context(), count)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(entries)
		},
	}
	list.Flags().Int64Var(&count, "count", 100, "maximum number of entries")

	del := &cobra.Command{
		Use:   "delete <message-id>...",
		Short: "Remove entries from the dead letter queue",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			queue, closeFn, err := c.deadLetterQueue()
			if err != nil {
				return err
			}
			defer closeFn()

			for _, id := range args {
				if err := queue.Delete(cmd.Context(), id); err != nil {
					return fmt.Errorf("deleting %s: %w", id, err)
				}
			}
			return nil
		},
	}

	dlq.AddCommand(list, del)
	return dlq
}

func (c *cli) deadLetterQueue() (*redis.DeadLetterQueue, func(), error) {
	client, err := redis.NewClient(c.cfg.Redis(), c.logger)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() { _ = client.Close() }
	return redis.NewDeadLetterQueue(client, c.cfg.DeadLetterQueueStream, c.logger), closeFn, nil
}
