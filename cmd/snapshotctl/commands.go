package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/INLOpen/tablesnap/config"
	"github.com/INLOpen/tablesnap/core"
	"github.com/INLOpen/tablesnap/server"
	"github.com/INLOpen/tablesnap/snapshot"
	"github.com/INLOpen/tablesnap/utils/clock"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// cli holds the global flags and the collaborators tests swap out.
type cli struct {
	configPath string
	verbose    bool

	fs    afero.Fs
	clock clock.Clock
}

func newRootCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshotctl",
		Short: "Manage table snapshots",
		Long: `snapshotctl works directly on the data directories named in the
configuration file. Snapshots are hard links of a table's live files plus a
manifest and the schema needed to recreate the table.

  # Snapshot every table, tagged with the current time
  snapshotctl snapshot

  # Snapshot two tables with an expiring tag
  snapshotctl snapshot -t before-upgrade --ttl 24h --kt-list ks.users,ks.events

  # Remove one tag everywhere
  snapshotctl clearsnapshot -t before-upgrade`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&c.configPath, "config", "config.yaml", "path to the configuration file")
	cmd.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "log at debug level to stderr")

	cmd.AddCommand(
		newSnapshotCmd(c),
		newClearSnapshotCmd(c),
		newListSnapshotsCmd(c),
		newSweepCmd(c),
		newCreateKeyspaceCmd(c),
		newCreateTableCmd(c),
		newCreateIndexCmd(c),
		newDropTableCmd(c),
		newTruncateCmd(c),
		newDropKeyspaceCmd(c),
	)
	return cmd
}

// open loads the configuration and builds a node whose registry reflects the disk.
func (c *cli) open(cmd *cobra.Command) (*server.Node, error) {
	cfg, err := config.LoadConfig(c.configPath)
	if err != nil {
		return nil, err
	}
	cfg.Metrics.Enabled = false

	level := slog.LevelWarn
	if c.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	node, err := server.NewNode(cfg, logger, server.NodeOptions{Fs: c.fs, Clock: c.clock})
	if err != nil {
		return nil, err
	}
	if _, err := node.Open(cmd.Context()); err != nil {
		node.Close()
		return nil, err
	}
	return node, nil
}

type nodeFunc func(cmd *cobra.Command, node *server.Node, args []string) error

func (c *cli) withNode(fn nodeFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		node, err := c.open(cmd)
		if err != nil {
			return err
		}
		defer node.Close()
		return fn(cmd, node, args)
	}
}

func splitQualified(name string) (string, string, error) {
	ks, table, ok := strings.Cut(name, ".")
	if !ok || ks == "" || table == "" {
		return "", "", fmt.Errorf("expected <keyspace>.<table>, got %q", name)
	}
	return ks, table, nil
}

func describeTargets(keyspaces, tables []string) string {
	switch {
	case len(tables) > 0:
		return strings.Join(tables, ", ")
	case len(keyspaces) > 0:
		return strings.Join(keyspaces, ", ")
	default:
		return "all keyspaces"
	}
}

func newSnapshotCmd(c *cli) *cobra.Command {
	var (
		tag    string
		ttl    string
		ktList []string
	)
	cmd := &cobra.Command{
		Use:   "snapshot [keyspace...]",
		Short: "Take a snapshot of the specified keyspaces or tables",
		Long: `Take a snapshot of the specified keyspaces or tables.

nodetool's -kt flag is --kt-list here; --kt is accepted as well.`,
		RunE: c.withNode(func(cmd *cobra.Command, node *server.Node, args []string) error {
			if len(ktList) > 0 && len(args) > 0 {
				return errors.New("when specifying the table list with --kt-list, keyspaces cannot be given as arguments")
			}
			if tag == "" {
				tag = strconv.FormatInt(node.Manager.Clock().Now().UnixMilli(), 10)
			}
			req := snapshot.CreateRequest{
				Tag:   tag,
				Scope: snapshot.Scope{Keyspaces: args, Tables: ktList},
			}
			if ttl != "" {
				d, err := snapshot.ParseTTL(ttl, 0)
				if err != nil {
					return err
				}
				req.TTL = &d
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Requested creating snapshot(s) for [%s] with snapshot name [%s]\n", describeTargets(args, ktList), tag)
			if _, err := node.Manager.Create(cmd.Context(), req); err != nil {
				return err
			}
			fmt.Fprintf(out, "Snapshot directory: %s\n", tag)
			return nil
		}),
	}
	cmd.Flags().StringVarP(&tag, "tag", "t", "", "name of the snapshot (default: current time in milliseconds)")
	cmd.Flags().StringVar(&ttl, "ttl", "", "time after which the snapshot is cleared, e.g. 3600 or 1h")
	cmd.Flags().StringSliceVar(&ktList, "kt-list", nil, "comma separated list of <keyspace>.<table> to snapshot (nodetool -kt)")
	cmd.Flags().SetNormalizeFunc(flagAliases(map[string]string{"kt": "kt-list"}))
	return cmd
}

func newClearSnapshotCmd(c *cli) *cobra.Command {
	var (
		tag string
		all bool
	)
	cmd := &cobra.Command{
		Use:   "clearsnapshot [keyspace...]",
		Short: "Remove the snapshot with the given name from the given keyspaces",
		RunE: c.withNode(func(cmd *cobra.Command, node *server.Node, args []string) error {
			name := tag
			if all {
				name = "all snapshots"
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Requested clearing snapshot(s) for [%s] with snapshot name [%s]\n", describeTargets(args, nil), name)

			keyspaces := args
			if len(keyspaces) == 0 {
				keyspaces = []string{""}
			}
			total := 0
			for _, ks := range keyspaces {
				n, err := node.Manager.Clear(cmd.Context(), snapshot.ClearRequest{Tag: tag, Keyspace: ks, All: all})
				total += n
				if err != nil {
					return err
				}
			}
			fmt.Fprintf(out, "Cleared %d snapshot(s)\n", total)
			return nil
		}),
	}
	cmd.Flags().StringVarP(&tag, "tag", "t", "", "name of the snapshot to remove")
	cmd.Flags().BoolVar(&all, "all", false, "remove every snapshot")
	return cmd
}

func newListSnapshotsCmd(c *cli) *cobra.Command {
	var opts snapshot.ListOptions
	cmd := &cobra.Command{
		Use:   "listsnapshots",
		Short: "List all snapshots with their sizes and expiration",
		Long: `List all snapshots with their sizes and expiration.

nodetool's -nt flag is -n/--no-ttl here; --nt is accepted as well.`,
		Args:  cobra.NoArgs,
		RunE: c.withNode(func(cmd *cobra.Command, node *server.Node, _ []string) error {
			rows, err := node.Manager.List(opts)
			if err != nil {
				return err
			}
			return snapshot.WriteReport(cmd.OutOrStdout(), rows)
		}),
	}
	cmd.Flags().BoolVarP(&opts.NoTTL, "no-ttl", "n", false, "skip snapshots with a TTL (nodetool -nt)")
	cmd.Flags().StringVarP(&opts.Keyspace, "keyspace", "k", "", "only list snapshots of this keyspace")
	cmd.Flags().StringVar(&opts.Table, "table", "", "only list snapshots of this table")
	cmd.Flags().SetNormalizeFunc(flagAliases(map[string]string{"nt": "no-ttl"}))
	return cmd
}

// flagAliases maps alternative long flag names onto registered ones. pflag
// shorthands are a single letter, so nodetool's two-letter flags become
// long aliases.
func flagAliases(aliases map[string]string) func(*pflag.FlagSet, string) pflag.NormalizedName {
	return func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		if to, ok := aliases[name]; ok {
			name = to
		}
		return pflag.NormalizedName(name)
	}
}

func newSweepCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Clear every snapshot whose TTL has passed",
		Args:  cobra.NoArgs,
		RunE: c.withNode(func(cmd *cobra.Command, node *server.Node, _ []string) error {
			n := node.Scheduler.Sweep(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d expired snapshot(s)\n", n)
			return nil
		}),
	}
}

func newCreateKeyspaceCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "create-keyspace <keyspace>",
		Short: "Create a keyspace",
		Args:  cobra.ExactArgs(1),
		RunE: c.withNode(func(_ *cobra.Command, node *server.Node, args []string) error {
			return node.Catalog.CreateKeyspace(args[0])
		}),
	}
}

// parsePairs splits "a:b" flag values.
func parsePairs(flag string, values []string) ([][2]string, error) {
	pairs := make([][2]string, 0, len(values))
	for _, v := range values {
		a, b, ok := strings.Cut(v, ":")
		if !ok || a == "" || b == "" {
			return nil, fmt.Errorf("--%s expects <name>:<value>, got %q", flag, v)
		}
		pairs = append(pairs, [2]string{a, b})
	}
	return pairs, nil
}

func newCreateTableCmd(c *cli) *cobra.Command {
	var columns, partitionKey, clusteringKey, indexes []string
	cmd := &cobra.Command{
		Use:   "create-table <keyspace>.<table>",
		Short: "Create a table",
		Args:  cobra.ExactArgs(1),
		RunE: c.withNode(func(cmd *cobra.Command, node *server.Node, args []string) error {
			ks, name, err := splitQualified(args[0])
			if err != nil {
				return err
			}
			t := core.TableMetadata{Keyspace: ks, Name: name, PartitionKey: partitionKey, ClusteringKey: clusteringKey}
			cols, err := parsePairs("column", columns)
			if err != nil {
				return err
			}
			for _, p := range cols {
				t.Columns = append(t.Columns, core.ColumnDef{Name: p[0], Type: p[1]})
			}
			idx, err := parsePairs("index", indexes)
			if err != nil {
				return err
			}
			for _, p := range idx {
				t.Indexes = append(t.Indexes, core.IndexDef{Name: p[0], Column: p[1]})
			}

			created, err := node.Catalog.CreateTable(t)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created table %s with id %s\n", created.QualifiedName(), created.ID)
			return nil
		}),
	}
	cmd.Flags().StringSliceVar(&columns, "column", nil, "column as <name>:<type>, repeatable")
	cmd.Flags().StringSliceVar(&partitionKey, "partition-key", nil, "partition key columns")
	cmd.Flags().StringSliceVar(&clusteringKey, "clustering-key", nil, "clustering key columns")
	cmd.Flags().StringSliceVar(&indexes, "index", nil, "secondary index as <name>:<column>, repeatable")
	return cmd
}

func newCreateIndexCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "create-index <keyspace>.<table> <index> <column>",
		Short: "Add a secondary index to a table",
		Args:  cobra.ExactArgs(3),
		RunE: c.withNode(func(_ *cobra.Command, node *server.Node, args []string) error {
			ks, name, err := splitQualified(args[0])
			if err != nil {
				return err
			}
			return node.Catalog.CreateIndex(ks, name, core.IndexDef{Name: args[1], Column: args[2]})
		}),
	}
}

func newDropTableCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "drop-table <keyspace>.<table>",
		Short: "Drop a table, snapshotting it first when auto_snapshot is on",
		Args:  cobra.ExactArgs(1),
		RunE: c.withNode(func(cmd *cobra.Command, node *server.Node, args []string) error {
			ks, name, err := splitQualified(args[0])
			if err != nil {
				return err
			}
			return node.Catalog.DropTable(cmd.Context(), ks, name)
		}),
	}
}

func newTruncateCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "truncate <keyspace>.<table>",
		Short: "Remove a table's data, snapshotting it first when auto_snapshot is on",
		Args:  cobra.ExactArgs(1),
		RunE: c.withNode(func(cmd *cobra.Command, node *server.Node, args []string) error {
			ks, name, err := splitQualified(args[0])
			if err != nil {
				return err
			}
			return node.Catalog.Truncate(cmd.Context(), ks, name)
		}),
	}
}

func newDropKeyspaceCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "drop-keyspace <keyspace>",
		Short: "Drop a keyspace and all its tables",
		Args:  cobra.ExactArgs(1),
		RunE: c.withNode(func(cmd *cobra.Command, node *server.Node, args []string) error {
			return node.Catalog.DropKeyspace(cmd.Context(), args[0])
		}),
	}
}
