package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/GreedyKomodoDragon/s3-backup/internal/config"
	"github.com/GreedyKomodoDragon/s3-backup/internal/restore"
	"github.com/spf13/cobra"
)

// storageFor picks the storage target holding database: the named
// instance's, the first instance listing it, or the default.
func storageFor(cfg *config.Config, database, instance string) (config.StorageTarget, error) {
	for _, inst := range cfg.Instances {
		if instance != "" && inst.DisplayName() != instance {
			continue
		}
		for _, db := range inst.Databases {
			if db == database {
				return cfg.StorageTarget(inst)
			}
		}
	}
	if instance != "" {
		return config.StorageTarget{}, fmt.Errorf("instance %q does not back up database %q", instance, database)
	}
	return cfg.S3Default.Target()
}

func openRestore(ctx context.Context, a *app, database, instance string) (*restore.Service, error) {
	target, err := storageFor(a.cfg, database, instance)
	if err != nil {
		return nil, err
	}
	store, err := restore.NewS3Store(ctx, target, a.logger)
	if err != nil {
		return nil, err
	}
	return restore.NewService(store, a.logger), nil
}

func newListCommand(opts *options) *cobra.Command {
	var instance string

	cmd := &cobra.Command{
		Use:   "list <database>",
		Short: "List the stored backups of a database, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(opts.configPath)
			if err != nil {
				return err
			}
			defer a.closer.Close()

			svc, err := openRestore(cmd.Context(), a, args[0], instance)
			if err != nil {
				return err
			}
			files, err := svc.List(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "KEY\tSIZE\tLAST MODIFIED")
			for _, f := range files {
				fmt.Fprintf(w, "%s\t%d\t%s\n", f.Key, f.Size, f.LastModified.Format("2006-01-02 15:04:05 MST"))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&instance, "instance", "", "instance whose storage holds the database")
	return cmd
}

func newFetchCommand(opts *options) *cobra.Command {
	var instance, dir string

	cmd := &cobra.Command{
		Use:   "fetch <database>",
		Short: "Download the newest backup of a database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(opts.configPath)
			if err != nil {
				return err
			}
			defer a.closer.Close()

			svc, err := openRestore(cmd.Context(), a, args[0], instance)
			if err != nil {
				return err
			}
			path, err := svc.Fetch(cmd.Context(), args[0], dir)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	cmd.Flags().StringVar(&instance, "instance", "", "instance whose storage holds the database")
	cmd.Flags().StringVar(&dir, "dir", ".", "directory to write the backup into")
	return cmd
}
