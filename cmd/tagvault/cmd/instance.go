package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/jmcleod/tagvault/internal/util"
	"github.com/jmcleod/tagvault/storage"
)

var createMetadata string

var createCmd = &cobra.Command{
	Use:   "create <storage-id>",
	Short: "Create an empty storage instance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		metadata, err := decodeBase64("metadata", createMetadata)
		if err != nil {
			return err
		}
		lc, err := current.lifecycle()
		if err != nil {
			return err
		}
		s := current.settings
		if err := lc.CreateStorage(cmd.Context(), args[0], s.Config, s.Credentials, metadata); err != nil {
			return err
		}
		current.logger.Debug("created storage", slog.String("id", args[0]), slog.String("type", s.Type))
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <storage-id>",
	Short: "Irreversibly delete a storage instance and everything in it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		lc, err := current.lifecycle()
		if err != nil {
			return err
		}
		s := current.settings
		return lc.DeleteStorage(cmd.Context(), args[0], s.Config, s.Credentials)
	},
}

var typesCmd = &cobra.Command{
	Use:   "types",
	Short: "List the registered storage types",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		for _, name := range current.registry.Names() {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	},
}

var metadataCmd = &cobra.Command{
	Use:   "metadata",
	Short: "Read or replace the metadata blob of a storage instance",
}

var metadataGetCmd = &cobra.Command{
	Use:   "get <storage-id>",
	Short: "Print the metadata blob as base64",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStorage(cmd, args[0], func(ctx context.Context, st storage.Storage) error {
			md, err := st.GetStorageMetadata(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), util.Base64Encode(md))
			return nil
		})
	},
}

var metadataSetCmd = &cobra.Command{
	Use:   "set <storage-id> <base64>",
	Short: "Replace the metadata blob",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		md, err := decodeBase64("metadata", args[1])
		if err != nil {
			return err
		}
		return withStorage(cmd, args[0], func(ctx context.Context, st storage.Storage) error {
			return st.SetStorageMetadata(ctx, md)
		})
	},
}

var (
	migrateToType        string
	migrateToID          string
	migrateToConfig      string
	migrateToCredentials string
)

var migrateCmd = &cobra.Command{
	Use:   "migrate <storage-id>",
	Short: "Copy a storage instance into another backend",
	Long: `Creates a new instance with the destination settings and copies the
metadata blob and every record of the source into it. The destination id
defaults to the source id.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dstLC, err := current.registry.Lookup(migrateToType)
		if err != nil {
			return err
		}
		dstConfig, err := jsonArg(migrateToConfig)
		if err != nil {
			return fmt.Errorf("--to-config: %w", err)
		}
		dstCredentials, err := jsonArg(migrateToCredentials)
		if err != nil {
			return fmt.Errorf("--to-credentials: %w", err)
		}
		dstID := migrateToID
		if dstID == "" {
			dstID = args[0]
		}

		return withStorage(cmd, args[0], func(ctx context.Context, src storage.Storage) error {
			if err := dstLC.CreateStorage(ctx, dstID, dstConfig, dstCredentials, nil); err != nil {
				return err
			}
			dst, err := dstLC.OpenStorage(ctx, dstID, dstConfig, dstCredentials)
			if err != nil {
				return err
			}
			defer dst.Close() //nolint:errcheck
			n, err := storage.Copy(ctx, dst, src)
			if err != nil {
				return fmt.Errorf("copied %d records before failing: %w", n, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "copied %d records to %s %s\n", n, migrateToType, dstID)
			return nil
		})
	},
}

func init() {
	createCmd.Flags().StringVar(&createMetadata, "metadata", "", "Initial metadata blob (base64)")

	migrateCmd.Flags().StringVar(&migrateToType, "to-type", "", "Destination storage type")
	migrateCmd.Flags().StringVar(&migrateToID, "to-id", "", "Destination storage id")
	migrateCmd.Flags().StringVar(&migrateToConfig, "to-config", "", "Destination config JSON or @file")
	migrateCmd.Flags().StringVar(&migrateToCredentials, "to-credentials", "", "Destination credentials JSON or @file")
	_ = migrateCmd.MarkFlagRequired("to-type")

	metadataCmd.AddCommand(metadataGetCmd, metadataSetCmd)
	rootCmd.AddCommand(createCmd, deleteCmd, typesCmd, metadataCmd, migrateCmd)
}
