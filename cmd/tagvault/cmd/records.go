package cmd

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/jmcleod/tagvault/storage"
	"github.com/jmcleod/tagvault/wql"
)

// itemArgs is the <storage-id> <type> <item-id> triple.
const itemArgs = "<storage-id> <type> <item-id>"

var (
	recordValue string
	recordKey   string
	recordTags  string
	recordNames string

	withType      bool
	withTags      bool
	withoutValue  bool
	searchQuery   string
	searchCount   bool
	searchNoItems bool
)

// itemCommand builds a command acting on one item.
func itemCommand(use, short string, fn func(ctx context.Context, cmd *cobra.Command, st storage.Storage, typ, id []byte) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " " + itemArgs,
		Short: short,
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(cmd, args[0], func(ctx context.Context, st storage.Storage) error {
				return fn(ctx, cmd, st, []byte(args[1]), []byte(args[2]))
			})
		},
	}
}

func flagValue() (storage.EncryptedValue, error) {
	data, err := decodeBase64("value", recordValue)
	if err != nil {
		return storage.EncryptedValue{}, err
	}
	key, err := decodeBase64("key", recordKey)
	if err != nil {
		return storage.EncryptedValue{}, err
	}
	return storage.EncryptedValue{Data: data, Key: key}, nil
}

var addCmd = itemCommand("add", "Add an item with its value and tags",
	func(ctx context.Context, _ *cobra.Command, st storage.Storage, typ, id []byte) error {
		value, err := flagValue()
		if err != nil {
			return err
		}
		tags, err := parseTags(recordTags)
		if err != nil {
			return err
		}
		return st.Add(ctx, typ, id, value, tags)
	})

var updateCmd = itemCommand("update", "Replace the value of an item",
	func(ctx context.Context, _ *cobra.Command, st storage.Storage, typ, id []byte) error {
		value, err := flagValue()
		if err != nil {
			return err
		}
		return st.Update(ctx, typ, id, value)
	})

var removeCmd = itemCommand("remove", "Delete an item and its tags",
	func(ctx context.Context, _ *cobra.Command, st storage.Storage, typ, id []byte) error {
		return st.Delete(ctx, typ, id)
	})

var getCmd = itemCommand("get", "Print an item as JSON",
	func(ctx context.Context, cmd *cobra.Command, st storage.Storage, typ, id []byte) error {
		r, err := st.Get(ctx, typ, id, storage.RecordOptions{
			RetrieveType:  withType,
			RetrieveValue: !withoutValue,
			RetrieveTags:  withTags,
		})
		if err != nil {
			return err
		}
		return writeRecord(newEncoder(cmd.OutOrStdout()), r)
	})

var tagsCmd = &cobra.Command{
	Use:   "tags",
	Short: "Change the tags of an item",
	Long: `Tags are a JSON object of name to value. Plain tags are prefixed with ~
and support ordering and LIKE in queries; other tags are encrypted and support
equality only.`,
}

var tagsAddCmd = itemCommand("add", "Add new tags; fails if any name is present",
	func(ctx context.Context, _ *cobra.Command, st storage.Storage, typ, id []byte) error {
		tags, err := parseTags(recordTags)
		if err != nil {
			return err
		}
		return st.AddTags(ctx, typ, id, tags)
	})

var tagsUpdateCmd = itemCommand("update", "Replace tag values; fails if any name is absent",
	func(ctx context.Context, _ *cobra.Command, st storage.Storage, typ, id []byte) error {
		tags, err := parseTags(recordTags)
		if err != nil {
			return err
		}
		return st.UpdateTags(ctx, typ, id, tags)
	})

var tagsDeleteCmd = itemCommand("delete", "Remove tags by name; fails if any name is absent",
	func(ctx context.Context, _ *cobra.Command, st storage.Storage, typ, id []byte) error {
		names, err := parseNames(recordNames)
		if err != nil {
			return err
		}
		return st.DeleteTags(ctx, typ, id, names)
	})

var searchCmd = &cobra.Command{
	Use:   "search <storage-id> <type>",
	Short: "Print the items of a type matching a query, one JSON object per line",
	Long: `Queries are WQL documents, for example
  {"name":"alice","~age":{"$gte":"18"},"$not":{"~role":"admin"}}
With --count the first line is {"total":N}.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := wql.Parse([]byte(searchQuery))
		if err != nil {
			return err
		}
		opts := storage.SearchOptions{
			RetrieveRecords:    !searchNoItems,
			RetrieveTotalCount: searchCount || searchNoItems,
			RetrieveType:       withType,
			RetrieveValue:      !withoutValue,
			RetrieveTags:       withTags,
		}
		return withStorage(cmd, args[0], func(ctx context.Context, st storage.Storage) error {
			it, err := st.Search(ctx, []byte(args[1]), q, opts)
			if err != nil {
				return err
			}
			enc := newEncoder(cmd.OutOrStdout())
			if n, ok := it.TotalCount(); ok {
				if err := enc.Encode(map[string]int{"total": n}); err != nil {
					return err
				}
			}
			return drain(ctx, enc, it)
		})
	},
}

var exportCmd = &cobra.Command{
	Use:   "export <storage-id>",
	Short: "Print every item of every type, one JSON object per line",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStorage(cmd, args[0], func(ctx context.Context, st storage.Storage) error {
			it, err := st.GetAll(ctx)
			if err != nil {
				return err
			}
			return drain(ctx, newEncoder(cmd.OutOrStdout()), it)
		})
	},
}

func drain(ctx context.Context, enc *json.Encoder, it storage.Iterator) error {
	defer it.Close() //nolint:errcheck
	for {
		r, err := it.Next(ctx)
		if err != nil {
			return err
		}
		if r == nil {
			return nil
		}
		if err := writeRecord(enc, r); err != nil {
			return err
		}
	}
}

func init() {
	for _, c := range []*cobra.Command{addCmd, updateCmd} {
		c.Flags().StringVar(&recordValue, "value", "", "Encrypted value (base64)")
		c.Flags().StringVar(&recordKey, "key", "", "Encrypted item key (base64)")
	}
	for _, c := range []*cobra.Command{addCmd, tagsAddCmd, tagsUpdateCmd} {
		c.Flags().StringVar(&recordTags, "tags", "", `Tags as JSON, e.g. {"name":"alice","~age":"30"}`)
	}
	tagsDeleteCmd.Flags().StringVar(&recordNames, "names", "[]", `Tag names as a JSON array, e.g. ["name","~age"]`)

	for _, c := range []*cobra.Command{getCmd, searchCmd} {
		c.Flags().BoolVar(&withType, "with-type", false, "Include the item type")
		c.Flags().BoolVar(&withTags, "with-tags", false, "Include the tags")
		c.Flags().BoolVar(&withoutValue, "without-value", false, "Omit the value and key")
	}
	searchCmd.Flags().StringVarP(&searchQuery, "query", "q", "{}", "WQL query")
	searchCmd.Flags().BoolVar(&searchCount, "count", false, "Print the number of matches first")
	searchCmd.Flags().BoolVar(&searchNoItems, "count-only", false, "Print only the number of matches")

	tagsCmd.AddCommand(tagsAddCmd, tagsUpdateCmd, tagsDeleteCmd)
	rootCmd.AddCommand(addCmd, updateCmd, removeCmd, getCmd, tagsCmd, searchCmd, exportCmd)
}
