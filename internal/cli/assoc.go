package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/pantry/pkg/pantry"
	"github.com/mesh-intelligence/pantry/pkg/types"
)

func newLinkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "link <type> <id> <association> <keyType>:<keyID> <valueType>:<valueID>",
		Short: "Set one entry of a collection association",
		Long: "Map the key entity to the value entity in the owner's named collection.\n" +
			"An existing entry for the same key is replaced.",
		Args: cobra.ExactArgs(5),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := types.NewEntityKey(args[0], args[1])
			if err != nil {
				return err
			}
			key, err := parseKey(args[3])
			if err != nil {
				return err
			}
			value, err := parseKey(args[4])
			if err != nil {
				return err
			}

			return withEnv(cmd, func(e *env) error {
				ctx := cmd.Context()
				err := e.transact(ctx, func(uow *pantry.UnitOfWork) error {
					o, err := mustLookup(ctx, uow, owner)
					if err != nil {
						return err
					}
					k, err := mustLookup(ctx, uow, key)
					if err != nil {
						return err
					}
					v, err := mustLookup(ctx, uow, value)
					if err != nil {
						return err
					}
					return o.Collection(args[2]).Put(ctx, k, v)
				})
				if err != nil {
					return err
				}
				if e.json {
					return writeJSON(e.out, map[string]any{
						"owner": owner, "association": args[2], "key": key, "value": value,
					})
				}
				fmt.Fprintf(e.out, "%s.%s[%s] = %s\n", owner, args[2], key, value)
				return nil
			})
		},
	}
}

func newAssocCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "assoc <type> <id> <association>",
		Short: "List the entries of a collection association",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := types.NewEntityKey(args[0], args[1])
			if err != nil {
				return err
			}
			return withEnv(cmd, func(e *env) error {
				ctx := cmd.Context()
				var entries []entryView
				err := e.transact(ctx, func(uow *pantry.UnitOfWork) error {
					o, err := mustLookup(ctx, uow, owner)
					if err != nil {
						return err
					}
					m, err := o.Collection(args[2]).Resolve(ctx)
					if err != nil {
						return err
					}
					entries = make([]entryView, 0, m.Len())
					for _, entry := range m.Entries() {
						entries = append(entries, entryView{Key: viewOf(entry.Key), Value: viewOf(entry.Value)})
					}
					return nil
				})
				if err != nil {
					return err
				}
				if e.json {
					return writeJSON(e.out, entries)
				}
				for _, entry := range entries {
					fmt.Fprint(e.out, "- ")
					writeEntity(e.out, entry.Key)
					fmt.Fprint(e.out, "  ")
					writeEntity(e.out, entry.Value)
				}
				return nil
			})
		},
	}
}
