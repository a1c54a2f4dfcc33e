package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/pantry/pkg/pantry"
	"github.com/mesh-intelligence/pantry/pkg/types"
)

func newPutCmd() *cobra.Command {
	var refs []string
	cmd := &cobra.Command{
		Use:   "put <type> [field=value...]",
		Short: "Store a new entity",
		Long: "Create an entity of the given type with the listed fields and persist it.\n" +
			"Numbers and booleans are stored typed. References are set with --ref name=Type:ID.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, err := parseAssignments(args[1:])
			if err != nil {
				return err
			}
			refKeys := make(map[string]types.EntityKey, len(refs))
			for _, r := range refs {
				name, target, ok := strings.Cut(r, "=")
				if !ok || name == "" {
					return usageErrorf("expected --ref name=Type:ID, got %q", r)
				}
				key, err := parseKey(target)
				if err != nil {
					return err
				}
				refKeys[name] = key
			}

			return withEnv(cmd, func(e *env) error {
				var stored entityView
				err := e.transact(cmd.Context(), func(uow *pantry.UnitOfWork) error {
					ent := pantry.NewEntity(args[0])
					for name, v := range fields {
						ent.Set(name, v)
					}
					for name, key := range refKeys {
						target, err := mustLookup(cmd.Context(), uow, key)
						if err != nil {
							return fmt.Errorf("ref %s: %w", name, err)
						}
						if err := ent.SetRef(name, target); err != nil {
							return err
						}
					}
					if err := uow.Persist(ent); err != nil {
						return err
					}
					stored = viewOf(ent)
					return nil
				})
				if err != nil {
					return err
				}
				return e.print(stored)
			})
		},
	}
	cmd.Flags().StringArrayVar(&refs, "ref", nil, "reference to an existing entity, as name=Type:ID (repeatable)")
	return cmd
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <type> <id>",
		Short: "Show one entity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := types.NewEntityKey(args[0], args[1])
			if err != nil {
				return err
			}
			return withEnv(cmd, func(e *env) error {
				var found entityView
				err := e.transact(cmd.Context(), func(uow *pantry.UnitOfWork) error {
					ent, err := mustLookup(cmd.Context(), uow, key)
					if err != nil {
						return err
					}
					found = viewOf(ent)
					return nil
				})
				if err != nil {
					return err
				}
				return e.print(found)
			})
		},
	}
}

func newFindCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "find <type> [field=value...]",
		Short: "List entities of a type matching every field=value",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			criteria, err := parseAssignments(args[1:])
			if err != nil {
				return err
			}
			return withEnv(cmd, func(e *env) error {
				var views []entityView
				err := e.transact(cmd.Context(), func(uow *pantry.UnitOfWork) error {
					found, err := uow.Find(cmd.Context(), args[0], types.Criteria(criteria))
					if err != nil {
						return err
					}
					views = make([]entityView, 0, len(found))
					for _, ent := range found {
						views = append(views, viewOf(ent))
					}
					return nil
				})
				if err != nil {
					return err
				}
				if e.json {
					return writeJSON(e.out, views)
				}
				for _, v := range views {
					writeEntity(e.out, v)
				}
				return nil
			})
		},
	}
}

// mustLookup returns the entity for key or an ErrNotFound error.
func mustLookup(ctx context.Context, uow *pantry.UnitOfWork, key types.EntityKey) (*pantry.Entity, error) {
	ent, ok, err := uow.Lookup(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, types.ErrNotFound)
	}
	return ent, nil
}

func (e *env) print(v entityView) error {
	if e.json {
		return writeJSON(e.out, v)
	}
	writeEntity(e.out, v)
	return nil
}
