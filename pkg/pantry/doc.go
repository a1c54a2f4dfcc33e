// Package pantry is the persistence runtime core: a per-unit identity map,
// lazily loaded collection associations, and a merge protocol for entities
// that outlived the unit of work that loaded them.
//
// A caller opens a UnitOfWork over a types.StorageGateway, persists and
// finds Entities through it, and ends it with Commit or Rollback. Within one
// unit every stored row is represented by exactly one *Entity. Collection
// associations come back as LazyCollection proxies that hit storage once, on
// the first Resolve.
//
// Entities never cross units by pointer. Once a unit ends, the entities it
// handed out are detached: their scalar fields stay readable, but resolving
// references or collections fails with types.ErrDetachedAccess. To use a
// detached entity in a later unit, pass it through Merge and use the
// returned instance:
//
//	err := pantry.Transact(ctx, gw, func(uow *pantry.UnitOfWork) error {
//		doc, err := pantry.Merge(ctx, uow, detachedDoc)
//		if err != nil {
//			return err
//		}
//		bundles, err := doc.Collection("bundles").Resolve(ctx)
//		if err != nil {
//			return err
//		}
//		child, _ = bundles.Get(detachedItem)
//		return nil
//	})
//
// Mapping lookups compare entity keys, not pointers, so the detached item
// above finds its entry without being merged first.
//
// A UnitOfWork is not safe for concurrent use.
package pantry
