// Package model is the entity runtime: typed repositories over registered
// struct types, and foreign-key references between them.
//
// A Repo[T] resolves its backend from the context on every call and runs
// writes inside txn.Do and reads inside txn.DoConditional, so repository
// calls made from within an enclosing transaction join it:
//
//	ctx = backend.WithBackend(ctx, store)
//	orgs, _ := model.New[Org]()
//	org := &Org{Name: "A", Tag: "x"}
//	err := orgs.Create(ctx, org) // org.ID is now set
//
// A Ref[T] field holds a foreign key in one of four states:
//
//   - RefNull: no reference
//   - RefIdentifier: an id supplied by the caller
//   - RefUnresolved: an id loaded from a row, not yet fetched
//   - RefResolved: the referenced entity is loaded (or built in memory)
//
// ID is always readable. Entity fails with NESTED_ENTITY_NOT_RESOLVED until
// Resolve (or Repo.GetWithRefs) loads the referenced row.
package model
