// Package txn coordinates ambient, nestable transactions.
//
// A transaction scope lives in the context.Context of a logical task, keyed
// by backend instance. Functions declare that they need a transaction with
// Do (or DoConditional) without knowing whether a caller already opened one:
//
//   - no ambient transaction, Do: a transaction is opened (depth 1)
//   - no ambient transaction, DoConditional: fn runs without a transaction
//   - ambient transaction: depth is incremented and fn joins it
//
// When the outermost scope exits the transaction commits, unless any scope
// failed or the context was canceled, in which case it rolls back. A failure
// in a nested scope dooms the whole transaction even if an outer scope
// swallows the error; the outer scope then receives TRANSACTION_ABORTED.
//
// Contexts derived from context.Background in other goroutines carry no
// scope, so concurrent tasks never observe each other's transactions.
// Statements inside one shared transaction must not run concurrently: use
// Gather instead of fanning out goroutines.
package txn
