/*
Package errors provides semantic error types for the entityrepo library.

Every failure a repository caller may want to branch on has a sentinel, and most
have a typed error carrying context. All typed errors match their sentinel
through errors.Is, so wrapping with %w keeps them recognizable.

Common Errors:

	var (
	    ErrNotFound            = errors.New("entity not found")
	    ErrAlreadyExists       = errors.New("entity already exists")
	    ErrInvalidInput        = errors.New("invalid input")
	    ErrConditionFailed     = errors.New("condition check failed")
	    ErrResultLimitExceeded = errors.New("result limit exceeded")
	    ErrLockConflict        = errors.New("entity is locked")
	    ErrInitialization      = errors.New("collection initialization failed")
	)

Not-found is not an error at the collection level: reads return nil and
deletes report nothing removed. ErrNotFound is used by the drivers and
helpers below that layer.

Usage:

	scope, err := orders.GetForUpdate(ctx, "o-1", collection.WithTimeout(time.Minute))
	if errors.IsLockConflict(err) {
	    // someone else is working on the order
	}
*/
package errors
