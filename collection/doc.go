/*
Package collection implements typed collections over a datastore.Driver.

Three collection kinds share one execution envelope that initializes the
collection on first use, times every operation and emits exactly one
telemetry.ActionEvent for it:

  - Disk reads and writes the store directly.
  - Buffer keeps a process-wide snapshot of a collection in memory, serves
    reads from it and writes through to a Disk.
  - Lockable hands out time-bounded leases on single entities.

All collections of a process bind to one Shared value:

	shared := collection.NewShared(logger)
	users := collection.NewDisk[User, string](shared, driver, settings)
	cached := collection.NewBuffer(users)
	locks := collection.NewLockable(users, collection.WithCommitHook[User, string](cached.Refresh))

	scope, err := locks.GetForUpdate(ctx, "u1", collection.WithTimeout(10*time.Second))
	if err != nil || scope == nil {
	    return err
	}
	u := scope.Entity()
	u.Name = "renamed"
	err = scope.Commit(ctx, u)

Plain writes never overwrite or delete an entity under an unexpired lease;
they fail with errors.ErrLockConflict instead.
*/
package collection
