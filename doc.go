/*
Package entityrepo provides typed repositories over Amazon DynamoDB, with one
table per collection, an optional process-wide read buffer and per-entity
leases for coordinating updates.

A process creates one Runtime from its configuration and opens repositories
from it:

	cfg, err := config.Load("entityrepo.yaml")
	if err != nil {
	    return err
	}
	rt, err := entityrepo.NewRuntime(cfg, entityrepo.WithLogger(logger))
	if err != nil {
	    return err
	}

	users, err := entityrepo.Open[User, string](ctx, rt, storagemodels.DatabaseContext{},
	    entityrepo.Buffered[User]())
	if err != nil {
	    return err
	}

	added, err := users.Add(ctx, User{ID: "u1", Name: "Ada"})
	for u, err := range users.GetMany(ctx, storagemodels.Eq("status", "active"), nil) {
	    ...
	}

The DatabaseContext picks the configuration, the collection name (the entity
type name by default) and an optional database partition substituted into the
configured database name.

Collections set themselves up on first use: the entity type is registered for
polymorphic decoding, outdated documents can be cleaned, empty tables dropped
and declared secondary indexes reconciled. Each step runs once per process and
collection, and a failed step is retried by the next operation.

Every operation reports an event to the runtime's telemetry.Monitor, which
feeds Prometheus metrics, the log and any subscribers.
*/
package entityrepo
