/*
Package registry holds the process-scoped registries of entityrepo.

None of them is a package-level global: each is constructed once (usually by
entityrepo.NewRuntime) and handed to every collection that needs it, so tests
can build isolated instances.

Initiation:
Grants first-time setup of a collection to exactly one caller per
(server, database, collection) triple:

	if reg.ShouldInitiateIndex(server, db, coll) {
	    if err := reconcile(); err != nil {
	        reg.ForgetIndex(server, db, coll) // allow a later retry
	    }
	}

Types:
Maps the EntityType attribute of stored documents to unmarshal functions for
polymorphic decoding:

	registry.RegisterType[Order](types, "Order")

Indexes:
Associates Go types with their declared secondary indexes:

	registry.RegisterIndexes[Order](indexes,
	    registry.IndexSpec{Name: "ByStatus", PartitionKey: "status", SortKey: "createdAt"},
	    registry.IndexSpec{Name: "ByTotal", PartitionKey: "customer", SortKey: "total", SortKeyType: "N"},
	)
*/
package registry
