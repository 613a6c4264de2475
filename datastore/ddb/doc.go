/*
Package ddb provides a DynamoDB implementation of the datastore.Driver interface.

Every collection maps to one table keyed on the "id" attribute. The table is
created on the first write, with PAY_PER_REQUEST billing and a key type taken
from the written document; reads of a missing table return nothing.

Filters and updates from storagemodels are rendered with the
feature/dynamodb/expression builders:

	store.Put(ctx, "app.users", item, storagemodels.NotExists("id"))        // insert only
	store.Update(ctx, "app.users", key, storagemodels.Set("name", "x"), cond) // guarded update

A failed condition surfaces as errors.ErrConditionFailed.

Reads are scans paged with PageOptions; throttled pages are retried:

	store := ddb.New(client, "local", ddb.WithPaging(
	    storagemodels.WithPageSize(25),
	    storagemodels.WithMaxRetries(3),
	))

Secondary indexes are global secondary indexes with an ALL projection.
Indexes declared before a table exists are created together with it.
*/
package ddb
