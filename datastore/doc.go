/*
Package datastore defines the document store boundary of entityrepo.

The main interface is Driver, a non-generic set of document operations keyed
by collection name:

	type Driver interface {
	    Server() string
	    Get(ctx, collection, key) (Item, error)
	    Find(ctx, collection, FindQuery) iter.Seq2[Item, error]
	    Count(ctx, collection, Filter) (int64, error)
	    Put(ctx, collection, item, cond) (old Item, error)
	    Update(ctx, collection, key, Update, cond) (old Item, error)
	    Delete(ctx, collection, key, cond) (old Item, error)
	    CollectionExists / DropCollection
	    ListIndexes / CreateIndex / DropIndex
	}

Implementations:
  - ddb: DynamoDB, one table per collection
  - mock: in-memory store with fetch counters and error injection for tests

Typed access lives one layer up, in the collection package, which encodes
entities with attributevalue and never talks to a store SDK directly.
*/
package datastore
