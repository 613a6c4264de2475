/*
Package storagemodels defines the data structures shared by every layer of entityrepo.

Key Types:

Entity:
Every stored type implements Entity[K] and encodes its key under the "id" attribute:

	type Order struct {
	    ID     string `dynamodbav:"id"`
	    Status string `dynamodbav:"status"`
	}

	func (o Order) GetID() string        { return o.ID }
	func (o Order) NeedsCleaning() bool  { return false }

Filter and Update:
Structured conditions and changes that a driver can push down to the store
and that the in-memory layers evaluate themselves:

	f := storagemodels.Eq("status", "open").And(storagemodels.Gt("total", 100))
	u := storagemodels.Set("status", "closed").Remove("note")

Options / OneOption:
Projection, sort and limit for multi- and single-result queries.

EntityChangeResult, ResultPage and Lock complete the vocabulary used by the
collection package. Documents are kept in DynamoDB attribute form (Item) at
every layer below the typed collections.
*/
package storagemodels
