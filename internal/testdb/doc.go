//go:build integration

// Package testdb provides helpers for database integration tests: locating
// the test database, applying the embedded migrations once per connection
// and resetting tables between tests.
//
// Typical usage:
//
//	func TestSomething(t *testing.T) {
//	    db := testdb.GetTestDBWithT(t) // skips when no database is configured
//	    testdb.ResetTables(t, db)
//	    ...
//	}
//
// Tests using this package carry the integration build tag.
package testdb
