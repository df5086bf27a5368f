// Package driver implements a database/sql/driver whose connections send
// every statement through a backend.Session.
//
// The session must be open and have a collection open before the driver is
// used. The driver does not own the session; closing a *sql.DB leaves the
// session open.
//
// Usage:
//
//  1. Build a connector for an open session and hand it to database/sql:
//
//     db := sql.OpenDB(driver.NewConnector(session))
//     db.SetMaxOpenConns(1)
//
//  2. Or register the session under a name and open it by name:
//
//     driver.RegisterSession("main", session)
//     db, err := sql.Open("enginebridge", "main")
//
//  3. Use the *sql.DB (or sqlx.NewDb(db, "enginebridge")) as usual to run
//     queries, statements and transactions.
//
// Transactions:
//
// A database/sql transaction maps onto the session transaction: Begin takes
// the session guard and Commit or Rollback releases it. A session runs one
// transaction at a time, so a *sql.DB over a session should be limited to a
// single open connection; a second connection would wait on the guard while
// the first holds it.
//
// Limitations:
//
//   - Statements are not prepared on the engine. Prepare only records the
//     query and NumInput returns -1.
//   - Values travel as JSON: integral numbers come back as int64, other
//     numbers as float64, blobs as base64 strings and times as RFC 3339 text.
//   - Named parameters are not supported.
package driver
