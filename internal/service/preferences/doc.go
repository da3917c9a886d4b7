// Package preferences implements recipient opt-in state and send
// suppression.
//
// Every non-transactional send is checked against the recipient's toggles
// before it reaches the queue. Changes are authorised only by possession of
// the recipient's opaque unsubscribe token; there is no session involved.
//
// The service depends on the Repository interface defined in repository.go
// and never imports net/http or database/sql directly.
package preferences
