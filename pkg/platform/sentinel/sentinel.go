package sentinel

import "errors"

// Sentinel errors for persistence facts. Stores return these (optionally
// wrapped) and services translate them into coded domain errors.
//
//   - ErrNotFound: entity does not exist in store
//   - ErrConflict: optimistic version check or serialization failure lost a race
//   - ErrAlreadyUsed: a unique key (proposition number, opinion number) is taken
//   - ErrUnavailable: backing service (cache, broker) temporarily unavailable
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrAlreadyUsed = errors.New("already used")
	ErrUnavailable = errors.New("unavailable")
)
