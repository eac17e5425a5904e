// Package middleware wraps run stores with behaviour applied on every save
// and load, such as encryption at rest and masking of sensitive values.
package middleware

import "github.com/aretw0/canopy/pkg/ports"

// Middleware allows wrapping a RunStore to add behavior.
type Middleware func(ports.RunStore) ports.RunStore

// Chain applies middlewares so that the first one listed sees calls first.
func Chain(store ports.RunStore, mws ...Middleware) ports.RunStore {
	for i := len(mws) - 1; i >= 0; i-- {
		store = mws[i](store)
	}
	return store
}
