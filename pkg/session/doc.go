/*
Package session serialises runs per conversation and persists their outcome.

Runs of different conversations proceed concurrently over the shared graph and
registry. Runs of the same conversation are queued behind a reference-counted
mutex and, across replicas, an optional ports.DistributedLocker. When a run
ends, its final RunState is saved to a ports.RunStore so the history and
environment can be inspected later.
*/
package session
