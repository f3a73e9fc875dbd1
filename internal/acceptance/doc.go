// Package acceptance runs the order fulfillment feature files against the services
// backed by the in-memory store.
package acceptance
