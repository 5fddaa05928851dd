// Package steps binds the feature files under qa/bdd/features to the pool,
// negotiation and traffic packages.
package steps
