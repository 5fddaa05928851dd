// Package model holds the value types shared by every coordination component:
// actor identities and roles, grid geometry, lifecycle states, fault classes
// and the read-only snapshot rows exposed to external collaborators.
package model
