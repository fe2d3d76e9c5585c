// Package core defines the shared domain model for agentrelay: agent
// definitions and roles, executions and their append-only step logs,
// interrupts and resume decisions, the opaque step-producer contract, and the
// store interfaces the registry and bridge persist through.
//
// The package stays dependency-light so every other package can import it
// without cycles.
package core
