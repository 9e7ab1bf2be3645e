// Package fleet provides the domain types shared by the reconciliation engine.
//
// This package contains type definitions only. All other internal packages
// import fleet; fleet imports nothing internal.
//
// Key design constraints:
//   - Events are tagged variants: the Payload type is fixed by the EventType
//   - A Projection is a cache, a TargetState is what history says it should be
//   - All JSON tags use snake_case
package fleet
