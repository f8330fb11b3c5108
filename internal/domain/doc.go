// Package domain holds the core entities of the deliverability control
// plane and the closed enums for their states. Everything below an
// Organization is tenant-scoped; repositories must always filter by
// organization_id.
//
// Conversions between enum types and their persisted string forms happen
// at the storage boundary only. Services never compare raw strings.
package domain
