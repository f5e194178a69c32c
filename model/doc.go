// Package model defines stable boundary types for API layers.
//
// Ledger state is unaffected by any projection here. These structs are the
// only types intended for direct JSON/YAML serialization by consumers.
package model
