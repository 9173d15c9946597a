package pgstore

import _ "embed"

// Schema creates every table the pg stores and the device registry use.
//
//go:embed schema.sql
var Schema string
