// Package schema validates flow input against the field types a flow declares.
//
// A flow declares its inputs as a map of field names to type names:
//
//	inputs:
//	  topic: string
//	  retries: int?
//	  tags: "[string]"
//
// Supported names are string, int, float, bool, object and any, a list of
// any of them written as [type], and an optional field marked with a
// trailing question mark. Values are checked after JSON normalization, so an
// int is any whole number.
package schema
