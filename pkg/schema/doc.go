// Package schema checks the shape of structured values handed to a dialog from outside,
// such as the properties an external command prints back.
//
// A Schema maps field names to types. Types are written as short strings so they can be
// declared in YAML or JSON next to the command they describe:
//
//	returns:
//	  city: string
//	  temperature: float
//	  tags: "[string]"
//	  note: string?
//
// A trailing "?" marks a field as optional. Validate reports every failing field at once,
// in field order, so authors can fix a command's output in one pass.
package schema
