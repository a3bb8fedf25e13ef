// Package validation checks request bodies against the API's JSON schema.
//
// The schema document is written in the Draft-3 dialect the API has always
// used: per-property "required": true flags, "divisibleBy", "extends" and
// the "any" type. It is rewritten to Draft 4 before compilation. Each
// operation is validated against the subschema at /properties/<kind>_<action>;
// operations without a subschema accept any body.
//
// A property may carry an "error" member holding an operator-facing message.
// When a violation is reported by a schema node with such a member, that
// message replaces the generic one.
package validation
