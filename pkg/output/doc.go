// Package output renders command results as JSON or as human-readable text.
//
// JSON output is the structured {success, ...} object each command returns.
// Text output is left to the caller, with Table as the common helper.
package output
