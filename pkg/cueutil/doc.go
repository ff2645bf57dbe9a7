// SPDX-License-Identifier: MPL-2.0

// Package cueutil provides shared CUE parsing utilities.
//
// ParseAndDecode runs the schema-first flow used for roletest configuration files:
//
//  1. Compile the embedded schema
//  2. Compile user data and unify with schema
//  3. Validate and decode to a Go value
//
// # Usage
//
//	//go:embed config_schema.cue
//	var schema string
//
//	result, err := cueutil.ParseAndDecodeString[map[string]any](
//	    schema,
//	    userFileBytes,
//	    "#Config",
//	    cueutil.WithFilename("roletest.cue"),
//	)
//	if err != nil {
//	    return nil, err // error includes the CUE path of the offending field
//	}
package cueutil
