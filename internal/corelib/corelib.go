package corelib

import _ "embed"

//go:embed core.lmn
var coreSource string

// Source returns the bundled standard library's Lumen source, read by
// internal/backend's bootstrap sequence and evaluated through the
// tree-walk engine before any user code runs.
func Source() string { return coreSource }
