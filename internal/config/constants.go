// Package config holds the small set of ambient constants both
// evaluation backends and the bootstrap sequence need to agree on:
// the bundled source file's extension, the ambient session version
// tag, and the recursion-depth cap spec.md §4.6/§5 requires ("a host
// may enforce a call-depth cap ... surfaces as internal_error").
// Adapted from the teacher's own internal/config (which held Funxy's
// multi-extension module-import and LSP-mode globals — none of which
// Lumen has, since it has no import system or language server); what
// survives is the part every embedded-language runtime in the corpus
// still needs: one place both backends read their shared limits from.
package config

// Version is the current Lumen runtime version, reported by
// pkg/lumen for host diagnostics.
var Version = "0.1.0"

// SourceFileExt is the bundled standard library's source extension
// (internal/corelib/core.lmn).
const SourceFileExt = ".lmn"

// MaxCallDepth bounds non-tail recursive calls in both internal/vm and
// internal/treewalk (spec.md §4.6: "Recursion depth is bounded ... and
// exceeded depth yields an internal_error rather than a native stack
// overflow"). Tail calls made via `recur` never count against this —
// they loop in place inside the same frame.
const MaxCallDepth = 4096
