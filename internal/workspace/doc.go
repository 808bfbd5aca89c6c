// Package workspace owns the build root: one directory per document holding the
// source file, the engine's working files and a stable artifact slot.
//
// Layout:
//
//	<root>/<name>/<name>.tex                 source
//	<root>/<name>/<name>.{aux,log,pdf,...}   engine working files
//	<root>/<name>/artifact/<name>.pdf        published artifact
//
// Source saves and artifact publishes go through a temporary file in the
// destination directory followed by a rename, so concurrent readers observe
// either the previous or the new content, never a partial file.
package workspace
