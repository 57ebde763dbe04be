// Package migrations embeds the bridge's SQL schema into the binary so the
// state database can be created without files on disk.
package migrations

import "embed"

// FS holds every migration at its root.
//
//go:embed *.sql
var FS embed.FS
