// Package migrations embeds the staffing schema SQL migrations so the
// binaries can apply them without a checkout on disk.
package migrations

import "embed"

//go:embed *.sql
var Files embed.FS
