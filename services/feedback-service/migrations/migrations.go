// Package migrations embeds the feedback-service schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
