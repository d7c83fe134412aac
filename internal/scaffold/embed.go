// Package scaffold embeds the starter workspace that `vigil init` writes:
// a config.yaml, a CRM fixture and two sample conversation snapshots. The
// embedded filesystem is rooted at "files/".
package scaffold

import "embed"

// Root is the directory inside FS that holds the starter files.
const Root = "files"

// FS contains the starter files. Walk from Root to iterate over all files.
//
//go:embed all:files
var FS embed.FS
