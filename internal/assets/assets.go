package assets

import "embed"

// FS holds the files shipped inside the binary: the config template used by
// init and the default banner screen.
//
//go:embed config.yml.tmpl banner.txt
var FS embed.FS
