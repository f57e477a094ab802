// Package config defines the flashing station settings and helpers to load,
// validate and save them in YAML format.
//
// Settings cover the upgrade tool location, the release and artifact
// directories, the image workspace, polling cadence, listen addresses of
// the control API and the board table. RKFLASH_* environment variables
// override the file.
package config
