// Package data holds files compiled into the formcaptcha binary.
package data

import "embed"

var (
	// Config holds captcha.yaml, the configuration used when no file is
	// given with -config-fname.
	//
	//go:embed captcha.yaml
	Config embed.FS
)
