// Package all is a meta-package that imports all store implementations.
//
// Import it for side effects wherever a backend is picked by name from
// configuration.
package all

import (
	_ "github.com/uvensys/formcaptcha/lib/store/bbolt"
	_ "github.com/uvensys/formcaptcha/lib/store/memory"
	_ "github.com/uvensys/formcaptcha/lib/store/valkey"
)
