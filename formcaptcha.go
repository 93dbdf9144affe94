// Package formcaptcha contains global constants and variables shared by the
// CAPTCHA service and its tooling.
package formcaptcha

import "time"

// Version is the current version of formcaptcha.
//
// This variable is set at build time using the -X linker flag. If not set,
// it defaults to "devel".
var Version = "devel"

// ChallengeExpiry is how long an issued challenge may be answered. A challenge
// whose age is exactly ChallengeExpiry is still valid.
const ChallengeExpiry = 300 * time.Second

// CodeAlphabet is the set of characters a challenge code is drawn from.
// Glyphs that are easy to mix up once distorted (0/O, 1/I, 5/S and so on)
// are left out.
const CodeAlphabet = "ABCDEFGHKLMNPQRTUVW2346789"

// CodeLength is the number of characters in a challenge code.
const CodeLength = 6

// SaltLength is the number of alphanumeric characters in a commitment salt.
const SaltLength = 30

// BasePrefix is a global prefix for all formcaptcha endpoints. Set by the
// -base-prefix flag.
var BasePrefix = ""

// APIPrefix is the path prefix for all API routes.
const APIPrefix = "/api/"

// ForcedLanguage is the language used for all user-facing messages instead of
// the one negotiated from the request.
var ForcedLanguage = ""
