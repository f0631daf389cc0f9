package constants

// Overridden at build time with -ldflags "-X github.com/Amund211/marketcache/internal/constants.VERSION=..."
var VERSION = "dev"

var USER_AGENT = "marketcache/" + VERSION + " (+https://github.com/Amund211/marketcache)"
