package header

// Canonical header names used by the engine's wire layer. Kept as plain
// string constants (not canonicalized/cased by a lookup table) since the
// List's comparisons are already case-insensitive; these exist purely so
// call sites never hand-type a header name incorrectly.
const (
	Connection = "Connection"
	ContentLength = "Content-Length"
	ContentType = "Content-Type"
	Date = "Date"
	Expect = "Expect"
	Host = "Host"
	Location = "Location"
	Server = "Server"
	Trailer = "Trailer"
	TransferEncoding = "Transfer-Encoding"
	Upgrade = "Upgrade"
)

// Connection/Transfer-Encoding token values the engine recognizes.
const (
	TokenClose = "close"
	TokenKeepAlive = "keep-alive"
	TokenChunked = "chunked"
	TokenIdentity = "identity"
	Token100Continue = "100-continue"
)
