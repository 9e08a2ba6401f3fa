package core

import "strings"

// Encoding is a MIME type represented, for wire efficiency, as an integer
// prefix indexing a fixed registry plus a string suffix. Prefix 0 means the
// suffix is the complete MIME string.
type Encoding struct {
	Prefix ZInt
	Suffix string
}

// mimes is the fixed registry of well-known MIME prefixes. Index assignment
// is stable: it is part of the wire contract.
var mimes = [21]string{
	/*  0 */ "",
	/*  1 */ "application/octet-stream",
	/*  2 */ "application/custom", // non iana standard
	/*  3 */ "text/plain",
	/*  4 */ "application/properties", // non iana standard
	/*  5 */ "application/json",
	/*  6 */ "application/sql",
	/*  7 */ "application/integer", // non iana standard
	/*  8 */ "application/float", // non iana standard
	/*  9 */ "application/xml",
	/* 10 */ "application/xhtml+xml",
	/* 11 */ "application/x-www-form-urlencoded",
	/* 12 */ "text/json", // non iana standard
	/* 13 */ "text/html",
	/* 14 */ "text/xml",
	/* 15 */ "text/css",
	/* 16 */ "text/csv",
	/* 17 */ "text/javascript",
	/* 18 */ "image/jpeg",
	/* 19 */ "image/png",
	/* 20 */ "image/gif",
}

// Well-known encodings.
var (
	EncodingEmpty          = Encoding{Prefix: 0}
	EncodingAppOctetStream = Encoding{Prefix: 1}
	EncodingAppCustom      = Encoding{Prefix: 2}
	EncodingTextPlain      = Encoding{Prefix: 3}
	EncodingAppProperties  = Encoding{Prefix: 4}
	EncodingAppJSON        = Encoding{Prefix: 5}
	EncodingAppSQL         = Encoding{Prefix: 6}
	EncodingAppInteger     = Encoding{Prefix: 7}
	EncodingAppFloat       = Encoding{Prefix: 8}
	EncodingAppXML         = Encoding{Prefix: 9}
	EncodingAppXHTMLXML    = Encoding{Prefix: 10}
	EncodingAppFormURL     = Encoding{Prefix: 11}
	EncodingTextJSON       = Encoding{Prefix: 12}
	EncodingTextHTML       = Encoding{Prefix: 13}
	EncodingTextXML        = Encoding{Prefix: 14}
	EncodingTextCSS        = Encoding{Prefix: 15}
	EncodingTextCSV        = Encoding{Prefix: 16}
	EncodingTextJavascript = Encoding{Prefix: 17}
	EncodingImageJPEG      = Encoding{Prefix: 18}
	EncodingImagePNG       = Encoding{Prefix: 19}
	EncodingImageGIF       = Encoding{Prefix: 20}
)

// EncodingFrom maps a MIME string onto the registry: the longest-declared
// prefix match wins, anything unrecognised lands on prefix 0 with the whole
// string as suffix.
func EncodingFrom(s string) Encoding {
	for i := 1; i < len(mimes); i++ {
		if strings.HasPrefix(s, mimes[i]) {
			return Encoding{Prefix: ZInt(i), Suffix: s[len(mimes[i]):]}
		}
	}
	return Encoding{Prefix: 0, Suffix: s}
}

// String returns registry[prefix] ++ suffix for registered prefixes, the
// bare suffix otherwise.
func (e Encoding) String() string {
	if e.Prefix > 0 && e.Prefix < ZInt(len(mimes)) {
		return mimes[e.Prefix] + e.Suffix
	}
	return e.Suffix
}

// WithSuffix returns a copy of e with the given suffix.
func (e Encoding) WithSuffix(suffix string) Encoding {
	e.Suffix = suffix
	return e
}
