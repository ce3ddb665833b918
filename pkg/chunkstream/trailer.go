package chunkstream

import "strings"

// TrailerHeader is one entry of an ordered trailing-header multimap
// (spec.md §6: "an ordered multimap of header name to list of string
// values"). Multi-valued headers are joined with a single comma when
// serialized; header order on the wire is insertion order.
type TrailerHeader struct {
	Name   string
	Values []string
}

// line renders "<name>:<joined-values>\r\n" for this header, per spec.md
// §3's trailing-headers frame grammar.
func (h TrailerHeader) line() string {
	return h.Name + ":" + strings.Join(h.Values, ",") + "\r\n"
}

// serializeTrailers concatenates the CRLF-terminated header lines in
// insertion order. The result is exactly trailer_bytes from spec.md §3: no
// trailer-signature line and no closing CRLF.
func serializeTrailers(headers []TrailerHeader) []byte {
	var b strings.Builder
	for _, h := range headers {
		b.WriteString(h.line())
	}
	return []byte(b.String())
}
