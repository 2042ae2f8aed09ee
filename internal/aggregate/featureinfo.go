package aggregate

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/charmap"
)

const (
	gmlMemberElement = "member"
	htmlFeatureToken = "inspireId"
)

// HasFeature reports whether a GetFeatureInfo body describes at least one
// cadastral feature. XML bodies need a member element; anything else is
// searched for the inspireId token the upstream prints per feature.
func HasFeature(contentType string, body []byte) bool {
	if len(body) == 0 {
		return false
	}
	if isXML(contentType) {
		return hasElement(body, gmlMemberElement)
	}
	return bytes.Contains(body, []byte(htmlFeatureToken))
}

func isXML(contentType string) bool {
	ct := strings.ToLower(contentType)
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.Contains(ct, "xml") || strings.Contains(ct, "gml")
}

// hasElement scans body for a start element with the given local name,
// ignoring namespaces. Malformed XML counts as no match.
func hasElement(body []byte, local string) bool {
	dec := xml.NewDecoder(bytes.NewReader(body))
	dec.Strict = false
	dec.CharsetReader = charsetReader
	for {
		tok, err := dec.Token()
		if err != nil {
			return false
		}
		if se, ok := tok.(xml.StartElement); ok && se.Name.Local == local {
			return true
		}
	}
}

// charsetReader decodes the single-byte encodings found in older GML
// documents.
func charsetReader(label string, in io.Reader) (io.Reader, error) {
	switch strings.ToLower(label) {
	case "iso-8859-1", "latin1", "latin-1":
		return charmap.ISO8859_1.NewDecoder().Reader(in), nil
	case "iso-8859-15", "latin9":
		return charmap.ISO8859_15.NewDecoder().Reader(in), nil
	case "windows-1252", "cp1252":
		return charmap.Windows1252.NewDecoder().Reader(in), nil
	}
	return nil, fmt.Errorf("unsupported charset %q", label)
}
