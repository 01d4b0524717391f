// Package openapi encodes the service's OpenAPI document for publishing.
package openapi

import (
	"encoding/json"
	"fmt"

	"github.com/danielgtaylor/huma/v2"
)

// Supported output formats.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Encode renders doc as JSON or YAML. With legacy set the document is
// downgraded to OpenAPI 3.0.3 for generators that do not read 3.1.
func Encode(doc *huma.OpenAPI, format string, legacy bool) ([]byte, error) {
	var (
		out []byte
		err error
	)
	switch {
	case format == FormatJSON && legacy:
		out, err = doc.Downgrade()
	case format == FormatJSON:
		out, err = json.MarshalIndent(doc, "", "  ")
	case format == FormatYAML && legacy:
		out, err = doc.DowngradeYAML()
	case format == FormatYAML:
		out, err = doc.YAML()
	default:
		return nil, fmt.Errorf("unknown format %q (want %s or %s)", format, FormatJSON, FormatYAML)
	}
	if err != nil {
		return nil, fmt.Errorf("encoding openapi document: %w", err)
	}
	return out, nil
}
