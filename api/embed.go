// Package api embeds the OpenAPI description of the playback, websocket
// and operator endpoints.
package api

import _ "embed"

// OpenAPISpec holds the raw OpenAPI 3.0 document.
//
//go:embed openapi.yaml
var OpenAPISpec []byte
