// Package export moves chunk debug sessions in and out of listener storage.
//
// # Formats
//
// Dump format:
//   - The recorder's own file format, one "x,z,tick,dimension,event,metadata"
//     line per entry with base64 JSON metadata
//   - Files written by the recorder's file sink load directly
//   - Exports can be re-imported or opened by any dump viewer
//
// JSON format:
//   - Entries with decoded metadata plus an export header
//   - Export-only, meant for scripts and external tools
//
// # HTTP API
//
// Export endpoint: GET /v1/export?session=<id>[&format=dump|json][&dimension=<d>]
//
//	curl "http://localhost:8090/v1/export?session=dump-1234" -o session.csv
//
// Import endpoint: POST /v1/import[?session=<id>]
//
//	curl -X POST --data-binary @chunkDebug-2024-05-01-13-04-05-0420.csv \
//	  http://localhost:8090/v1/import
//
// Malformed lines are skipped and listed in the response's "errors" field.
package export
