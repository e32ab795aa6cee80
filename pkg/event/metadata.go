package event

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// metadataJSON is the structured form of Metadata before base64 encoding.
// Field names match the payload read by existing chunk debug viewers.
type metadataJSON struct {
	StackTrace string `json:"stackTrace"`
	Custom     string `json:"custom,omitempty"`
}

// EncodeMetadata serializes metadata into a single base64 token.
// The result contains no commas, line breaks or quotes so it can sit in the
// last column of a line record.
func EncodeMetadata(m Metadata) (string, error) {
	var sb strings.Builder
	for _, frame := range m.Trace {
		sb.WriteString(frame)
		sb.WriteByte('\n')
	}

	data, err := json.Marshal(metadataJSON{
		StackTrace: sb.String(),
		Custom:     m.Annotation,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal metadata: %w", err)
	}

	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeMetadata is the inverse of EncodeMetadata
func DecodeMetadata(s string) (Metadata, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to decode metadata: %w", err)
	}

	var raw metadataJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return Metadata{}, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}

	m := Metadata{Annotation: raw.Custom}
	if raw.StackTrace != "" {
		m.Trace = strings.Split(strings.TrimSuffix(raw.StackTrace, "\n"), "\n")
	}
	return m, nil
}
