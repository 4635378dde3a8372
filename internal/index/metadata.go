package index

import (
	"fmt"
	"maps"

	"github.com/spf13/cast"
)

// Reserved metadata keys.
const (
	KeyDocumentID = "document_id"
	KeySource     = "source"
)

// Metadata is the per-chunk metadata stored alongside each vector. The two
// fixed fields are always present; Extra carries caller-supplied values.
type Metadata struct {
	DocumentID string            `json:"document_id"`
	Source     string            `json:"source"`
	Extra      map[string]string `json:"extra,omitempty"`
}

// Map flattens the metadata for storage. Fixed fields win over Extra keys
// with the same name.
func (m Metadata) Map() map[string]string {
	out := make(map[string]string, len(m.Extra)+2)
	maps.Copy(out, m.Extra)
	out[KeyDocumentID] = m.DocumentID
	out[KeySource] = m.Source
	return out
}

// MetadataFromMap coerces arbitrary caller values to strings.
func MetadataFromMap(values map[string]any) Metadata {
	var m Metadata
	for k, v := range values {
		s, err := cast.ToStringE(v)
		if err != nil {
			s = fmt.Sprint(v)
		}

		switch k {
		case KeyDocumentID:
			m.DocumentID = s
		case KeySource:
			m.Source = s
		default:
			if m.Extra == nil {
				m.Extra = make(map[string]string)
			}
			m.Extra[k] = s
		}
	}
	return m
}

// metadataFromStored rebuilds Metadata from a stored string map.
func metadataFromStored(values map[string]string) Metadata {
	m := Metadata{
		DocumentID: values[KeyDocumentID],
		Source:     values[KeySource],
	}
	for k, v := range values {
		if k == KeyDocumentID || k == KeySource {
			continue
		}
		if m.Extra == nil {
			m.Extra = make(map[string]string)
		}
		m.Extra[k] = v
	}
	return m
}
