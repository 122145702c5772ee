package webhooksrc

import (
	"github.com/tidwall/gjson"

	"github.com/stitchhq/canvas-engine/common/models"
)

// ApplyMapping fills the gaps in an adapter extraction from the config's
// generic entity mapping. Email, Name and metadata values are gjson paths
// into the raw payload. EntityType tries the path first and falls back to
// the configured string as a literal, so "lead" works without a matching
// payload field. Adapter-extracted values are never overwritten.
func ApplyMapping(raw []byte, mapping models.EntityMapping, ex *Extracted) {
	if ex.Email == "" && mapping.Email != "" {
		if v := gjson.GetBytes(raw, mapping.Email); v.Exists() {
			ex.Email = v.String()
		}
	}
	if ex.Name == "" && mapping.Name != "" {
		if v := gjson.GetBytes(raw, mapping.Name); v.Exists() {
			ex.Name = v.String()
		}
	}
	if ex.EntityType == "" && mapping.EntityType != "" {
		if v := gjson.GetBytes(raw, mapping.EntityType); v.Exists() {
			ex.EntityType = v.String()
		} else {
			ex.EntityType = mapping.EntityType
		}
	}
	for key, path := range mapping.Metadata {
		if _, taken := ex.Metadata[key]; taken {
			continue
		}
		if v := gjson.GetBytes(raw, path); v.Exists() {
			if ex.Metadata == nil {
				ex.Metadata = map[string]any{}
			}
			ex.Metadata[key] = v.Value()
		}
	}
}
