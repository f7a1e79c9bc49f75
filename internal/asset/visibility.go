package asset

import "loom/internal/payload"

// VisibleFields resolves the payload fields a user may see on an
// asset held at a station. The asset's operator and the station's
// operators and supervisors get the station's editable and appendable
// fields for the asset's type. The creator gets the type's creator
// field set, falling back to the descriptive set when none is
// configured. Everyone else gets the descriptive set.
func VisibleFields(a *Asset, typ *AssetType, station *Station, user *User) []string {
	if user != nil {
		holdsStation := (a.Operator != "" && user.Username == a.Operator) ||
			station.HasOperator(user.Username) ||
			station.HasSupervisor(user.Username)
		if holdsStation {
			tmpl := station.EffectiveFieldTemplate(typ.Sysname, a.Payload)
			fields := append([]string(nil), tmpl.Editable...)
			for _, f := range tmpl.Appendable {
				if !containsField(fields, f) {
					fields = append(fields, f)
				}
			}
			return fields
		}
		if a.Meta != nil && a.Meta.IsCreator(user.ID) {
			if len(typ.CreatorFields) > 0 {
				return append([]string(nil), typ.CreatorFields...)
			}
			return append([]string(nil), typ.DescriptiveFields...)
		}
	}
	return append([]string(nil), typ.DescriptiveFields...)
}

// VisiblePayload filters a payload down to the listed fields.
func VisiblePayload(p payload.Payload, fields []string) payload.Payload {
	out := payload.Payload{}
	for _, f := range fields {
		if vals, ok := p[f]; ok {
			out[f] = vals
		}
	}
	return out
}

func containsField(fields []string, name string) bool {
	for _, f := range fields {
		if f == name {
			return true
		}
	}
	return false
}
