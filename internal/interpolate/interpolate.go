// Package interpolate renders placeholder templates against an
// asset's payload. Templates drive notification text and the
// signature strings that identify assets in lists.
//
// Two placeholder forms exist: {field_name} inserts payload values
// (joined with "," when the field holds several; a trailing $ takes
// the first value only; dotted names project a sub-key), and
// {#NAME#} inserts one of the fixed asset attributes such as
// {#ASSET_ID#} or {#ASSET_OPERATOR_USERNAME#}.
package interpolate

import (
	"regexp"
	"strconv"
	"strings"

	"loom/internal/payload"
)

// Context holds the fixed asset attributes templates can reference.
type Context struct {
	AssetID          int64
	Signature        string
	TypeName         string
	StationName      string
	OperatorUsername string
	CreatorUsername  string
	RouteName        string
}

var placeholderPattern = regexp.MustCompile(`\{([^{}]+)\}`)

// Render substitutes every placeholder in the template. Unknown
// placeholders and missing fields render as empty strings so a
// misconfigured template degrades instead of failing delivery.
func Render(template string, p payload.Payload, ctx Context) string {
	return placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		token := match[1 : len(match)-1]
		if strings.HasPrefix(token, "#") && strings.HasSuffix(token, "#") && len(token) > 2 {
			return attribute(strings.Trim(token, "#"), p, ctx)
		}
		return field(token, p)
	})
}

func attribute(name string, p payload.Payload, ctx Context) string {
	switch name {
	case "ASSET_ID":
		return strconv.FormatInt(ctx.AssetID, 10)
	case "ASSET_UUID":
		if v, ok := p.First("uuid"); ok {
			return v.Text()
		}
		return ""
	case "ASSET_SIGNATURE_STRING":
		return ctx.Signature
	case "ASSET_TYPE_NAME":
		return ctx.TypeName
	case "ASSET_STATION_NAME":
		return ctx.StationName
	case "ASSET_OPERATOR_USERNAME":
		return ctx.OperatorUsername
	case "ASSET_CREATOR_USERNAME":
		return ctx.CreatorUsername
	case "ASSET_ROUTE_NAME":
		return ctx.RouteName
	}
	return ""
}

func field(token string, p payload.Payload) string {
	firstOnly := strings.HasSuffix(token, "$")
	ref := strings.TrimSuffix(token, "$")
	vals, ok := p.Resolve(ref)
	if !ok || len(vals) == 0 {
		return ""
	}
	if firstOnly || len(vals) == 1 {
		return vals[0].Text()
	}
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = v.Text()
	}
	return strings.Join(parts, ",")
}

// Signature renders an asset type's signature template, falling back
// to the plain type name when no template is configured.
func Signature(template, typeName string, p payload.Payload, ctx Context) string {
	if strings.TrimSpace(template) == "" {
		return typeName
	}
	return Render(template, p, ctx)
}
