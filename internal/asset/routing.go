package asset

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"loom/internal/rules"
)

// ReturnSentinel is the destination string that resolves dynamically
// to the stage of the asset's latest transition record.
const ReturnSentinel = "#RETURN#"

// Destination is a route variant's target stage: either a concrete
// stage id or the return sentinel.
type Destination struct {
	ID     int64
	Return bool
}

func (d Destination) String() string {
	if d.Return {
		return ReturnSentinel
	}
	return strconv.FormatInt(d.ID, 10)
}

// MarshalJSON writes the stage id, or the sentinel string for a
// return destination.
func (d Destination) MarshalJSON() ([]byte, error) {
	if d.Return {
		return json.Marshal(ReturnSentinel)
	}
	return json.Marshal(d.ID)
}

// UnmarshalJSON accepts a numeric stage id, a numeric string, or the
// return sentinel.
func (d *Destination) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == ReturnSentinel {
			*d = Destination{Return: true}
			return nil
		}
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("destination %q is neither a stage id nor %s", s, ReturnSentinel)
		}
		*d = Destination{ID: id}
		return nil
	}
	var id int64
	if err := json.Unmarshal(data, &id); err != nil {
		return fmt.Errorf("decode destination: %w", err)
	}
	*d = Destination{ID: id}
	return nil
}

// RouteVariant is one candidate transition configured on a stage.
// Variants are evaluated in configured order; the first item is the
// default route in operator-facing listings.
type RouteVariant struct {
	Destination           Destination         `json:"destination_id"`
	AutoRoute             bool                `json:"auto_route"`
	SuspendFurtherRouting bool                `json:"suspend_further_routing"`
	Requirements          []rules.Requirement `json:"requirements,omitempty"`
	PayloadModifications  []string            `json:"payload_modifications,omitempty"`
	TypeModifications     []string            `json:"asset_type_modifications,omitempty"`
	RouteNotifications    []NotificationSpec  `json:"route_notifications,omitempty"`
}

// Notification timings relative to the transition commit.
const (
	NotifyBefore = "before"
	NotifyAfter  = "after"
)

// Notification channels.
const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
	ChannelWeb   = "web"
)

// NotificationSpec is a configured notification on a station or route
// variant. Title and Message are interpolation templates rendered
// against the asset before delivery.
type NotificationSpec struct {
	Channel         string   `json:"type"`
	Timing          string   `json:"timing,omitempty"`
	Title           string   `json:"title"`
	Message         string   `json:"message"`
	Address         string   `json:"address,omitempty"`
	Attachments     []string `json:"attachments,omitempty"`
	DeliveryReceipt bool     `json:"dsn,omitempty"`
	Recipient       string   `json:"recipient,omitempty"`
}
