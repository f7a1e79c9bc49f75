package routing

import (
	"context"
	"strings"

	"loom/internal/asset"
	"loom/internal/interpolate"
	"loom/internal/logging"
	"loom/internal/notify"
)

// deliverNotifications fires the notification set for one committed
// cross-stage hop: after-timing specs of the source station,
// before-timing specs of the destination, then the variant's own.
// Delivery failures are recorded, never fatal.
func (e *Executor) deliverNotifications(ctx context.Context, a *asset.Asset, source, dest *asset.Station, extra []asset.NotificationSpec) []asset.NotificationResult {
	var specs []asset.NotificationSpec
	for _, spec := range source.Notifications {
		if spec.Timing == asset.NotifyAfter {
			specs = append(specs, spec)
		}
	}
	for _, spec := range dest.Notifications {
		if spec.Timing == asset.NotifyBefore {
			specs = append(specs, spec)
		}
	}
	specs = append(specs, extra...)
	if len(specs) == 0 {
		return nil
	}

	ictx := e.interpolationContext(ctx, a, dest)
	var results []asset.NotificationResult
	for _, spec := range specs {
		results = append(results, e.deliver(ctx, a, spec, ictx)...)
	}
	return results
}

func (e *Executor) deliver(ctx context.Context, a *asset.Asset, spec asset.NotificationSpec, ictx interpolate.Context) []asset.NotificationResult {
	title := interpolate.Render(spec.Title, a.Payload, ictx)
	body := interpolate.Render(spec.Message, a.Payload, ictx)
	addresses := strings.Split(interpolate.Render(spec.Address, a.Payload, ictx), ",")

	var results []asset.NotificationResult
	for _, address := range addresses {
		address = strings.TrimSpace(address)
		if address == "" {
			continue
		}
		result := asset.NotificationResult{
			Channel: spec.Channel,
			Address: address,
			Title:   title,
			Sent:    true,
		}
		err := e.Notifier.Send(ctx, notify.Message{
			Channel:         spec.Channel,
			To:              address,
			Title:           title,
			Body:            body,
			Attachments:     spec.Attachments,
			DeliveryReceipt: spec.DeliveryReceipt,
		})
		if err != nil {
			result.Sent = false
			result.Error = err.Error()
			e.logger().Warn("notification delivery failed",
				logging.Int64("asset_id", a.ID),
				logging.String("channel", spec.Channel),
				logging.String("address", address),
				logging.Error(err))
		}
		results = append(results, result)
	}
	return results
}

// interpolationContext gathers the fixed attributes templates can
// reference. Lookup failures degrade to empty strings.
func (e *Executor) interpolationContext(ctx context.Context, a *asset.Asset, station *asset.Station) interpolate.Context {
	ictx := interpolate.Context{AssetID: a.ID, OperatorUsername: a.Operator}
	if station != nil {
		ictx.StationName = station.Name
	}
	if typ, err := e.Store.AssetTypeByID(ctx, a.TypeID); err == nil && typ != nil {
		ictx.TypeName = typ.Name
		ictx.Signature = interpolate.Signature(typ.SignatureString, typ.Name, a.Payload, ictx)
	}
	if route, err := e.Store.RouteByID(ctx, a.RouteID); err == nil && route != nil {
		ictx.RouteName = route.Name
	}
	if id := a.Meta.CreatorID(); id != 0 {
		if user, err := e.Store.UserByID(ctx, id); err == nil && user != nil {
			ictx.CreatorUsername = user.Username
		}
	}
	return ictx
}
