package engine

import (
	"fmt"
	"time"

	"github.com/poachwatch/poachwatch/internal/alert"
	"github.com/poachwatch/poachwatch/internal/notification"
)

// confirmedNotifications builds the per-role notifications for a new episode.
// Admins get a summary, rangers get the coordinates.
func confirmedNotifications(a alert.FusedAlert, now time.Time) []notification.Notification {
	zone := zoneText(a.Zone)
	species := a.Species
	if species == "" {
		species = "unknown species"
	}
	image := a.ImageRef
	if image == "" {
		image = "no image"
	}

	admin := notification.New(notification.RoleAdmin, notification.KindPoacherConfirmed,
		fmt.Sprintf("Poacher confirmed: %s movement in %s, image %s", species, zone, image), now).
		WithImage(a.ImageRef)

	rangerMsg := fmt.Sprintf("Poacher confirmed in %s. Respond immediately.", zone)
	ranger := notification.New(notification.RoleRanger, notification.KindPoacherConfirmed, rangerMsg, now)
	if a.Location != nil {
		ranger.Message = fmt.Sprintf("Poacher confirmed at %.5f, %.5f (%s). Respond immediately.",
			a.Location.Latitude, a.Location.Longitude, zone)
		ranger = ranger.WithLocation(a.Location.Latitude, a.Location.Longitude, a.Zone)
		admin = admin.WithLocation(a.Location.Latitude, a.Location.Longitude, a.Zone)
	}
	return []notification.Notification{admin, ranger}
}

// clearedNotifications builds the optional end-of-episode notifications.
func clearedNotifications(prev alert.FusedAlert, now time.Time) []notification.Notification {
	msg := fmt.Sprintf("Poacher alert cleared in %s.", zoneText(prev.Zone))
	out := make([]notification.Notification, 0, len(notification.Roles))
	for _, role := range notification.Roles {
		n := notification.New(role, notification.KindPoacherCleared, msg, now)
		n.Zone = prev.Zone
		out = append(out, n)
	}
	return out
}

func zoneText(zone string) string {
	if zone == "" {
		return "an unmapped area"
	}
	return "zone " + zone
}
