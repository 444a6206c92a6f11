package catalog

import (
	"time"

	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/model"
)

// Bundle is the priced, ordered set of services for one appointment.
type Bundle struct {
	Services []model.Service
	Items    []model.AppointmentItem
	Duration time.Duration
	Price    int64
}

// AllLowSupervision reports whether every service can run without a dedicated staff member.
func (b Bundle) AllLowSupervision() bool {
	if len(b.Services) == 0 {
		return false
	}
	for _, s := range b.Services {
		if !s.Category.IsLowSupervision {
			return false
		}
	}
	return true
}

// ResolvePrice returns the VIP price for VIP users when one is set, else the list price.
func ResolvePrice(s model.Service, role model.Role) int64 {
	if role == model.RoleVIP && s.VIPPrice != nil {
		return *s.VIPPrice
	}
	return s.Price
}

// CheckIDs rejects empty requests, blank ids and duplicates.
func CheckIDs(ids []string) error {
	if len(ids) == 0 {
		return apperr.New(apperr.InvalidInput, "at least one service is required")
	}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			return apperr.New(apperr.InvalidInput, "service id must not be empty")
		}
		if _, ok := seen[id]; ok {
			return apperr.New(apperr.DuplicateService, "service %s requested more than once", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// Resolve builds a Bundle in request order from the loaded services, snapshotting prices for role.
func Resolve(ids []string, found []model.Service, role model.Role) (Bundle, error) {
	if err := CheckIDs(ids); err != nil {
		return Bundle{}, err
	}
	byID := make(map[string]model.Service, len(found))
	for _, s := range found {
		byID[s.ID] = s
	}

	b := Bundle{
		Services: make([]model.Service, 0, len(ids)),
		Items:    make([]model.AppointmentItem, 0, len(ids)),
	}
	for _, id := range ids {
		s, ok := byID[id]
		if !ok {
			return Bundle{}, apperr.New(apperr.InvalidInput, "service %s not found", id)
		}
		if !s.Active {
			return Bundle{}, apperr.New(apperr.InvalidInput, "service %s is not active", id)
		}
		price := ResolvePrice(s, role)
		b.Services = append(b.Services, s)
		b.Items = append(b.Items, model.AppointmentItem{
			ServiceID:       s.ID,
			Duration:        s.Duration,
			PriceAtPurchase: price,
		})
		b.Duration += s.Duration
		b.Price += price
	}
	if b.Duration <= 0 {
		return Bundle{}, apperr.New(apperr.InvalidInput, "services have no duration")
	}
	return b, nil
}
