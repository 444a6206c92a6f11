package catalog

import (
	"errors"
	"testing"
	"time"

	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func price(v int64) *int64 { return &v }

var (
	massage = model.Service{ID: "massage", Duration: 60 * time.Minute, Price: 100000, VIPPrice: price(80000), Active: true}
	facial  = model.Service{ID: "facial", Duration: 30 * time.Minute, Price: 50000, Active: true}
	sauna   = model.Service{ID: "sauna", Duration: 30 * time.Minute, Price: 20000, Active: true,
		Category: model.Category{ID: "wet", IsLowSupervision: true}}
	retired = model.Service{ID: "retired", Duration: 30 * time.Minute, Price: 1, Active: false}
)

func TestResolveVIPPricing(t *testing.T) {
	b, err := Resolve([]string{"massage", "facial"}, []model.Service{facial, massage}, model.RoleVIP)
	require.NoError(t, err)

	assert.Equal(t, int64(80000+50000), b.Price)
	assert.Equal(t, 90*time.Minute, b.Duration)
	require.Len(t, b.Items, 2)
	assert.Equal(t, "massage", b.Items[0].ServiceID)
	assert.Equal(t, int64(80000), b.Items[0].PriceAtPurchase)
	assert.Equal(t, int64(50000), b.Items[1].PriceAtPurchase)
}

func TestResolveClientPaysListPrice(t *testing.T) {
	b, err := Resolve([]string{"massage"}, []model.Service{massage}, model.RoleClient)
	require.NoError(t, err)
	assert.Equal(t, int64(100000), b.Price)
}

func TestResolveRejects(t *testing.T) {
	all := []model.Service{massage, facial, retired}
	tests := []struct {
		name string
		ids  []string
		kind apperr.Kind
	}{
		{"empty", nil, apperr.InvalidInput},
		{"duplicate", []string{"facial", "facial"}, apperr.DuplicateService},
		{"missing", []string{"nope"}, apperr.InvalidInput},
		{"inactive", []string{"retired"}, apperr.InvalidInput},
		{"blank", []string{""}, apperr.InvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Resolve(tt.ids, all, model.RoleClient)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.kind), err)
		})
	}
}

func TestAllLowSupervision(t *testing.T) {
	b, err := Resolve([]string{"sauna"}, []model.Service{sauna}, model.RoleClient)
	require.NoError(t, err)
	assert.True(t, b.AllLowSupervision())

	b, err = Resolve([]string{"sauna", "facial"}, []model.Service{sauna, facial}, model.RoleClient)
	require.NoError(t, err)
	assert.False(t, b.AllLowSupervision())
}
