package main

import (
	"time"

	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/storage/memory"
)

// seedDemo loads a small spa so the in-memory mode is usable without fixtures.
func seedDemo(s *memory.Store) {
	vip := func(v int64) *int64 { return &v }

	for _, u := range []model.User{
		{ID: "client-1", Role: model.RoleClient},
		{ID: "vip-1", Role: model.RoleVIP},
		{ID: "staff-1", Role: model.RoleStaff},
		{ID: "admin-1", Role: model.RoleAdmin},
	} {
		s.AddUser(u)
	}

	massage := model.Category{ID: "massage", Name: "Massage"}
	wellness := model.Category{ID: "wellness", Name: "Wellness", IsLowSupervision: true}
	for _, svc := range []model.Service{
		{ID: "swedish-60", Name: "Swedish massage", Duration: 60 * time.Minute, Price: 200000, VIPPrice: vip(170000), Active: true, Category: massage},
		{ID: "facial-30", Name: "Express facial", Duration: 30 * time.Minute, Price: 100000, Active: true, Category: massage},
		{ID: "sauna-45", Name: "Sauna", Duration: 45 * time.Minute, Price: 30000, Active: true, Category: wellness},
	} {
		s.AddService(svc)
	}

	for _, staff := range []string{"therapist-a", "therapist-b"} {
		for wd := time.Monday; wd <= time.Saturday; wd++ {
			s.AddWorkingWindow(model.WorkingWindow{StaffID: staff, Weekday: wd, StartMinute: 9 * 60, EndMinute: 13 * 60})
			s.AddWorkingWindow(model.WorkingWindow{StaffID: staff, Weekday: wd, StartMinute: 14 * 60, EndMinute: 19 * 60})
		}
	}
	lunch := time.Saturday
	s.AddExclusion(model.Exclusion{StaffID: "therapist-b", Weekday: &lunch, StartMinute: 16 * 60, EndMinute: 19 * 60, Reason: "short saturday"})
}
