// Package schedule lets staff maintain working windows and availability exclusions.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/storage"
)

const minutesPerDay = 24 * 60

type Service struct {
	store  storage.Store
	logger *slog.Logger
}

func NewService(store storage.Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// CreateWorkingWindow adds a weekly window for w.StaffID. Creating an identical window again returns
// the stored one with created=false; a window overlapping a different one is rejected.
func (s *Service) CreateWorkingWindow(ctx context.Context, actorID string, w model.WorkingWindow) (model.WorkingWindow, bool, error) {
	if err := s.authorize(ctx, actorID); err != nil {
		return model.WorkingWindow{}, false, err
	}
	if w.StaffID == "" || w.Weekday < time.Sunday || w.Weekday > time.Saturday {
		return model.WorkingWindow{}, false, apperr.New(apperr.InvalidInput, "staff and a weekday are required")
	}
	if err := validMinutes(w.StartMinute, w.EndMinute); err != nil {
		return model.WorkingWindow{}, false, err
	}

	var out model.WorkingWindow
	created := false
	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		if err := tx.LockStaff(ctx, w.StaffID); err != nil {
			return err
		}
		existing, err := tx.StaffWindows(ctx, w.StaffID, w.Weekday)
		if err != nil {
			return fmt.Errorf("load staff windows: %w", err)
		}
		for _, cur := range existing {
			if cur.SameSlot(w) {
				out = cur
				return nil
			}
			if cur.Overlaps(w) {
				return apperr.New(apperr.InvalidInput, "window overlaps existing window %s-%s",
					clock(cur.StartMinute), clock(cur.EndMinute))
			}
		}

		insert := w
		err = tx.InsertWorkingWindow(ctx, &insert)
		if errors.Is(err, storage.ErrDuplicate) {
			return s.reselect(ctx, tx, w, &out)
		}
		if err != nil {
			return fmt.Errorf("insert working window: %w", err)
		}
		out = insert
		created = true
		return nil
	})
	if err != nil {
		return model.WorkingWindow{}, false, err
	}
	if created {
		s.logger.Info("working window created", "staff_id", out.StaffID, "weekday", out.Weekday.String(),
			"start", clock(out.StartMinute), "end", clock(out.EndMinute))
	}
	return out, created, nil
}

func (s *Service) reselect(ctx context.Context, tx storage.Tx, w model.WorkingWindow, out *model.WorkingWindow) error {
	existing, err := tx.StaffWindows(ctx, w.StaffID, w.Weekday)
	if err != nil {
		return fmt.Errorf("reload staff windows: %w", err)
	}
	for _, cur := range existing {
		if cur.SameSlot(w) {
			*out = cur
			return nil
		}
	}
	return fmt.Errorf("working window reported duplicate but not found")
}

// CreateExclusion blocks time for x.StaffID on x.Date, or every week on x.Weekday. When both are
// set the date wins.
func (s *Service) CreateExclusion(ctx context.Context, actorID string, x model.Exclusion) (model.Exclusion, error) {
	if err := s.authorize(ctx, actorID); err != nil {
		return model.Exclusion{}, err
	}
	if x.StaffID == "" {
		return model.Exclusion{}, apperr.New(apperr.InvalidInput, "staff is required")
	}
	switch {
	case x.Date != nil:
		d := *x.Date
		day := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
		x.Date = &day
		x.Weekday = nil
	case x.Weekday != nil:
		if *x.Weekday < time.Sunday || *x.Weekday > time.Saturday {
			return model.Exclusion{}, apperr.New(apperr.InvalidInput, "weekday %d out of range", *x.Weekday)
		}
	default:
		return model.Exclusion{}, apperr.New(apperr.InvalidInput, "a date or a weekday is required")
	}
	if err := validMinutes(x.StartMinute, x.EndMinute); err != nil {
		return model.Exclusion{}, err
	}

	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		if err := tx.LockStaff(ctx, x.StaffID); err != nil {
			return err
		}
		if err := tx.InsertExclusion(ctx, &x); err != nil {
			return fmt.Errorf("insert exclusion: %w", err)
		}
		return nil
	})
	if err != nil {
		return model.Exclusion{}, err
	}
	s.logger.Info("exclusion created", "staff_id", x.StaffID, "exclusion_id", x.ID, "recurring", x.Recurring())
	return x, nil
}

func (s *Service) authorize(ctx context.Context, actorID string) error {
	actor, err := s.store.GetUser(ctx, actorID)
	if err != nil {
		return err
	}
	if !actor.Role.Privileged() {
		return apperr.New(apperr.NotOwner, "only staff may change schedules")
	}
	return nil
}

func validMinutes(start, end int) error {
	if start < 0 || end > minutesPerDay || start >= end {
		return apperr.New(apperr.InvalidInput, "start must be before end within one day")
	}
	return nil
}

func clock(minute int) string {
	return fmt.Sprintf("%02d:%02d", minute/60, minute%60)
}
