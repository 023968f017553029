package scheduler

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/shaiso/conveyor/internal/domain"
)

// ErrInvalidSchedule: у расписания нет ни cron-выражения, ни интервала.
var ErrInvalidSchedule = errors.New("schedule has neither cron_expr nor interval_sec")

// cronParser разбирает выражения из пяти полей: минуты часы дни месяцы дни_недели.
// Дескрипторы вида @daily тоже поддерживаются.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// location загружает часовой пояс расписания. Пустой или неизвестный: UTC.
func location(tz string) *time.Location {
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}

// CalculateNextDue вычисляет время следующего запуска после from.
// Cron вычисляется в часовом поясе расписания, результат всегда в UTC.
func CalculateNextDue(sched *domain.Schedule, from time.Time) (time.Time, error) {
	switch {
	case sched.IsCron():
		spec, err := cronParser.Parse(sched.CronExpr)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse cron expression %q: %w", sched.CronExpr, err)
		}
		return spec.Next(from.In(location(sched.Timezone))).UTC(), nil

	case sched.IsInterval():
		return from.Add(time.Duration(sched.IntervalSec) * time.Second).UTC(), nil

	default:
		return time.Time{}, ErrInvalidSchedule
	}
}

// ValidateCronExpr проверяет cron-выражение.
func ValidateCronExpr(expr string) error {
	if _, err := cronParser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

// Prepare проверяет новое расписание и вычисляет первый запуск.
func Prepare(sched *domain.Schedule, now time.Time) error {
	if sched.IsCron() {
		if err := ValidateCronExpr(sched.CronExpr); err != nil {
			return err
		}
	}
	if sched.Timezone != "" {
		if _, err := time.LoadLocation(sched.Timezone); err != nil {
			return fmt.Errorf("invalid timezone %q: %w", sched.Timezone, err)
		}
	}

	next, err := CalculateNextDue(sched, now)
	if err != nil {
		return err
	}
	sched.NextDueAt = &next
	return nil
}
