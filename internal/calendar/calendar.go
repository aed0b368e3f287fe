package calendar

import (
	"fmt"
	"time"
	_ "time/tzdata"
)

const dayLayout = "2006-01-02"

// Config часы торговой сессии и праздники.
type Config struct {
	Timezone string   `yaml:"timezone" default:"America/New_York" validate:"required"`
	Open     string   `yaml:"open" default:"09:30" validate:"datetime=15:04"`
	Close    string   `yaml:"close" default:"16:00" validate:"datetime=15:04"`
	Holidays []string `yaml:"holidays" validate:"dive,datetime=2006-01-02"`
}

// Calendar предикаты торгового времени. Неизменяемый, безопасен для конкурентного чтения.
type Calendar struct {
	loc      *time.Location
	openMin  int
	closeMin int
	holidays map[string]struct{}
}

func New(cfg Config) (*Calendar, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
	}
	open, err := minuteOfDay(cfg.Open)
	if err != nil {
		return nil, err
	}
	cl, err := minuteOfDay(cfg.Close)
	if err != nil {
		return nil, err
	}
	if cl <= open {
		return nil, fmt.Errorf("market close %s is not after open %s", cfg.Close, cfg.Open)
	}

	c := &Calendar{
		loc:      loc,
		openMin:  open,
		closeMin: cl,
		holidays: make(map[string]struct{}, len(cfg.Holidays)),
	}
	for _, h := range cfg.Holidays {
		c.holidays[h] = struct{}{}
	}
	return c, nil
}

func minuteOfDay(hhmm string) (int, error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return 0, fmt.Errorf("parse time of day %q: %w", hhmm, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

func (c *Calendar) Location() *time.Location { return c.loc }

// DayID идентификатор торгового дня в таймзоне рынка.
func (c *Calendar) DayID(t time.Time) string {
	return t.In(c.loc).Format(dayLayout)
}

// IsTradingDay будний день и не праздник.
func (c *Calendar) IsTradingDay(t time.Time) bool {
	local := t.In(c.loc)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	_, holiday := c.holidays[local.Format(dayLayout)]
	return !holiday
}

// IsTradingTime t внутри сессии [open, close) торгового дня.
func (c *Calendar) IsTradingTime(t time.Time) bool {
	if !c.IsTradingDay(t) {
		return false
	}
	open, cl := c.Session(t)
	return !t.Before(open) && t.Before(cl)
}

// Session открытие и закрытие рынка в день t.
func (c *Calendar) Session(t time.Time) (open, close time.Time) {
	return c.At(t, c.openMin/60, c.openMin%60), c.At(t, c.closeMin/60, c.closeMin%60)
}

// At момент hour:minute по времени рынка в день t.
func (c *Calendar) At(t time.Time, hour, minute int) time.Time {
	local := t.In(c.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, c.loc)
}
