package simengine

import (
	"log/slog"
	"time"
)

// Params configures the simulated building and its run period.
type Params struct {
	Start            time.Time
	RunDays          int
	WarmupDays       int
	TimestepsPerHour int

	FloorArea   float64 // m2
	InitialTemp float64 // degC
	// Alpha is the per-second coupling between zone and outdoor air.
	Alpha      float64
	HeatPowerW float64
	CoolPowerW float64

	// Setpoints used while the actuators are relinquished.
	DefaultHeating float64
	DefaultCooling float64

	OutdoorMean      float64
	OutdoorAmplitude float64

	Logger *slog.Logger
}

type Option func(*Params)

// WithStart sets the first simulated day. Only the date is used.
func WithStart(year int, month time.Month, day int) Option {
	return func(p *Params) {
		p.Start = time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	}
}

func WithRunDays(n int) Option {
	return func(p *Params) {
		p.RunDays = n
	}
}

// WithWarmupDays repeats the first day n times before the run period, with
// Warmup reporting true.
func WithWarmupDays(n int) Option {
	return func(p *Params) {
		p.WarmupDays = n
	}
}

func WithTimestepsPerHour(n int) Option {
	return func(p *Params) {
		p.TimestepsPerHour = n
	}
}

func WithInitialTemp(c float64) Option {
	return func(p *Params) {
		p.InitialTemp = c
	}
}

// WithOutdoor sets the daily mean and half-swing of the outdoor dry bulb.
func WithOutdoor(mean, amplitude float64) Option {
	return func(p *Params) {
		p.OutdoorMean = mean
		p.OutdoorAmplitude = amplitude
	}
}

func WithHVAC(heatPowerW, coolPowerW float64) Option {
	return func(p *Params) {
		p.HeatPowerW = heatPowerW
		p.CoolPowerW = coolPowerW
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Params) {
		p.Logger = l
	}
}

func defaultParams() *Params {
	return &Params{
		Start:            time.Date(2021, time.January, 1, 0, 0, 0, 0, time.UTC),
		RunDays:          1,
		WarmupDays:       1,
		TimestepsPerHour: 4,
		FloorArea:        100,
		InitialTemp:      18,
		Alpha:            2e-5,
		HeatPowerW:       5000,
		CoolPowerW:       4000,
		DefaultHeating:   18,
		DefaultCooling:   26,
		OutdoorMean:      5,
		OutdoorAmplitude: 5,
		Logger:           slog.Default(),
	}
}
