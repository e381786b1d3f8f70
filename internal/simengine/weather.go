package simengine

import (
	"math"

	"github.com/boristopalov/bca/pkg/core"
)

// outdoorDryBulb is a sinusoid peaking at 15:00. day shifts the mean a
// little so consecutive days differ.
func (p *Params) outdoorDryBulb(day int, hour float64) float64 {
	mean := p.OutdoorMean + 0.5*math.Sin(float64(day))
	return mean + p.OutdoorAmplitude*math.Sin(2*math.Pi*(hour-9)/24)
}

// forecast evaluates a weather metric at a fractional hour of the given day.
func (p *Params) forecast(metric core.WeatherMetric, day int, hour float64) float64 {
	sunUp := hour >= 6 && hour < 18
	switch metric {
	case core.OutdoorDryBulb:
		return p.outdoorDryBulb(day, hour)
	case core.OutdoorDewPoint:
		return p.outdoorDryBulb(day, hour) - 4
	case core.SkyTemperature:
		return p.outdoorDryBulb(day, hour) - 10
	case core.SunIsUp:
		if sunUp {
			return 1
		}
		return 0
	case core.BeamSolar, core.DiffuseSolar:
		if !sunUp {
			return 0
		}
		peak := 600.0
		if metric == core.DiffuseSolar {
			peak = 150
		}
		return peak * math.Sin(math.Pi*(hour-6)/12)
	case core.HorizontalIR:
		return 300
	case core.OutdoorRelativeHumidity:
		return 70 - 15*math.Sin(2*math.Pi*(hour-9)/24)
	case core.OutdoorBarometricPressure:
		return 101325
	case core.WindSpeed:
		return 3.5
	case core.WindDirection:
		return 225
	case core.Albedo:
		return 0.2
	case core.IsRaining, core.IsSnowing, core.LiquidPrecipitation:
		return 0
	}
	return 0
}
