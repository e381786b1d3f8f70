package core

import (
	"fmt"
	"slices"
	"strings"
)

// Category is the kind of engine object a metric is backed by.
type Category string

const (
	Variable         Category = "var"
	InternalVariable Category = "intvar"
	Meter            Category = "meter"
	Actuator         Category = "actuator"
	Weather          Category = "weather"
)

// Categories lists every category in declaration-table order.
var Categories = []Category{Variable, InternalVariable, Meter, Actuator, Weather}

// ParseCategory accepts the short names used in tables and configs.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	switch c {
	case Variable, InternalVariable, Meter, Actuator, Weather:
		return c, nil
	case "variable":
		return Variable, nil
	case "internal_variable":
		return InternalVariable, nil
	}
	return "", fmt.Errorf("%w: unknown category %q", ErrConfiguration, s)
}

// KeyArity is the number of lookup key fields each category needs to resolve a handle.
func (c Category) KeyArity() int {
	switch c {
	case Variable, InternalVariable:
		return 2
	case Actuator:
		return 3
	case Meter, Weather:
		return 1
	}
	return 0
}

// IsCategoryName reports whether s names a category rather than a metric.
func IsCategoryName(s string) bool {
	return slices.Contains(Categories, Category(s))
}

// LookupKey is the category-specific tuple used to resolve a handle:
// (variable_name, object_key) for variables and internal variables,
// (meter_name) for meters, (component_type, control_type, actuator_key)
// for actuators and (weather_metric) for weather.
type LookupKey []string

func (k LookupKey) String() string {
	return "[" + strings.Join(k, ", ") + "]"
}

// MetricDeclaration is one user-declared sensor, actuator or weather query.
type MetricDeclaration struct {
	Name     string
	Category Category
	Key      LookupKey
}

// Handle is the opaque engine identifier for a resolved metric.
type Handle int

// InvalidHandle is the sentinel the engine returns when a lookup fails.
const InvalidHandle Handle = -1

// State is the opaque engine run context.
type State uintptr

// TimeFields are the raw clock fields the engine reports at a callback.
// Hour may be 24 and Minute may be 60 at period boundaries.
type TimeFields struct {
	Year         int
	Month        int
	Day          int
	Hour         int
	Minute       int
	ZoneTimestep int
}

// Day selects today's or tomorrow's weather for forecast queries.
type Day string

const (
	Today    Day = "today"
	Tomorrow Day = "tomorrow"
)

// WeatherMetric names a weather quantity the engine can forecast.
type WeatherMetric string

const (
	SunIsUp                   WeatherMetric = "sun_is_up"
	IsRaining                 WeatherMetric = "is_raining"
	IsSnowing                 WeatherMetric = "is_snowing"
	Albedo                    WeatherMetric = "albedo"
	BeamSolar                 WeatherMetric = "beam_solar"
	DiffuseSolar              WeatherMetric = "diffuse_solar"
	HorizontalIR              WeatherMetric = "horizontal_ir"
	LiquidPrecipitation       WeatherMetric = "liquid_precipitation"
	OutdoorBarometricPressure WeatherMetric = "outdoor_barometric_pressure"
	OutdoorDewPoint           WeatherMetric = "outdoor_dew_point"
	OutdoorDryBulb            WeatherMetric = "outdoor_dry_bulb"
	OutdoorRelativeHumidity   WeatherMetric = "outdoor_relative_humidity"
	SkyTemperature            WeatherMetric = "sky_temperature"
	WindDirection             WeatherMetric = "wind_direction"
	WindSpeed                 WeatherMetric = "wind_speed"
)

// WeatherMetrics is the fixed set of weather quantities that may be declared.
var WeatherMetrics = []WeatherMetric{
	SunIsUp, IsRaining, IsSnowing, Albedo, BeamSolar, DiffuseSolar, HorizontalIR,
	LiquidPrecipitation, OutdoorBarometricPressure, OutdoorDewPoint, OutdoorDryBulb,
	OutdoorRelativeHumidity, SkyTemperature, WindDirection, WindSpeed,
}

func IsWeatherMetric(s string) bool {
	return slices.Contains(WeatherMetrics, WeatherMetric(s))
}

// CallingPoint names a hook in the engine's timestep loop.
type CallingPoint string

const (
	AfterComponentGetInput                 CallingPoint = "callback_after_component_get_input"
	AfterNewEnvironmentWarmupComplete      CallingPoint = "callback_after_new_environment_warmup_complete"
	AfterPredictorAfterHVACManagers        CallingPoint = "callback_after_predictor_after_hvac_managers"
	AfterPredictorBeforeHVACManagers       CallingPoint = "callback_after_predictor_before_hvac_managers"
	BeginNewEnvironment                    CallingPoint = "callback_begin_new_environment"
	BeginSystemTimestepBeforePredictor     CallingPoint = "callback_begin_system_timestep_before_predictor"
	BeginZoneTimestepAfterInitHeatBalance  CallingPoint = "callback_begin_zone_timestep_after_init_heat_balance"
	BeginZoneTimestepBeforeInitHeatBalance CallingPoint = "callback_begin_zone_timestep_before_init_heat_balance"
	BeginZoneTimestepBeforeSetWeather      CallingPoint = "callback_begin_zone_timestep_before_set_current_weather"
	EndSystemSizing                        CallingPoint = "callback_end_system_sizing"
	EndSystemTimestepAfterHVACReporting    CallingPoint = "callback_end_system_timestep_after_hvac_reporting"
	EndSystemTimestepBeforeHVACReporting   CallingPoint = "callback_end_system_timestep_before_hvac_reporting"
	EndZoneSizing                          CallingPoint = "callback_end_zone_sizing"
	EndZoneTimestepAfterZoneReporting      CallingPoint = "callback_end_zone_timestep_after_zone_reporting"
	EndZoneTimestepBeforeZoneReporting     CallingPoint = "callback_end_zone_timestep_before_zone_reporting"
	InsideSystemIterationLoop              CallingPoint = "callback_inside_system_iteration_loop"
)

// CallingPoints is the engine's enumerated set of valid calling points.
var CallingPoints = []CallingPoint{
	AfterComponentGetInput,
	AfterNewEnvironmentWarmupComplete,
	AfterPredictorAfterHVACManagers,
	AfterPredictorBeforeHVACManagers,
	BeginNewEnvironment,
	BeginSystemTimestepBeforePredictor,
	BeginZoneTimestepAfterInitHeatBalance,
	BeginZoneTimestepBeforeInitHeatBalance,
	BeginZoneTimestepBeforeSetWeather,
	EndSystemSizing,
	EndSystemTimestepAfterHVACReporting,
	EndSystemTimestepBeforeHVACReporting,
	EndZoneSizing,
	EndZoneTimestepAfterZoneReporting,
	EndZoneTimestepBeforeZoneReporting,
	InsideSystemIterationLoop,
}

func IsCallingPoint(s string) bool {
	return slices.Contains(CallingPoints, CallingPoint(s))
}

// TimestepsPerHour are the sub-hour resolutions that divide an hour evenly.
var TimestepsPerHour = []int{1, 2, 3, 4, 5, 6, 10, 12, 15, 20, 30, 60}

// Float returns a pointer to v, for building setpoint maps.
func Float(v float64) *float64 {
	return &v
}
