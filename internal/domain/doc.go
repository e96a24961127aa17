// Package domain models hourly surface weather observations for a single
// site and the probabilistic forecasts derived from them.
//
// # Input Conventions
//
// Observations arrive as a table with one row per timestamp:
//
//	timestamp,lat,lon,elevation_m,temperature,humidity,pressure
//	2024-01-01T00:00:00Z,55.7558,37.6173,156,20.1,65,1013.2
//
// Timestamps are UTC. RFC 3339 values (with or without fractional seconds)
// are accepted, as is the zone-less "YYYY-MM-DD HH:MM:SS" form written by
// most dataframe tools, which is read as UTC.
//
// Units:
//
//	temperature  degrees Celsius     [-90, 60]
//	humidity     relative, percent   [0, 100]
//	pressure     hPa (station)       [800, 1100]
//	elevation_m  metres above MSL    [-500, 9000]
//
// The ranges are physical plausibility bounds, not climatology. A value
// outside them means the row is corrupt, and [ValidateTable] rejects the
// whole table rather than skipping the row: a forecast trained on silently
// thinned history is not reproducible.
//
// # Single Site
//
// Every row must carry the same (lat, lon, elevation_m) triple. The
// forecaster models one point; mixing stations in one file is a schema
// violation.
//
// # Forecast Rows
//
// A [ForecastRow] holds one [Interval] per [Target]. Intervals always satisfy
// Low <= Pred <= High; the model bank sorts the raw quantile outputs before a
// row is built.
package domain
