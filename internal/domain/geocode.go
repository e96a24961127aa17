package domain

import (
	"context"
	"log/slog"
)

// SiteLabel is the human-readable description of a forecast site.
type SiteLabel struct {
	PlaceName        string  `json:"place_name,omitempty"`
	FormattedAddress string  `json:"formatted_address,omitempty"`
	Confidence       float64 `json:"confidence,omitempty"`
	Source           string  `json:"source"` // "reverse", "failed", "none"
}

// LabelSite reverse geocodes the site. A nil geocoder or a failed lookup
// yields a label with no place name; labelling never fails a run.
func LabelSite(ctx context.Context, site Site, geocoder Geocoder, logger *slog.Logger) SiteLabel {
	if geocoder == nil {
		return SiteLabel{Source: "none"}
	}

	result, err := geocoder.ReverseGeocode(ctx, site.Lat, site.Lon)
	if err != nil {
		logger.Warn("reverse geocoding failed",
			"lat", site.Lat,
			"lon", site.Lon,
			"error", err,
		)
		return SiteLabel{Source: "failed"}
	}
	if result.FormattedAddress == "" {
		return SiteLabel{Source: "none"}
	}
	return SiteLabel{
		PlaceName:        result.PlaceName,
		FormattedAddress: result.FormattedAddress,
		Confidence:       result.Confidence,
		Source:           "reverse",
	}
}
