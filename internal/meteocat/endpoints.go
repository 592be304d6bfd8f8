package meteocat

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

const (
	endpointComarques      = "/referencia/v1/comarques"
	endpointStations       = "/xema/v1/estacions/metadades"
	endpointMeasurements   = "/xema/v1/estacions/mesurades/%s/%04d/%02d/%02d"
	endpointDailyForecast  = "/pronostic/v1/municipal/%s"
	endpointHourlyForecast = "/pronostic/v1/municipalHoraria/%s"
	endpointMunicipalities = "/referencia/v1/municipis"
	endpointQuota          = "/quotes/v1/consum-actual"
)

func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	return c.call(ctx, http.MethodGet, endpoint, nil)
}

// Comarques returns the comarca reference list.
func (c *Client) Comarques(ctx context.Context) ([]Ref, error) {
	body, err := c.get(ctx, endpointComarques)
	if err != nil {
		return nil, err
	}
	out, err := parseComarques(body)
	if err != nil {
		return nil, fmt.Errorf("decode comarques: %w", err)
	}
	return out, nil
}

// Stations returns the XEMA station metadata list.
func (c *Client) Stations(ctx context.Context) ([]Station, error) {
	body, err := c.get(ctx, endpointStations)
	if err != nil {
		return nil, err
	}
	out, err := parseStations(body)
	if err != nil {
		return nil, fmt.Errorf("decode stations: %w", err)
	}
	return out, nil
}

// Municipalities returns the municipality reference list.
func (c *Client) Municipalities(ctx context.Context) ([]Municipality, error) {
	body, err := c.get(ctx, endpointMunicipalities)
	if err != nil {
		return nil, err
	}
	out, err := parseMunicipalities(body)
	if err != nil {
		return nil, fmt.Errorf("decode municipalities: %w", err)
	}
	return out, nil
}

// Measurements returns the readings of station for the UTC calendar day of day.
func (c *Client) Measurements(ctx context.Context, station string, day time.Time) (Measurements, error) {
	d := day.UTC()
	endpoint := fmt.Sprintf(endpointMeasurements, url.PathEscape(station), d.Year(), int(d.Month()), d.Day())
	body, err := c.get(ctx, endpoint)
	if err != nil {
		return Measurements{}, err
	}
	out, err := parseMeasurements(body, station)
	if err != nil {
		return Measurements{}, fmt.Errorf("decode measurements: %w", err)
	}
	return out, nil
}

// DailyForecast returns the 8-day forecast of a municipality.
func (c *Client) DailyForecast(ctx context.Context, municipality string) (DailyForecast, error) {
	body, err := c.get(ctx, fmt.Sprintf(endpointDailyForecast, url.PathEscape(municipality)))
	if err != nil {
		return DailyForecast{}, err
	}
	out, err := parseDailyForecast(body)
	if err != nil {
		return DailyForecast{}, fmt.Errorf("decode daily forecast: %w", err)
	}
	if out.MunicipalityCode == "" {
		out.MunicipalityCode = municipality
	}
	return out, nil
}

// HourlyForecast returns the 72-hour forecast of a municipality.
func (c *Client) HourlyForecast(ctx context.Context, municipality string) (HourlyForecast, error) {
	body, err := c.get(ctx, fmt.Sprintf(endpointHourlyForecast, url.PathEscape(municipality)))
	if err != nil {
		return HourlyForecast{}, err
	}
	out, err := parseHourlyForecast(body)
	if err != nil {
		return HourlyForecast{}, fmt.Errorf("decode hourly forecast: %w", err)
	}
	if out.MunicipalityCode == "" {
		out.MunicipalityCode = municipality
	}
	return out, nil
}

// Quota returns the current consumption of every plan attached to the key.
func (c *Client) Quota(ctx context.Context) (Quota, error) {
	body, err := c.get(ctx, endpointQuota)
	if err != nil {
		return Quota{}, err
	}
	out, err := parseQuota(body)
	if err != nil {
		return Quota{}, fmt.Errorf("decode quota: %w", err)
	}
	return out, nil
}
