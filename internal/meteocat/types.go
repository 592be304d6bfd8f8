package meteocat

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Value is a numeric field the API sends either as a JSON number or as a
// string ("12.5", "12,5"). Absent, null or unparsable values decode to an
// empty Value rather than failing the whole payload.
type Value struct {
	v *float64
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(b []byte) error {
	v.v = nil
	s := strings.TrimSpace(string(b))
	if s == "" || s == "null" {
		return nil
	}
	s = strings.Trim(s, `"`)
	s = strings.Replace(strings.TrimSpace(s), ",", ".", 1)
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	v.v = &f
	return nil
}

// Ptr returns the parsed number or nil.
func (v Value) Ptr() *float64 {
	if v.v == nil {
		return nil
	}
	f := *v.v
	return &f
}

// Int returns the value truncated to int, or def when absent.
func (v Value) Int(def int) int {
	if v.v == nil {
		return def
	}
	return int(*v.v)
}

// Code is an identifier that some endpoints send as a number (comarca 41)
// and others as a string (municipality "080193").
type Code string

// UnmarshalJSON implements json.Unmarshaler.
func (c *Code) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*c = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*c = Code(s)
		return nil
	}
	*c = Code(string(b))
	return nil
}

// Ref is a code/name pair used for comarques, municipalities and provinces.
type Ref struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

type refWire struct {
	Codi Code   `json:"codi"`
	Nom  string `json:"nom"`
}

func (r *refWire) parse() *Ref {
	if r == nil || (r.Codi == "" && r.Nom == "") {
		return nil
	}
	return &Ref{Code: string(r.Codi), Name: r.Nom}
}

type coordsWire struct {
	Latitud  Value `json:"latitud"`
	Longitud Value `json:"longitud"`
}

// Station is one entry of the XEMA station metadata list.
type Station struct {
	Code         string
	Name         string
	Type         string
	Latitude     *float64
	Longitude    *float64
	Altitude     *float64
	Municipality *Ref
	Comarca      *Ref
	Province     *Ref
}

type stationWire struct {
	Codi        string      `json:"codi"`
	Nom         string      `json:"nom"`
	Tipus       string      `json:"tipus"`
	Coordenades *coordsWire `json:"coordenades"`
	Altitud     Value       `json:"altitud"`
	Municipi    *refWire    `json:"municipi"`
	Comarca     *refWire    `json:"comarca"`
	Provincia   *refWire    `json:"provincia"`
}

func parseStations(body []byte) ([]Station, error) {
	var raw []stationWire
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	out := make([]Station, 0, len(raw))
	for _, w := range raw {
		s := Station{
			Code:         w.Codi,
			Name:         w.Nom,
			Type:         w.Tipus,
			Altitude:     w.Altitud.Ptr(),
			Municipality: w.Municipi.parse(),
			Comarca:      w.Comarca.parse(),
			Province:     w.Provincia.parse(),
		}
		if w.Coordenades != nil {
			s.Latitude = w.Coordenades.Latitud.Ptr()
			s.Longitude = w.Coordenades.Longitud.Ptr()
		}
		out = append(out, s)
	}
	return out, nil
}

// Municipality is one entry of the municipality reference list.
type Municipality struct {
	Code      string
	Name      string
	Latitude  *float64
	Longitude *float64
	Comarca   *Ref
}

type municipalityWire struct {
	Codi        Code        `json:"codi"`
	Nom         string      `json:"nom"`
	Coordenades *coordsWire `json:"coordenades"`
	Comarca     *refWire    `json:"comarca"`
}

func parseMunicipalities(body []byte) ([]Municipality, error) {
	var raw []municipalityWire
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	out := make([]Municipality, 0, len(raw))
	for _, w := range raw {
		m := Municipality{
			Code:    string(w.Codi),
			Name:    w.Nom,
			Comarca: w.Comarca.parse(),
		}
		if w.Coordenades != nil {
			m.Latitude = w.Coordenades.Latitud.Ptr()
			m.Longitude = w.Coordenades.Longitud.Ptr()
		}
		out = append(out, m)
	}
	return out, nil
}

func parseComarques(body []byte) ([]Ref, error) {
	var raw []refWire
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	out := make([]Ref, 0, len(raw))
	for i := range raw {
		if r := raw[i].parse(); r != nil {
			out = append(out, *r)
		}
	}
	return out, nil
}

// Reading is one timestamped observation of a variable.
type Reading struct {
	Time   *time.Time `json:"time,omitempty"`
	Value  *float64   `json:"value,omitempty"`
	Status string     `json:"status,omitempty"`
	Base   string     `json:"base,omitempty"`
}

// Variable groups the readings of one measured variable (temperature is 32,
// relative humidity 33, precipitation 35, ...).
type Variable struct {
	Code     int       `json:"code"`
	Readings []Reading `json:"readings"`
}

// Latest returns the most recent reading that carries a value.
func (v Variable) Latest() (Reading, bool) {
	for i := len(v.Readings) - 1; i >= 0; i-- {
		if v.Readings[i].Value != nil {
			return v.Readings[i], true
		}
	}
	return Reading{}, false
}

// Measurements holds one day of readings for a station.
type Measurements struct {
	StationCode string     `json:"station_code"`
	Variables   []Variable `json:"variables"`
}

// Variable returns the variable with the given code.
func (m Measurements) Variable(code int) (Variable, bool) {
	for _, v := range m.Variables {
		if v.Code == code {
			return v, true
		}
	}
	return Variable{}, false
}

type measurementsWire struct {
	Codi      string `json:"codi"`
	Variables []struct {
		Codi     int `json:"codi"`
		Lectures []struct {
			Data        string `json:"data"`
			Valor       Value  `json:"valor"`
			Estat       string `json:"estat"`
			BaseHoraria string `json:"baseHoraria"`
		} `json:"lectures"`
	} `json:"variables"`
}

func parseMeasurements(body []byte, station string) (Measurements, error) {
	var raw []measurementsWire
	if err := json.Unmarshal(body, &raw); err != nil {
		return Measurements{}, err
	}
	out := Measurements{StationCode: station}
	for _, s := range raw {
		if s.Codi != "" && s.Codi != station {
			continue
		}
		for _, v := range s.Variables {
			variable := Variable{Code: v.Codi, Readings: make([]Reading, 0, len(v.Lectures))}
			for _, l := range v.Lectures {
				variable.Readings = append(variable.Readings, Reading{
					Time:   parseTime(l.Data),
					Value:  l.Valor.Ptr(),
					Status: l.Estat,
					Base:   l.BaseHoraria,
				})
			}
			out.Variables = append(out.Variables, variable)
		}
	}
	return out, nil
}

// Quantity is a forecast value with its unit.
type Quantity struct {
	Unit  string   `json:"unit,omitempty"`
	Value *float64 `json:"value,omitempty"`
}

// ForecastDay is one day of the municipal daily forecast.
type ForecastDay struct {
	Date          *time.Time `json:"date,omitempty"`
	TempMax       Quantity   `json:"temp_max"`
	TempMin       Quantity   `json:"temp_min"`
	Precipitation Quantity   `json:"precipitation"`
	SkyState      *float64   `json:"sky_state,omitempty"`
}

// DailyForecast is the 8-day municipal forecast.
type DailyForecast struct {
	MunicipalityCode string        `json:"municipality_code"`
	Days             []ForecastDay `json:"days"`
}

type quantityWire struct {
	Unitat string `json:"unitat"`
	Valor  Value  `json:"valor"`
}

func (q *quantityWire) parse() Quantity {
	if q == nil {
		return Quantity{}
	}
	return Quantity{Unit: q.Unitat, Value: q.Valor.Ptr()}
}

type dailyWire struct {
	CodiMunicipi Code `json:"codiMunicipi"`
	Dies         []struct {
		Data      string `json:"data"`
		Variables struct {
			Tmax         *quantityWire `json:"tmax"`
			Tmin         *quantityWire `json:"tmin"`
			Precipitacio *quantityWire `json:"precipitacio"`
			EstatCel     *quantityWire `json:"estatCel"`
		} `json:"variables"`
	} `json:"dies"`
}

func parseDailyForecast(body []byte) (DailyForecast, error) {
	var raw dailyWire
	if err := json.Unmarshal(body, &raw); err != nil {
		return DailyForecast{}, err
	}
	out := DailyForecast{MunicipalityCode: string(raw.CodiMunicipi)}
	for _, d := range raw.Dies {
		day := ForecastDay{
			Date:          parseTime(d.Data),
			TempMax:       d.Variables.Tmax.parse(),
			TempMin:       d.Variables.Tmin.parse(),
			Precipitation: d.Variables.Precipitacio.parse(),
		}
		if d.Variables.EstatCel != nil {
			day.SkyState = d.Variables.EstatCel.Valor.Ptr()
		}
		out.Days = append(out.Days, day)
	}
	return out, nil
}

// Point is one hourly forecast value.
type Point struct {
	Time  *time.Time `json:"time,omitempty"`
	Value *float64   `json:"value,omitempty"`
}

// Series is the hourly series of one forecast variable.
type Series struct {
	Unit   string  `json:"unit,omitempty"`
	Points []Point `json:"points"`
}

// HourlyForecast is the 72-hour municipal forecast keyed by variable name
// (temp, estatCel, precipitacio, humitat, velVent, ...).
type HourlyForecast struct {
	MunicipalityCode string            `json:"municipality_code"`
	Series           map[string]Series `json:"series"`
}

type hourlyWire struct {
	CodiMunicipi Code `json:"codiMunicipi"`
	Dies         []struct {
		Data      string `json:"data"`
		Variables map[string]struct {
			Unitat string `json:"unitat"`
			Valors []struct {
				Valor Value  `json:"valor"`
				Data  string `json:"data"`
			} `json:"valors"`
		} `json:"variables"`
	} `json:"dies"`
}

func parseHourlyForecast(body []byte) (HourlyForecast, error) {
	var raw hourlyWire
	if err := json.Unmarshal(body, &raw); err != nil {
		return HourlyForecast{}, err
	}
	out := HourlyForecast{
		MunicipalityCode: string(raw.CodiMunicipi),
		Series:           make(map[string]Series),
	}
	for _, d := range raw.Dies {
		for name, v := range d.Variables {
			s := out.Series[name]
			if s.Unit == "" {
				s.Unit = v.Unitat
			}
			for _, p := range v.Valors {
				s.Points = append(s.Points, Point{Time: parseTime(p.Data), Value: p.Valor.Ptr()})
			}
			out.Series[name] = s
		}
	}
	return out, nil
}

// QuotaPlan is the consumption of one API plan.
type QuotaPlan struct {
	Name      string
	Period    string
	Max       int
	Remaining int
	Used      int
}

// Quota is the response of the consumption endpoint.
type Quota struct {
	Client string
	Plans  []QuotaPlan
}

type quotaWire struct {
	Client *struct {
		Nom string `json:"nom"`
	} `json:"client"`
	Plans []struct {
		Nom                  string `json:"nom"`
		Periode              string `json:"periode"`
		MaxConsultes         Value  `json:"maxConsultes"`
		ConsultesRestants    Value  `json:"consultesRestants"`
		ConsultesRealitzades Value  `json:"consultesRealitzades"`
	} `json:"plans"`
}

func parseQuota(body []byte) (Quota, error) {
	var raw quotaWire
	if err := json.Unmarshal(body, &raw); err != nil {
		return Quota{}, err
	}
	var out Quota
	if raw.Client != nil {
		out.Client = raw.Client.Nom
	}
	for _, p := range raw.Plans {
		plan := QuotaPlan{
			Name:      p.Nom,
			Period:    p.Periode,
			Max:       p.MaxConsultes.Int(0),
			Remaining: p.ConsultesRestants.Int(0),
			Used:      p.ConsultesRealitzades.Int(0),
		}
		// Older responses omit the used count.
		if p.ConsultesRealitzades.Ptr() == nil && plan.Max >= plan.Remaining {
			plan.Used = plan.Max - plan.Remaining
		}
		out.Plans = append(out.Plans, plan)
	}
	return out, nil
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04:05.000Z07:00",
	"2006-01-02Z07:00",
	"2006-01-02",
}

// parseTime accepts the handful of timestamp shapes the API uses
// ("2024-11-30T10:00Z", "2024-11-30Z", ...). Unknown shapes yield nil.
func parseTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
