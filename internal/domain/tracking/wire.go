package tracking

import "github.com/bytedance/sonic"

// Upstream codes
const (
	codeOK              = 200
	codePending         = 100
	codeNotFound        = 400
	codeInvalidSign     = -11
	codeInvalidSession  = -14
	codeRejectedRequest = -5
)

type wireItem struct {
	Num string `json:"num"`
	Fc  uint32 `json:"fc"`
	Sc  uint32 `json:"sc"`
}

type wireRequest struct {
	Data           []wireItem `json:"data"`
	GUID           string     `json:"guid"`
	TimeZoneOffset int        `json:"timeZoneOffset"`
	Sign           string     `json:"sign"`
}

type wireResponse struct {
	ID        uint32         `json:"id"`
	GUID      string         `json:"guid"`
	Shipments []wireShipment `json:"shipments"`
	Meta      wireMeta       `json:"meta"`
}

type wireMeta struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type wireExtra struct {
	Multi []uint32 `json:"multi"`
}

type wireShipment struct {
	Code         int          `json:"code"`
	Number       string       `json:"number"`
	Carrier      uint32       `json:"carrier"`
	CarrierFinal *uint32      `json:"carrier_final"`
	Extra        []wireExtra  `json:"extra"`
	Shipment     *wireDetails `json:"shipment"`
	State        string       `json:"state"`
	ServiceType  string       `json:"service_type"`
}

type wireDetails struct {
	Tracking    *wireTracking `json:"tracking"`
	LatestEvent *wireEvent    `json:"latest_event"`
}

type wireTracking struct {
	Providers []wireProvider `json:"providers"`
}

type wireProvider struct {
	Events []wireEvent `json:"events"`
}

type wireEvent struct {
	Time        string        `json:"time"`
	TimeISO     string        `json:"time_iso"`
	TimeUTC     string        `json:"time_utc"`
	Description string        `json:"description"`
	Location    *wireLocation `json:"location"`
	Stage       string        `json:"stage"`
	SubStatus   string        `json:"sub_status"`
}

// wireLocation is either a plain string or a structured address
type wireLocation struct {
	Text    string
	Details *wireAddress
}

type wireAddress struct {
	City           string `json:"city"`
	State          string `json:"state"`
	Country        string `json:"country"`
	CountryCode    string `json:"country_code"`
	CountryCodeAlt string `json:"countryCode"`
	PostalCode     string `json:"postal_code"`
	PostalCodeAlt  string `json:"postalCode"`
	ZipCode        string `json:"zip_code"`
	Address        string `json:"address"`
}

func (l *wireLocation) UnmarshalJSON(b []byte) error {
	switch {
	case len(b) == 0 || string(b) == "null":
		return nil
	case b[0] == '"':
		return sonic.Unmarshal(b, &l.Text)
	default:
		var addr wireAddress
		if err := sonic.Unmarshal(b, &addr); err != nil {
			return err
		}
		l.Details = &addr
		return nil
	}
}

// hasEvents reports whether the upstream has tracking events for s yet
func (s *wireShipment) hasEvents() bool {
	if s.Shipment == nil {
		return false
	}
	if s.Shipment.LatestEvent != nil {
		return true
	}
	if s.Shipment.Tracking == nil {
		return false
	}
	for _, p := range s.Shipment.Tracking.Providers {
		if len(p.Events) > 0 {
			return true
		}
	}
	return false
}

// pending reports whether the upstream is still fetching s
func (s *wireShipment) pending() bool {
	switch s.Code {
	case codePending:
		return true
	case codeOK:
		return !s.hasEvents()
	default:
		return false
	}
}
