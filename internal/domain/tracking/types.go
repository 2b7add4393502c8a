package tracking

import (
	"fmt"
	"strings"
)

// State is the normalized status of a shipment or event
type State string

const (
	StateLabelCreated       State = "LABEL_CREATED"
	StateInTransit          State = "IN_TRANSIT"
	StateOutForDelivery     State = "OUT_FOR_DELIVERY"
	StateDelivered          State = "DELIVERED"
	StateDeliveredSigned    State = "DELIVERED_SIGNED"
	StateException          State = "EXCEPTION"
	StateExceptionDelayed   State = "EXCEPTION_DELAYED"
	StateExceptionHeld      State = "EXCEPTION_HELD"
	StateExceptionReturned  State = "EXCEPTION_RETURNED"
	StateExceptionDamaged   State = "EXCEPTION_DAMAGED"
	StateAvailableForPickup State = "AVAILABLE_FOR_PICKUP"
	StateExpired            State = "EXPIRED"
	StatePending            State = "PENDING"
	StateNotFound           State = "NOT_FOUND"
	StateUnknown            State = "UNKNOWN"
)

var stageStates = map[string]State{
	"InfoReceived":       StateLabelCreated,
	"InTransit":          StateInTransit,
	"OutForDelivery":     StateOutForDelivery,
	"Delivered":          StateDelivered,
	"Delivered_Signed":   StateDeliveredSigned,
	"Delivered_Other":    StateDelivered,
	"Exception":          StateException,
	"Exception_Delayed":  StateExceptionDelayed,
	"Exception_Held":     StateExceptionHeld,
	"Exception_Returned": StateExceptionReturned,
	"Exception_RTS":      StateExceptionReturned,
	"Exception_Damaged":  StateExceptionDamaged,
	"AvailableForPickup": StateAvailableForPickup,
	"Expired":            StateExpired,
	"Undelivered":        StateException,
}

// StateFromStage maps an upstream stage or sub_status name to a State
func StateFromStage(stage string) State {
	if s, ok := stageStates[stage]; ok {
		return s
	}
	switch {
	case strings.HasPrefix(stage, "InTransit_"):
		return StateInTransit
	case strings.HasPrefix(stage, "Delivered_"):
		return StateDelivered
	case strings.HasPrefix(stage, "Exception_"):
		return StateException
	default:
		return StateUnknown
	}
}

// Event is one scan in a shipment's history
type Event struct {
	Time        string `json:"time,omitempty"`
	Description string `json:"description,omitempty"`
	Location    string `json:"location,omitempty"`
	Status      State  `json:"status"`
}

// Shipment is the tracking record returned for one number
type Shipment struct {
	TrackingNumber string  `json:"tracking_number"`
	Carrier        Carrier `json:"carrier_code"`
	CarrierName    string  `json:"carrier"`
	Code           int     `json:"code"`
	Status         State   `json:"status"`
	ServiceType    string  `json:"service_type,omitempty"`
	LatestEvent    *Event  `json:"latest_event,omitempty"`
	Events         []Event `json:"events,omitempty"`
}

// BatchResult is the outcome for one number of a batch. Exactly one of
// Shipment and Err is set.
type BatchResult struct {
	TrackingNumber string
	Shipment       *Shipment
	Err            error
}

func newShipment(number string, carrier Carrier, ws *wireShipment) *Shipment {
	s := &Shipment{
		TrackingNumber: number,
		Carrier:        carrier,
		Code:           ws.Code,
		ServiceType:    ws.ServiceType,
	}
	if ws.CarrierFinal != nil && *ws.CarrierFinal != 0 {
		s.Carrier = Carrier(*ws.CarrierFinal)
	} else if ws.Carrier != 0 {
		s.Carrier = Carrier(ws.Carrier)
	}
	s.CarrierName = s.Carrier.String()

	if d := ws.Shipment; d != nil {
		if d.Tracking != nil {
			for _, p := range d.Tracking.Providers {
				for i := range p.Events {
					s.Events = append(s.Events, newEvent(&p.Events[i]))
				}
			}
		}
		switch {
		case d.LatestEvent != nil:
			ev := newEvent(d.LatestEvent)
			s.LatestEvent = &ev
		case len(s.Events) > 0:
			ev := s.Events[0]
			s.LatestEvent = &ev
		}
	}

	switch {
	case s.LatestEvent != nil:
		s.Status = s.LatestEvent.Status
	case ws.Code == codePending || ws.Code == codeOK:
		s.Status = StatePending
	case ws.Code == codeNotFound:
		s.Status = StateNotFound
	default:
		s.Status = StateUnknown
	}
	return s
}

func newEvent(we *wireEvent) Event {
	stage := we.Stage
	if stage == "" {
		stage = we.SubStatus
	}
	ev := Event{
		Time:        firstNonEmpty(we.TimeISO, we.Time, we.TimeUTC),
		Description: we.Description,
		Status:      StateFromStage(stage),
	}
	if we.Location != nil {
		ev.Location = we.Location.String()
	}
	return ev
}

// String formats the location for display: "City, ST", "City 12345",
// "US 12345" and so on, depending on which parts are present
func (l *wireLocation) String() string {
	if l.Details == nil {
		return l.Text
	}
	a := l.Details
	country := firstNonEmpty(a.Country, a.CountryCode, a.CountryCodeAlt)
	postal := firstNonEmpty(a.PostalCode, a.PostalCodeAlt, a.ZipCode)

	switch {
	case a.City != "" && a.State != "":
		return fmt.Sprintf("%s, %s", a.City, a.State)
	case a.City != "" && postal != "":
		return a.City + " " + postal
	case a.City != "":
		return a.City
	case a.State != "" && postal != "":
		return a.State + " " + postal
	case a.State != "":
		return a.State
	case postal != "" && country != "":
		return country + " " + postal
	case postal != "":
		return postal
	default:
		return a.Address
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
