package tracking

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Carrier is an upstream carrier code
type Carrier uint32

// Carrier codes understood by the tracking API. Auto asks the upstream to
// detect the carrier itself.
const (
	CarrierAuto  Carrier = 0
	CarrierUPS   Carrier = 100001
	CarrierUSPS  Carrier = 100002
	CarrierFedEx Carrier = 100003
	CarrierDHL   Carrier = 100005
)

var carrierNames = map[Carrier]string{
	CarrierAuto:  "auto",
	CarrierUPS:   "ups",
	CarrierUSPS:  "usps",
	CarrierFedEx: "fedex",
	CarrierDHL:   "dhl",
}

// String returns the carrier name, or its numeric code when unnamed
func (c Carrier) String() string {
	if name, ok := carrierNames[c]; ok {
		return name
	}
	return strconv.FormatUint(uint64(c), 10)
}

// ParseCarrier accepts a carrier name (auto, fedex, ups, usps, dhl) or a
// numeric code. Empty input means auto.
func ParseCarrier(s string) (Carrier, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return CarrierAuto, nil
	}
	for code, name := range carrierNames {
		if name == s {
			return code, nil
		}
	}
	if n, err := strconv.ParseUint(s, 10, 32); err == nil {
		return Carrier(n), nil
	}
	return 0, &Error{Kind: ErrCarrierUnrecognized, Err: fmt.Errorf("unknown carrier %q", s)}
}

type shape struct {
	carrier  Carrier
	patterns []*regexp.Regexp
}

// Shapes are checked in order; the first match wins.
var shapes = []shape{
	{CarrierUPS, []*regexp.Regexp{
		regexp.MustCompile(`^1Z[0-9A-Z]{16}$`),
		regexp.MustCompile(`^T\d{10}$`),
	}},
	{CarrierFedEx, []*regexp.Regexp{
		regexp.MustCompile(`^\d{12}$`),
		regexp.MustCompile(`^\d{15}$`),
		regexp.MustCompile(`^\d{20}$`),
		regexp.MustCompile(`^96\d{20}$`),
	}},
	{CarrierUSPS, []*regexp.Regexp{
		regexp.MustCompile(`^9[2-5]\d{20}$`),
		regexp.MustCompile(`^420\d{5}9[2-5]\d{20}$`),
		regexp.MustCompile(`^[A-Z]{2}\d{9}US$`),
	}},
	{CarrierDHL, []*regexp.Regexp{
		regexp.MustCompile(`^\d{10}$`),
		regexp.MustCompile(`^JJD\d{16,18}$`),
		regexp.MustCompile(`^JVGL\d{16}$`),
	}},
}

// DetectCarrier returns the carrier whose tracking number shape matches
// number, and false when none does
func DetectCarrier(number string) (Carrier, bool) {
	n := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(number), " ", ""))
	for _, s := range shapes {
		for _, p := range s.patterns {
			if p.MatchString(n) {
				return s.carrier, true
			}
		}
	}
	return CarrierAuto, false
}

// ResolveCarrier picks the carrier to request. An explicit carrier is used
// as is. For auto, the shape heuristics decide; without a match the result is
// CarrierAuto, or ErrCarrierUnrecognized when strict.
func ResolveCarrier(number string, carrier Carrier, strict bool) (Carrier, error) {
	if carrier != CarrierAuto {
		return carrier, nil
	}
	if detected, ok := DetectCarrier(number); ok {
		return detected, nil
	}
	if strict {
		return 0, &Error{Kind: ErrCarrierUnrecognized, Number: number}
	}
	return CarrierAuto, nil
}

// suggestCarrier picks from the carriers the upstream offers when
// auto-detection fails: FedEx, then UPS, then USPS, else the first offered.
func suggestCarrier(extras []wireExtra) (Carrier, bool) {
	for _, e := range extras {
		if len(e.Multi) == 0 {
			continue
		}
		for _, preferred := range []Carrier{CarrierFedEx, CarrierUPS, CarrierUSPS} {
			for _, c := range e.Multi {
				if Carrier(c) == preferred {
					return preferred, true
				}
			}
		}
		return Carrier(e.Multi[0]), true
	}
	return 0, false
}
