package tracking

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/GriffinCanCode/track17/backend/internal/providers/browser/sandbox"
)

// Values the page's fingerprint script reports for the emulated desktop
// browser. The upstream checks the shape of the id, not these inputs.
const (
	DefaultCanvasHash uint32 = 1022200205
	DefaultTZOffset          = 300
)

// EventIDParams are the inputs of a Last-Event-ID value
type EventIDParams struct {
	DeviceID   string // _yq_bid; the canvas hash stands in when empty
	ConfigsMD5 string
	TZOffset   int // browser getTimezoneOffset(), not the request's timeZoneOffset
	CanvasHash uint32
	Time       time.Time
}

// LastEventID builds the value sent as both the last-event-id header and the
// Last-Event-ID cookie for a request with the given JSON body.
func LastEventID(body string, p EventIDParams) string {
	bodyHash := murmur(body, int32(len(body)))

	device := p.DeviceID
	if device == "" {
		device = strconv.FormatUint(uint64(p.CanvasHash), 10)
	}
	meta := eventMetadata(device, p)

	var b strings.Builder
	b.WriteString(hexChars(reverse(meta)))
	b.WriteByte('4')
	fmt.Fprintf(&b, "%08x%08x", murmur(meta, 0), bodyHash)
	return b.String()
}

func eventMetadata(device string, p EventIDParams) string {
	const captcha = 0
	return fmt.Sprintf("%s:false:%d:0:0/%x/11/true/%d/%d/%s/%d",
		device, p.CanvasHash, p.Time.UnixMilli(), p.TZOffset, p.CanvasHash, p.ConfigsMD5, captcha)
}

// CanvasHash hashes the screen and canvas values the fingerprint script
// reads, for a browser presenting f
func CanvasHash(f sandbox.Fixtures) uint32 {
	return djb2(fmt.Sprintf("%d\r\n%s\r\n%d\r\n%dx%d\r\n%s",
		f.ColorDepth, f.Language, f.TimezoneOffset, f.ScreenHeight, f.ScreenWidth, f.CanvasDataURL))
}

// djb2 with seed 5381, walking the string backwards
func djb2(s string) uint32 {
	if s == "" {
		return 0
	}
	r := []rune(s)
	a := int32(5381)
	for i := len(r) - 1; i >= 0; i-- {
		a = a*33 ^ int32(r[i])
	}
	return uint32(a)
}

// murmur is the page's murmur-style hash: seed 0x4e67c6a7 mixed with t,
// signed 32-bit arithmetic, walking the string backwards
func murmur(s string, t int32) uint32 {
	if s == "" {
		return 0
	}
	r := []rune(s)
	l := int32(0x4e67c6a7) ^ (t << 16)
	for i := len(r) - 1; i >= 0; i-- {
		l ^= (l << 5) + int32(r[i]) + (l >> 2)
	}
	return uint32(l & 0x7fffffff)
}

func reverse(s string) string {
	r := []rune(s)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r)
}

// hexChars writes each character code in hex without padding
func hexChars(s string) string {
	var b strings.Builder
	b.Grow(len(s) * 2)
	for _, c := range s {
		b.WriteString(strconv.FormatInt(int64(c), 16))
	}
	return b.String()
}
