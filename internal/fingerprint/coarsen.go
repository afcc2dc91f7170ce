package fingerprint

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"
)

type Platform string

const (
	PlatformWindows  Platform = "windows"
	PlatformMacOS    Platform = "macos"
	PlatformLinux    Platform = "linux"
	PlatformAndroid  Platform = "android"
	PlatformIOS      Platform = "ios"
	PlatformChromeOS Platform = "chromeos"
	PlatformOther    Platform = "other"
)

var (
	cpuBuckets    = []float64{1, 2, 4, 8, 16, 32, 64}
	memoryBuckets = []float64{1, 2, 4, 8, 16, 32, 64}
)

type screenPreset struct{ long, short int }

// Presets are stored landscape (long side first).
var screenPresets = []screenPreset{
	{640, 360}, {844, 390}, {896, 414}, {1024, 768},
	{1280, 720}, {1366, 768}, {1440, 900}, {1536, 864},
	{1680, 1050}, {1920, 1080}, {2560, 1440}, {3440, 1440},
	{3840, 2160},
}

// tzReference pins IANA zone offsets to one instant so the same zone name
// always coarsens to the same offset regardless of daylight saving.
var tzReference = time.Date(2024, time.January, 15, 12, 0, 0, 0, time.UTC)

// bucketPlatform prefers the user agent for mobile and ChromeOS, whose
// navigator.platform usually reads as plain Linux.
func bucketPlatform(platform, userAgent string) Platform {
	fromUA := matchPlatform(strings.ToLower(userAgent))
	switch fromUA {
	case PlatformAndroid, PlatformIOS, PlatformChromeOS:
		return fromUA
	}
	if p := matchPlatform(strings.ToLower(platform)); p != PlatformOther {
		return p
	}
	return fromUA
}

func matchPlatform(s string) Platform {
	switch {
	case s == "":
		return PlatformOther
	case strings.Contains(s, "android"):
		return PlatformAndroid
	case strings.Contains(s, "iphone"), strings.Contains(s, "ipad"), strings.Contains(s, "ipod"), s == "ios":
		return PlatformIOS
	case strings.Contains(s, "cros "), strings.Contains(s, "chromeos"), strings.Contains(s, "chrome os"):
		return PlatformChromeOS
	case strings.Contains(s, "mac"), strings.Contains(s, "darwin"):
		return PlatformMacOS
	case strings.Contains(s, "win"):
		return PlatformWindows
	case strings.Contains(s, "linux"), strings.Contains(s, "x11"), strings.Contains(s, "ubuntu"):
		return PlatformLinux
	default:
		return PlatformOther
	}
}

// nearestBucket returns the bucket closest to v, preferring the larger bucket
// on ties. Non-positive input means "unknown" and maps to 0.
func nearestBucket(v float64, buckets []float64) float64 {
	if v <= 0 {
		return 0
	}
	best := buckets[0]
	for _, b := range buckets[1:] {
		if abs(v-b) <= abs(v-best) {
			best = b
		}
	}
	return best
}

func roundCores(n int) int {
	return int(nearestBucket(float64(n), cpuBuckets))
}

func roundMemory(gb float64) int {
	return int(nearestBucket(gb, memoryBuckets))
}

func bucketScreen(w, h int) string {
	if w <= 0 || h <= 0 {
		return "unknown"
	}
	long, short := w, h
	if short > long {
		long, short = short, long
	}
	best := screenPresets[0]
	bestDist := -1
	for _, p := range screenPresets {
		d := iabs(long-p.long) + iabs(short-p.short)
		if bestDist < 0 || d < bestDist {
			best, bestDist = p, d
		}
	}
	return fmt.Sprintf("%dx%d", best.long, best.short)
}

type browserRule struct {
	family string
	token  string
}

// Order matters: Chromium derivatives also advertise Chrome and Safari.
var browserRules = []browserRule{
	{"edge", "Edg/"},
	{"edge", "Edge/"},
	{"edge", "EdgiOS/"},
	{"opera", "OPR/"},
	{"samsung", "SamsungBrowser/"},
	{"firefox", "Firefox/"},
	{"firefox", "FxiOS/"},
	{"chrome", "CriOS/"},
	{"chrome", "Chrome/"},
	{"safari", "Version/"},
}

var leadingDigits = regexp.MustCompile(`^\d+`)

func reduceUserAgent(ua string) string {
	ua = strings.TrimSpace(ua)
	if ua == "" {
		return "unknown"
	}
	for _, r := range browserRules {
		idx := strings.Index(ua, r.token)
		if idx < 0 {
			continue
		}
		if r.family == "safari" && !strings.Contains(ua, "Safari/") {
			continue
		}
		major := leadingDigits.FindString(ua[idx+len(r.token):])
		if major == "" {
			major = "0"
		}
		return r.family + "/" + major
	}
	return "other"
}

var offsetPattern = regexp.MustCompile(`^(?:UTC|GMT)?\s*([+-])(\d{1,2})(?::?(\d{2}))?$`)

// reduceTimezone resolves a zone name or explicit offset to "UTC±HH:MM".
// offsetMinutes is minutes east of UTC and is used when zone is empty or
// cannot be resolved.
func reduceTimezone(zone string, offsetMinutes int) string {
	zone = strings.TrimSpace(zone)
	if zone != "" {
		upper := strings.ToUpper(zone)
		if upper == "UTC" || upper == "GMT" || upper == "Z" {
			return formatOffset(0)
		}
		if m := offsetPattern.FindStringSubmatch(upper); m != nil {
			h, _ := strconv.Atoi(m[2])
			mins := 0
			if m[3] != "" {
				mins, _ = strconv.Atoi(m[3])
			}
			total := h*60 + mins
			if m[1] == "-" {
				total = -total
			}
			return formatOffset(total)
		}
		if loc, err := time.LoadLocation(zone); err == nil {
			_, secs := tzReference.In(loc).Zone()
			return formatOffset(secs / 60)
		}
	}
	return formatOffset(offsetMinutes)
}

func formatOffset(minutes int) string {
	sign := "+"
	if minutes < 0 {
		sign = "-"
		minutes = -minutes
	}
	if minutes > 14*60 {
		minutes = 14 * 60
	}
	return fmt.Sprintf("UTC%s%02d:%02d", sign, minutes/60, minutes%60)
}

func reduceLanguage(tag string) string {
	tag = strings.TrimSpace(strings.ReplaceAll(tag, "_", "-"))
	if tag == "" {
		return "und"
	}
	if t, err := language.Parse(tag); err == nil {
		base, _ := t.Base()
		return base.String()
	}
	primary := strings.ToLower(strings.SplitN(tag, "-", 2)[0])
	if l := len(primary); l < 2 || l > 3 {
		return "und"
	}
	for _, r := range primary {
		if r < 'a' || r > 'z' {
			return "und"
		}
	}
	return primary
}

func normalizeType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	if t == "" {
		return "unknown"
	}
	return t
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func iabs(i int) int {
	if i < 0 {
		return -i
	}
	return i
}
