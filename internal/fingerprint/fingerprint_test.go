package fingerprint

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const chromeUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.6367.91 Safari/537.36"

func sampleInfo() DeviceInfo {
	return DeviceInfo{
		DeviceType:     "browser-extension",
		DeviceVersion:  "2.3.1",
		Platform:       "Win32",
		CPUCores:       6,
		MemoryGB:       7.5,
		ScreenWidth:    1918,
		ScreenHeight:   1079,
		UserAgent:      chromeUA,
		TimezoneOffset: 120,
		Language:       "en-US",
	}
}

func newService(t *testing.T, opts ...Option) *Service {
	t.Helper()
	s, err := New([]byte("test-salt"), opts...)
	require.NoError(t, err)
	return s
}

func TestGenerateIsDeterministic(t *testing.T) {
	s := newService(t)
	a := s.Generate(sampleInfo())
	b := s.Generate(sampleInfo())
	assert.Equal(t, a, b)
	assert.Len(t, a.Fingerprint, 64)
}

func TestGenerateIgnoresSubBucketNoise(t *testing.T) {
	s := newService(t)
	base := s.Generate(sampleInfo())

	noisy := sampleInfo()
	noisy.ScreenWidth, noisy.ScreenHeight = 1920, 1080
	noisy.MemoryGB = 8
	noisy.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.9999.1 Safari/537.36"
	noisy.Language = "en-GB"
	noisy.DeviceVersion = "2.4.0"
	assert.Equal(t, base.Fingerprint, s.Generate(noisy).Fingerprint)

	changed := sampleInfo()
	changed.Platform = "MacIntel"
	assert.NotEqual(t, base.Fingerprint, s.Generate(changed).Fingerprint)
}

func TestSaltSeparatesFingerprints(t *testing.T) {
	s1 := newService(t)
	s2, err := New([]byte("other-salt"))
	require.NoError(t, err)
	assert.NotEqual(t, s1.Generate(sampleInfo()).Fingerprint, s2.Generate(sampleInfo()).Fingerprint)
}

func TestNewRequiresSalt(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}

func TestCoarsen(t *testing.T) {
	c := Coarsen(sampleInfo())
	assert.Equal(t, Components{
		DeviceType: "browser-extension",
		Platform:   PlatformWindows,
		CPUCores:   8,
		MemoryGB:   8,
		Screen:     "1920x1080",
		Browser:    "chrome/124",
		UTCOffset:  "UTC+02:00",
		Language:   "en",
	}, c)
}

func TestRoundCores(t *testing.T) {
	cases := map[int]int{0: 0, -3: 0, 1: 1, 3: 4, 5: 4, 6: 8, 12: 16, 20: 16, 100: 64}
	for in, want := range cases {
		assert.Equal(t, want, roundCores(in), "cores %d", in)
	}
}

func TestBucketScreenOrientation(t *testing.T) {
	assert.Equal(t, "844x390", bucketScreen(390, 844))
	assert.Equal(t, "1366x768", bucketScreen(1360, 768))
	assert.Equal(t, "unknown", bucketScreen(0, 768))
}

func TestReduceUserAgent(t *testing.T) {
	cases := map[string]string{
		chromeUA: "chrome/124",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36 Edg/124.0.2478.51": "edge/124",
		"Mozilla/5.0 (X11; Linux x86_64; rv:125.0) Gecko/20100101 Firefox/125.0":                                                            "firefox/125",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_4) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15":               "safari/17",
		"curl/8.0": "other",
		"":         "unknown",
	}
	for ua, want := range cases {
		assert.Equal(t, want, reduceUserAgent(ua), ua)
	}
}

func TestReduceTimezone(t *testing.T) {
	assert.Equal(t, "UTC+00:00", reduceTimezone("UTC", 300))
	assert.Equal(t, "UTC+05:30", reduceTimezone("+05:30", 0))
	assert.Equal(t, "UTC-04:00", reduceTimezone("GMT-4", 0))
	assert.Equal(t, "UTC-03:00", reduceTimezone("", -180))
	assert.Equal(t, "UTC+01:00", reduceTimezone("Not/AZone", 60))
}

func TestReduceLanguage(t *testing.T) {
	assert.Equal(t, "en", reduceLanguage("en-US"))
	assert.Equal(t, "zh", reduceLanguage("zh_Hant_TW"))
	assert.Equal(t, "pt", reduceLanguage("PT-br"))
	assert.Equal(t, "und", reduceLanguage(""))
}

type fakeRegistry map[string]string

func (f fakeRegistry) Fingerprint(_ context.Context, id string) (string, error) {
	fp, ok := f[id]
	if !ok {
		return "", errors.New("not found")
	}
	return fp, nil
}

func TestVerify(t *testing.T) {
	s := newService(t)
	info := sampleInfo()
	fp := s.Generate(info).Fingerprint
	id := s.DeviceID("user-1", fp)
	reg := fakeRegistry{id: fp}
	s.SetRegistry(reg)
	ctx := context.Background()

	assert.True(t, s.Verify(ctx, id, fp, info))

	other := info
	other.Platform = "Linux x86_64"
	other.UserAgent = "Mozilla/5.0 (X11; Linux x86_64; rv:125.0) Gecko/20100101 Firefox/125.0"
	assert.False(t, s.Verify(ctx, id, fp, other), "mismatched device info")
	assert.False(t, s.Verify(ctx, "dev_unknown", fp, info), "registry miss")
	assert.False(t, s.Verify(ctx, id, "", info), "empty fingerprint")
}

func TestDeviceIDStableAndUserScoped(t *testing.T) {
	s := newService(t)
	fp := s.Generate(sampleInfo()).Fingerprint
	assert.Equal(t, s.DeviceID("u1", fp), s.DeviceID("u1", fp))
	assert.NotEqual(t, s.DeviceID("u1", fp), s.DeviceID("u2", fp))
}
