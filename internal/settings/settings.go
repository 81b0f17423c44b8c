// Package settings assembles the run configuration from flags, environment
// variables and defaults.
package settings

import (
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/viper"
)

// DefaultAPIURL is the production CSDA API.
const DefaultAPIURL = "https://csdap.earthdata.nasa.gov/api"

const (
	defaultRequestTimeout = 30 * time.Second
	defaultRetryMax       = 3
)

// Settings for one download run.
type Settings struct {
	// APIURL is the root of the CSDA API.
	APIURL string

	// OutDir is the directory all assets are written under.
	OutDir string

	// Concurrency is the download worker count. Zero means pick a
	// default based on the processor count.
	Concurrency int

	// RequestTimeout bounds each HTTP request.
	RequestTimeout time.Duration

	// RetryMax is how many times a transiently failed request is retried.
	RetryMax int

	// RequestsPerSecond caps the download request rate. Zero means
	// unlimited.
	RequestsPerSecond float64

	// Username and Password are the Earthdata Login credentials. Password
	// is prompted for by the CLI when empty.
	Username string
	Password string

	// SceneIDs and AssetTypes restrict which CSV rows are downloaded.
	SceneIDs   []string
	AssetTypes []string

	// Verbosity raises log detail: 0 quiet, 1 app debug, 2 full debug.
	Verbosity int
}

// SetDefaults registers defaults and environment bindings on the viper
// instance the CLI binds its flags into. EDL_USER and EDL_PASS match the
// variables the download portal documents.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("api-url", DefaultAPIURL)
	v.SetDefault("out-dir", defaultOutDir())
	v.SetDefault("concurrency", 0)
	v.SetDefault("timeout", defaultRequestTimeout)
	v.SetDefault("retry-max", defaultRetryMax)

	_ = v.BindEnv("username", "EDL_USER")
	_ = v.BindEnv("password", "EDL_PASS")
	_ = v.BindEnv("api-url", "CSDA_API_URL")
}

// Load reads the settings out of viper and validates them.
func Load(v *viper.Viper) (*Settings, error) {
	s := &Settings{
		APIURL:            v.GetString("api-url"),
		OutDir:            v.GetString("out-dir"),
		Concurrency:       v.GetInt("concurrency"),
		RequestTimeout:    v.GetDuration("timeout"),
		RetryMax:          v.GetInt("retry-max"),
		RequestsPerSecond: v.GetFloat64("requests-per-second"),
		Username:          v.GetString("username"),
		Password:          v.GetString("password"),
		SceneIDs:          v.GetStringSlice("scene-id"),
		AssetTypes:        v.GetStringSlice("asset-type"),
		Verbosity:         v.GetInt("verbose"),
	}

	u, err := url.Parse(s.APIURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("settings: invalid API URL %q", s.APIURL)
	}
	if s.Concurrency < 0 {
		return nil, fmt.Errorf("settings: concurrency must not be negative")
	}
	if s.RequestTimeout < 0 {
		return nil, fmt.Errorf("settings: timeout must not be negative")
	}
	if s.OutDir == "" {
		s.OutDir = defaultOutDir()
	}

	return s, nil
}

// defaultOutDir is a fresh timestamped directory, so separate runs don't
// mix their skip checks.
func defaultOutDir() string {
	return "Order_Downloads_" + time.Now().Format("2006-01-02-1504")
}
