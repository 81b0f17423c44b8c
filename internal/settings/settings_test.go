package settings_test

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasa-impact/csda-bulk-download/internal/settings"
)

func TestLoadDefaults(t *testing.T) {
	v := viper.New()
	settings.SetDefaults(v)

	s, err := settings.Load(v)

	require.NoError(t, err)
	assert.Equal(t, settings.DefaultAPIURL, s.APIURL)
	assert.Equal(t, 0, s.Concurrency)
	assert.Equal(t, 30*time.Second, s.RequestTimeout)
	assert.Equal(t, 3, s.RetryMax)
	assert.Contains(t, s.OutDir, "Order_Downloads_")
}

func TestLoadReadsCredentialsFromEnv(t *testing.T) {
	t.Setenv("EDL_USER", "someone")
	t.Setenv("EDL_PASS", "hunter2")

	v := viper.New()
	settings.SetDefaults(v)

	s, err := settings.Load(v)

	require.NoError(t, err)
	assert.Equal(t, "someone", s.Username)
	assert.Equal(t, "hunter2", s.Password)
}

func TestLoadRejectsInvalidAPIURL(t *testing.T) {
	v := viper.New()
	settings.SetDefaults(v)
	v.Set("api-url", "not a url")

	_, err := settings.Load(v)

	assert.Error(t, err)
}

func TestLoadRejectsNegativeConcurrency(t *testing.T) {
	v := viper.New()
	settings.SetDefaults(v)
	v.Set("concurrency", -1)

	_, err := settings.Load(v)

	assert.Error(t, err)
}
