package configbinder_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/mysqler/pkg/osc/support/util/configbinder"
)

type sample struct {
	Host    string        `yaml:"host"`
	Port    int           `yaml:"port"`
	Enabled bool          `yaml:"enabled"`
	Wait    time.Duration `yaml:"wait"`
	Tags    []string      `yaml:"tags"`
}

func TestBindWeaklyTyped(t *testing.T) {
	var s sample
	err := configbinder.Bind(map[string]interface{}{
		"host":    "db1",
		"port":    "3306",
		"enabled": "true",
		"wait":    "1500ms",
		"tags":    "a,b",
	}, &s)
	require.NoError(t, err)
	assert.Equal(t, sample{Host: "db1", Port: 3306, Enabled: true, Wait: 1500 * time.Millisecond, Tags: []string{"a", "b"}}, s)
}

func TestBindStringsEmpty(t *testing.T) {
	var s sample
	assert.NoError(t, configbinder.BindStrings(nil, &s))
	assert.Equal(t, sample{}, s)
}

func TestBindNamed(t *testing.T) {
	out, err := configbinder.BindNamed[sample](map[string]interface{}{
		"primary": map[string]interface{}{"host": "p", "port": 1},
		"replica": map[string]interface{}{"host": "r", "port": 2},
	})
	require.NoError(t, err)
	assert.Equal(t, "p", out["primary"].Host)
	assert.Equal(t, 2, out["replica"].Port)
}

func TestBindNamedError(t *testing.T) {
	_, err := configbinder.BindNamed[sample](map[string]interface{}{
		"bad": map[string]interface{}{"port": "not-a-number"},
	})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "entry 'bad'")
}
