package testutil

import (
	"testing"

	"github.com/spf13/viper"
)

// ResetConfig resets viper now and again when the test completes.
func ResetConfig(t *testing.T) {
	t.Helper()

	viper.Reset()
	t.Cleanup(viper.Reset)
}

// SetViperValue sets a viper key for the duration of the test.
func SetViperValue(t *testing.T, key string, value any) {
	t.Helper()

	previous := viper.Get(key)
	hadValue := viper.IsSet(key)
	viper.Set(key, value)

	t.Cleanup(func() {
		if hadValue {
			viper.Set(key, previous)
		} else {
			viper.Set(key, nil)
		}
	})
}
