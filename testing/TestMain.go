// Package testing points package tests at a local, delay-free configuration.
// Import it for its side effects.
package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

var once sync.Once

var testEnv = map[string]string{
	"API_BASE_URL":       "http://127.0.0.1:0",
	"CATALOG_PAGE_DELAY": "0s",
	"SYNC_RETRY_DELAY":   "0s",
	"SYNC_ON_LOGIN":      "false",
}

func setTestEnv() {
	once.Do(func() {
		for key, value := range testEnv {
			if os.Getenv(key) == "" {
				_ = os.Setenv(key, value)
			}
		}
	})
}

func init() {
	setTestEnv()
}

func TestMain(m *stdtesting.M) {
	setTestEnv()
	os.Exit(m.Run())
}
