package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

var once sync.Once

func ensureTestMode() {
	once.Do(func() {
		_ = os.Setenv("ODYSSEY_POS_TEST_MODE", "1")
		if os.Getenv("POS_API_URL") == "" {
			_ = os.Setenv("POS_API_URL", "http://127.0.0.1:0")
		}
		if os.Getenv("POS_APP_ID") == "" {
			_ = os.Setenv("POS_APP_ID", "pos-test")
		}
	})
}

func init() {
	ensureTestMode()
}

func TestMain(m *stdtesting.M) {
	ensureTestMode()
	os.Exit(m.Run())
}
