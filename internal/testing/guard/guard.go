package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("WASEL_TEST_MODE") == "" {
			_ = os.Setenv("WASEL_TEST_MODE", "1")
		}
	})
}
