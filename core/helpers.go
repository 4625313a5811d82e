package orchestration

import "fmt"

// runRecovered runs fn on the calling goroutine and reports a panic in it as
// an error.
func runRecovered(name string, fn func()) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("%s panicked: %v", name, recovered)
		}
	}()

	fn()
	return nil
}
