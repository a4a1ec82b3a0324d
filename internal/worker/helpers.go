package worker

import "fmt"

func errNoServer(uri string) error {
	return fmt.Errorf("no registered server for %s", uri)
}
