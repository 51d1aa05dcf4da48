package lib

import (
	"fmt"
	"runtime"

	"github.com/gravitational/trace"
	"github.com/hashicorp/go-version"
)

// PrintVersion prints the specified app version to STDOUT
func PrintVersion(appName string, appVersion string, gitref string) {
	if gitref != "" {
		fmt.Printf("%v v%v git:%v %v\n", appName, appVersion, gitref, runtime.Version())
	} else {
		fmt.Printf("%v v%v %v\n", appName, appVersion, runtime.Version())
	}
}

// AssertServerVersion returns an error if the backend version reported by the
// health endpoint is less than minimum required version.
func AssertServerVersion(serverVersion, minVersion string) error {
	actual, err := version.NewVersion(serverVersion)
	if err != nil {
		return trace.Wrap(err)
	}
	required, err := version.NewVersion(minVersion)
	if err != nil {
		return trace.Wrap(err)
	}
	if actual.LessThan(required) {
		return trace.Errorf("server version %s is less than %s", serverVersion, minVersion)
	}
	return nil
}
