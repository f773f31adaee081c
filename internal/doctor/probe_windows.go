//go:build windows

package doctor

import "errors"

const DefaultAPIVersion = 23

func ProbeRuntime(_ string, _ uint32) error {
	return errors.New("runtime probe is unavailable on windows in this build")
}
