//go:build windows

package voicemodel

import (
	"errors"
	"io"
)

type VerifyOptions struct {
	PackagePath   string
	ORTLibrary    string
	ORTAPIVersion uint32
	Stdout        io.Writer
	Stderr        io.Writer
}

func Verify(_ VerifyOptions) error {
	return errors.New("voice model verification is unavailable on windows in this build")
}
