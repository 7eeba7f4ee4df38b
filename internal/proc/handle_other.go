//go:build !unix

package proc

import (
	"errors"
	"os/exec"
)

func setpgid(*exec.Cmd) {}

func killGroup(int) error {
	return errors.New("process groups are available only on unix")
}
