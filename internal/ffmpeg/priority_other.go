//go:build !unix && !windows

package ffmpeg

import "os/exec"

func wrapNice(bin string, args []string, _ int) (string, []string) {
	return bin, args
}

func lowerPriority(*exec.Cmd, int) {}
