package main

import (
	"textguard/process"
	"textguard/process_linux"

	"golang.org/x/sys/unix"
)

func getProcess(pid int) (process.Process, error) {
	return process_linux.NewWithPID(process.ProcessID(pid))
}

func findProcess(name string) (int, error) {
	info, err := process_linux.OneByName(name)
	if err != nil {
		return 0, err
	}
	return int(info.PID), nil
}

// haltProcess stops pid so the tampered code cannot run any further.
func haltProcess(pid int) error {
	return process_linux.Signal(process.ProcessID(pid), unix.SIGSTOP)
}
