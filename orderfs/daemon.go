// Copyright 2026 The Reprocheck Authors
// SPDX-License-Identifier: Apache-2.0

package orderfs

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
)

// childEnv marks the re-executed serving process. The parent
// invocation spawns a copy of itself with this variable set, waits for
// the mount to become ready, and exits so the calling shell sees mount
// semantics: command done, filesystem live.
const childEnv = "REPROCHECK_ORDERFS_CHILD"

const readyLine = "orderfs ready"

// Run is the entry point of the orderfs subcommand. In the parent it
// daemonizes and returns once the child reports the mount is serving;
// in the child it serves until unmounted.
func Run(options Options) error {
	if os.Getenv(childEnv) == "1" {
		return serve(options)
	}
	return daemonize()
}

func daemonize() error {
	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locating own executable: %w", err)
	}
	cmd := exec.Command(executable, os.Args[1:]...)
	cmd.Env = append(os.Environ(), childEnv+"=1")
	cmd.Stderr = os.Stderr
	// New session: the mount must outlive the plan's setup shell.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawning orderfs server: %w", err)
	}

	line, err := bufio.NewReader(stdout).ReadString('\n')
	if err != nil || strings.TrimSpace(line) != readyLine {
		_ = cmd.Wait()
		return fmt.Errorf("orderfs server failed to report readiness")
	}
	return cmd.Process.Release()
}

func serve(options Options) error {
	server, err := Mount(options)
	if err != nil {
		return err
	}
	fmt.Println(readyLine)
	os.Stdout.Close()
	server.Wait()
	return nil
}
