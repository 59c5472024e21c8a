//go:build unix

package main

import (
	"os"
	"os/signal"
	"syscall"
)

// notifyStatus relays SIGUSR1, which asks a running listener to log its
// counters.
func notifyStatus(c chan<- os.Signal) {
	signal.Notify(c, syscall.SIGUSR1)
}
