//go:build !unix

package main

import "os"

func notifyStatus(chan<- os.Signal) {}
