package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/kappal-app/agentstack/pkg/stack"
)

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func serviceNames(services []stack.ServiceDescriptor) []string {
	names := make([]string, 0, len(services))
	for _, s := range services {
		names = append(names, s.Name)
	}
	return names
}
