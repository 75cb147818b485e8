package osccontrol

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/hypebeast/go-osc/osc"
	"github.com/robmorgan/halodeck/logger"
	"github.com/sirupsen/logrus"
)

// ListenAndServe receives OSC packets on the UDP address addr until ctx is done.
func ListenAndServe(ctx context.Context, addr string, dispatcher osc.Dispatcher) error {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return fmt.Errorf("could not listen for osc on %s: %w", addr, err)
	}

	server := &osc.Server{Addr: addr, Dispatcher: dispatcher}
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	logger.GetProjectLogger().WithFields(logrus.Fields{"addr": conn.LocalAddr().String()}).Info("Listening for osc")
	if err := server.Serve(conn); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// NewFeedback creates a client sending feedback to target, a host:port pair.
func NewFeedback(target string) (*osc.Client, error) {
	host, portStr, err := net.SplitHostPort(target)
	if err != nil {
		return nil, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid osc feedback port %q: %w", portStr, err)
	}
	return osc.NewClient(host, port), nil
}
