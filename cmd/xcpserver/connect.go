package main

import (
	"fmt"
	"io"
	"net"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/Zereker/xcpudp"
)

type connectFlags struct {
	layout   string
	duration time.Duration
	timeout  time.Duration
}

func newConnectCmd() *cobra.Command {
	var f connectFlags

	cmd := &cobra.Command{
		Use:   "connect <addr>",
		Short: "Send CONNECT to a server and print what it sends back",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			layout, err := parseLayout(f.layout)
			if err != nil {
				return err
			}
			return runConnect(cmd.OutOrStdout(), args[0], layout, f.duration, f.timeout)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.layout, "layout", xcpudp.CounterFirst.String(), "header layout: counter-first or length-first")
	flags.DurationVar(&f.duration, "duration", 0, "keep receiving measurement data for this long")
	flags.DurationVar(&f.timeout, "timeout", 2*time.Second, "wait this long for the CONNECT response")
	return cmd
}

// runConnect performs the client side of the handshake, optionally receives
// DTO datagrams and disconnects again.
func runConnect(w io.Writer, addr string, layout xcpudp.FrameLayout, duration, timeout time.Duration) error {
	raddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return errors.Wrapf(err, "resolve %s", addr)
	}
	conn, err := net.DialUDP("udp4", nil, raddr)
	if err != nil {
		return errors.Wrapf(err, "dial %s", addr)
	}
	defer conn.Close()

	var ctr uint16
	send := func(cmd ...byte) error {
		msg, err := xcpudp.EncodeMessage(layout, ctr, cmd)
		if err != nil {
			return err
		}
		ctr++
		_, err = conn.Write(msg)
		return errors.Wrap(err, "send command")
	}

	if err := send(xcpudp.CmdConnect, 0x00); err != nil {
		return err
	}

	buf := make([]byte, 64*1024)
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	n, err := conn.Read(buf)
	if err != nil {
		return errors.Wrap(err, "wait for CONNECT response")
	}
	h, payload, _, err := xcpudp.DecodeMessage(buf[:n], layout)
	if err != nil {
		return errors.Wrap(err, "decode CONNECT response")
	}
	fmt.Fprintf(w, "CONNECT response: ctr=%d len=%d data=% X\n", h.Counter, h.Length, payload)
	if len(payload) == 0 || payload[0] != pidResponse {
		return errors.New("CONNECT rejected")
	}

	if duration > 0 {
		datagrams, messages := 0, 0
		deadline := time.Now().Add(duration)
		for time.Now().Before(deadline) {
			_ = conn.SetReadDeadline(deadline)
			n, err := conn.Read(buf)
			if err != nil {
				break
			}
			datagrams++
			for rest := buf[:n]; len(rest) > 0; messages++ {
				if _, _, rest, err = xcpudp.DecodeMessage(rest, layout); err != nil {
					break
				}
			}
		}
		fmt.Fprintf(w, "received %d datagrams, %d messages\n", datagrams, messages)
	}

	return send(cmdDisconnect)
}
