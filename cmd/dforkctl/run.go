package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/catern/dfork"
	"github.com/catern/dfork/logger"
)

type cmdRun struct {
	global *cmdGlobal
}

// namedSignals maps the short names accepted by --signal to their
// unix.Signal value, following the names kill(1) accepts (without the
// SIG prefix).
var namedSignals = map[string]unix.Signal{
	"HUP":  unix.SIGHUP,
	"INT":  unix.SIGINT,
	"QUIT": unix.SIGQUIT,
	"TERM": unix.SIGTERM,
	"KILL": unix.SIGKILL,
	"USR1": unix.SIGUSR1,
	"USR2": unix.SIGUSR2,
}

func resolveNamedSignal(name string) (unix.Signal, error) {
	sig, ok := namedSignals[strings.TrimPrefix(strings.ToUpper(name), "SIG")]
	if !ok {
		return 0, fmt.Errorf("unknown signal name %q", name)
	}

	return sig, nil
}

func (c *cmdRun) command() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Use = "run <command> [args...]"
	cmd.Short = "Spawn a command tree and wait for it to finish"
	cmd.Args = cobra.MinimumNArgs(1)
	cmd.RunE = c.run

	return cmd
}

func (c *cmdRun) run(_ *cobra.Command, args []string) error {
	log := logger.New(os.Stderr)

	var override unix.Signal
	if c.global.flagSignal != "" {
		sig, serr := resolveNamedSignal(c.global.flagSignal)
		if serr != nil {
			return serr
		}

		override = sig
	}

	h, err := dfork.New(dfork.Request{Argv: args})
	if err != nil {
		return fmt.Errorf("spawn: %w", err)
	}
	defer h.Close()

	pid, _ := h.Pid()
	log = log.AddContext(logger.Ctx{"pid": pid})
	log.Info("spawned")

	// Forward SIGINT/SIGTERM received by dforkctl itself into the command
	// tree, substituting --signal's override if one was given, instead of
	// letting the tree outlive the CLI process that spawned it.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		for received := range sigCh {
			toSend := override
			if toSend == 0 {
				sig, ok := received.(syscall.Signal)
				if !ok {
					continue
				}

				toSend = unix.Signal(sig)
			}

			log.Debug("forwarding signal", logger.Ctx{"signal": toSend.String()})

			if serr := h.SendSignal(toSend); serr != nil {
				log.Error("forward signal failed", logger.Ctx{"err": serr.Error()})
			}
		}
	}()

	if c.global.flagVerbose {
		// Log events as they become readable until the primary child dies
		// or the socket hangs up.
		primaryDied := false
		for !primaryDied && !h.Closed() {
			pfd := []unix.PollFd{{Fd: int32(h.Fileno()), Events: unix.POLLIN}}
			if _, perr := unix.Poll(pfd, -1); perr != nil && perr != unix.EINTR {
				break
			}

			h.NewEvents(func(event dfork.ChildEvent) bool {
				log.Info("event", logger.Ctx{"code": event.Code.String(), "event_pid": event.Pid})
				primaryDied = event.Died() && event.Pid == pid
				return !primaryDied
			})
		}
	}

	event, err := h.Wait()
	if err != nil {
		log.Error("wait failed", logger.Ctx{"err": err.Error()})
		return err
	}

	log.Info("exited", logger.Ctx{"code": event.Code.String()})

	if !event.Clean() {
		os.Exit(1)
	}

	return nil
}
