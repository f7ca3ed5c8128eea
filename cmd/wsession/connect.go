package main

import (
	"bufio"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vango-dev/wsession/internal/errors"
	"github.com/vango-dev/wsession/pkg/client"
	"github.com/vango-dev/wsession/pkg/protocol"
)

func connectCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connect [url]",
		Short: "Open an interactive session",
		Long: `Open an interactive session.

Each line read from stdin is sent as one message. Inbound messages and
connection events are printed to stdout. The session survives dropped
sockets: the client reconnects and the server replays what was missed.
End of input disconnects.

Examples:
  wsession connect ws://localhost:8080/ws
  echo hello | wsession connect`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			if len(args) == 1 {
				cfg.Client.URL = args[0]
			}
			if cfg.Client.URL == "" {
				return errors.New(errors.CodeInvalidArgs).
					WithDetail("no server URL").
					WithSuggestion("Pass a URL such as ws://localhost:8080/ws")
			}

			logger := newLogger(cmd.ErrOrStderr(), cfg.Log)
			clientCfg, err := cfg.ClientConfig(logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runConnect(ctx, clientCfg, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	return cmd
}

// runConnect sends each line of in and prints session activity to out. It
// returns when in is exhausted, ctx is done, or the session ends.
func runConnect(ctx context.Context, cfg *client.Config, in io.Reader, out io.Writer) error {
	c := client.New(cfg)

	var mu sync.Mutex
	printf := func(format string, args ...any) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(out, format, args...)
	}

	ended := make(chan error, 1)
	end := func(err error) {
		select {
		case ended <- err:
		default:
		}
	}

	c.OnConnection(func(e client.ConnectionEvent) {
		if e.Resumed {
			printf("* resumed session %s\n", e.SessionID)
		} else {
			printf("* connected, session %s\n", e.SessionID)
		}
	})
	c.OnReconnecting(func(e client.ReconnectingEvent) {
		printf("* reconnecting (attempt %d in %s): %v\n", e.Attempt, e.Delay, e.Err)
	})
	c.OnMessage(func(m client.Message) {
		printf("< [%d] %s\n", m.MessageID, m.Payload)
	})
	c.OnError(func(err error) {
		var exhausted *client.ExhaustedRetriesError
		switch {
		case stderrors.As(err, &exhausted):
			end(errors.New(errors.CodeRetriesExhausted).WithDetailf("%d attempts", exhausted.Attempts).Wrap(exhausted.LastErr))
		case stderrors.Is(err, client.ErrServerDisconnect):
			end(errors.New(errors.CodeServerDisconnect))
		default:
			if coded := remoteError(err); coded != nil {
				end(coded)
				return
			}
			printf("! %v\n", err)
		}
	})

	if err := c.Connect(ctx); err != nil {
		return errors.New(errors.CodeDial).
			WithDetail(cfg.URL).
			Wrap(err)
	}
	defer c.Disconnect()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-ended:
			return err
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if line == "" {
				continue
			}
			if !c.Send([]byte(line)) {
				printf("! not connected, dropped %q\n", line)
			}
		}
	}
}

// remoteError maps server Error frames that end the session to coded
// errors. Other codes are informational.
func remoteError(err error) *errors.Error {
	var remote *protocol.ErrorPayload
	if !stderrors.As(err, &remote) {
		return nil
	}
	switch remote.Code {
	case protocol.ErrCodeSessionExpired:
		return errors.New(errors.CodeSessionExpired).WithDetail(remote.Message)
	case protocol.ErrCodeCapacity:
		return errors.New(errors.CodeCapacity).WithDetail(remote.Message)
	case protocol.ErrCodeHandshakeRequired:
		return errors.New(errors.CodeHandshakeRejected).WithDetail(remote.Message)
	}
	return nil
}
