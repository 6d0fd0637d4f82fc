package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/opd-ai/peerchat"
	"github.com/opd-ai/peerchat/bridge"
	"github.com/opd-ai/peerchat/config"
	"github.com/opd-ai/peerchat/crypto"
	"github.com/opd-ai/peerchat/directory"
	"github.com/opd-ai/peerchat/friend"
	"github.com/opd-ai/peerchat/messaging"
	"github.com/opd-ai/peerchat/transport"
)

func newRunCmd(load func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the node and the local bridge",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.start(ctx); err != nil {
				return err
			}
			banner(cmd.OutOrStdout(), a.node.Status(), a.apiAddr(), cfg.Directory.URL)

			select {
			case <-ctx.Done():
			case err := <-a.serveErr:
				return fmt.Errorf("bridge server: %w", err)
			}
			logrus.WithFields(logrus.Fields{
				"function": "run",
			}).Info("Shutting down")
			return nil
		},
	}
}

// app is a wired node: identity, transport, history, directory client, node
// and bridge.
type app struct {
	cfg      *config.Config
	identity *crypto.Identity
	tcp      *transport.TCPTransport
	history  *messaging.SQLiteStore
	broker   *bridge.Broker
	node     *peerchat.Node
	api      *http.Server
	listener net.Listener
	started  bool
	serveErr chan error
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, serveErr: make(chan error, 1)}
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	id, created, err := loadIdentity(cfg)
	if err != nil {
		return nil, fmt.Errorf("load identity: %w", err)
	}
	a.identity = id
	if created {
		logrus.WithFields(logrus.Fields{
			"function": "newApp",
			"path":     cfg.Node.IdentityPath,
		}).Info("Generated new identity")
	}

	a.history, err = messaging.NewSQLiteStore(ctx, cfg.Node.HistoryPath)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}

	contacts := friend.NewTable()
	if cfg.Node.ContactsPath != "" {
		if err := contacts.Load(cfg.Node.ContactsPath); err != nil {
			return nil, fmt.Errorf("load contacts: %w", err)
		}
	}

	a.tcp, err = transport.NewTCPTransport(cfg.Node.ListenAddr, transport.DefaultTCPOptions())
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}

	a.broker = bridge.NewBroker(0)
	a.node, err = peerchat.New(peerchat.Deps{
		Identity:  id,
		Transport: a.tcp,
		Directory: directory.NewClient(cfg.Directory.URL, cfg.Directory.APIKey, cfg.Timeouts.Directory.D()),
		Contacts:  contacts,
		History:   a.history,
		Events:    a.broker,
	}, cfg.NodeOptions())
	if err != nil {
		return nil, err
	}

	// No WriteTimeout: /events streams stay open.
	a.api = &http.Server{
		Handler: bridge.NewServer(a.node, a.broker, bridge.Options{
			AllowedOrigins: cfg.Node.AllowedOrigins,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ok = true
	return a, nil
}

// start brings the node online and begins serving the bridge.
func (a *app) start(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Node.APIAddr)
	if err != nil {
		return fmt.Errorf("bridge listen: %w", err)
	}
	a.listener = ln

	if err := a.node.Start(ctx); err != nil {
		ln.Close()
		a.listener = nil
		return fmt.Errorf("start node: %w", err)
	}
	a.started = true

	go func() {
		err := a.api.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithFields(logrus.Fields{
				"function": "app.start",
				"error":    err.Error(),
			}).Error("Bridge server failed")
		}
		a.serveErr <- err
	}()

	logrus.WithFields(logrus.Fields{
		"function": "app.start",
		"api_addr": ln.Addr().String(),
	}).Info("Bridge listening")
	return nil
}

func (a *app) apiAddr() string {
	if a.listener != nil {
		return a.listener.Addr().String()
	}
	return a.cfg.Node.APIAddr
}

// close stops everything that was started and wipes the key material.
func (a *app) close() {
	if a.broker != nil {
		a.broker.Close()
	}
	if a.api != nil && a.listener != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.api.Shutdown(ctx); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "app.close",
				"error":    err.Error(),
			}).Warn("Bridge shutdown incomplete")
		}
		cancel()
	}
	if a.started {
		if err := a.node.Stop(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "app.close",
				"error":    err.Error(),
			}).Warn("Node stop failed")
		}
	} else if a.tcp != nil {
		a.tcp.Close()
	}
	if a.history != nil {
		a.history.Close()
	}
	if a.identity != nil {
		a.identity.Wipe()
	}
}

func banner(w io.Writer, st peerchat.Status, apiAddr, directoryURL string) {
	title := color.New(color.FgGreen, color.Bold)
	label := color.New(color.FgCyan).SprintFunc()

	title.Fprintln(w, "peerchat node running")
	fmt.Fprintf(w, "%s %s\n", label("User:     "), st.Username)
	fmt.Fprintf(w, "%s %s\n", label("Key:      "), st.PublicKey[:16])
	fmt.Fprintf(w, "%s %s (advertised %s)\n", label("Listen:   "), st.ListenAddr, st.AdvertiseAddr)
	fmt.Fprintf(w, "%s http://%s\n", label("Bridge:   "), apiAddr)
	fmt.Fprintf(w, "%s %s\n", label("Directory:"), directoryURL)

	presence := color.GreenString(st.Presence)
	if st.Presence != peerchat.PresenceOnline {
		presence = color.YellowString(st.Presence)
	}
	fmt.Fprintf(w, "%s %s, %d/%d friends online\n", label("Presence: "), presence, st.FriendsOnline, st.Friends)
}
