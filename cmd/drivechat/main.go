// The drivechat command is a terminal front end for the message
// store: sign in, send messages, list recent conversations and force
// a sync in either direction.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/harithkavish/drivechat/internal/chat"
	"github.com/harithkavish/drivechat/internal/config"
	"github.com/harithkavish/drivechat/internal/drive"
	"github.com/harithkavish/drivechat/internal/localstore"
	"github.com/harithkavish/drivechat/internal/people"
	"github.com/harithkavish/drivechat/internal/session"
	"github.com/harithkavish/drivechat/internal/tracehttp"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	_ "github.com/mattn/go-sqlite3"
)

var (
	flagTrace  = flag.Bool("T", false, "request debug tracing")
	flagConfig = flag.String("config", config.DefaultPath(), "path to the configuration file")
)

const usage = `usage: drivechat [flags] <command> [args]

commands:
  signin <id-token>    decode the identity token and sign in
  signout              sign out and revoke the credential
  send <peer> <text>   append a message to the conversation with peer
  show <peer>          print the conversation with peer
  recent               list conversations, most recent first
  pull                 refresh the local store from the remote file
  push                 overwrite the remote file from the local store
`

func run(ctx context.Context, log *logrus.Logger, cfg *config.Config, args []string) error {
	if len(args) == 0 {
		return errors.New("no command given")
	}

	db, err := localstore.Open(ctx, cfg.StorePath, log)
	if err != nil {
		return errors.Wrap(err, "unable to initialize database")
	}
	defer db.Close()

	provider := session.NewConsentProvider(cfg.ClientID, cfg.ClientSecret, os.Stdin, os.Stdout)
	sess := session.New(provider, db, log)
	sess.SetSafetyWindow(cfg.SafetyWindow.Duration)

	remote := drive.New(http.DefaultClient, sess, cfg.RemoteFile, log)
	resolver := people.New(http.DefaultClient, sess, log)
	store := chat.New(db, remote, sess, resolver, log)
	store.Restore(ctx)
	defer store.Wait()

	switch cmd, rest := args[0], args[1:]; cmd {
	case "signin":
		if len(rest) != 1 {
			return errors.New("signin needs an identity token")
		}
		id, err := session.DecodeIdentity(rest[0])
		if err != nil {
			return errors.Wrap(err, "unable to decode identity token")
		}
		if err := store.SignIn(ctx, *id); err != nil {
			return errors.Wrap(err, "sign-in sync failed")
		}
		fmt.Printf("Signed in as %s <%s>\n", id.Name, id.Email)
		return nil

	case "signout":
		store.SignOut(ctx)
		fmt.Println("Signed out")
		return nil

	case "send":
		if len(rest) < 2 {
			return errors.New("send needs a peer and a message")
		}
		peer, text := rest[0], strings.Join(rest[1:], " ")
		if _, err := store.SelectPeer(ctx, peer); err != nil {
			return err
		}
		msg, err := store.Append(ctx, peer, text)
		if err != nil {
			return errors.Wrap(err, "unable to append message")
		}
		store.Wait()
		if err := store.LastError(); err != nil {
			log.WithError(err).Warn("message stored locally but not pushed")
		}
		fmt.Printf("Sent to %s at %s\n", msg.To, time.UnixMilli(msg.Timestamp).Format(time.RFC3339))
		return nil

	case "show":
		if len(rest) != 1 {
			return errors.New("show needs a peer")
		}
		me := store.User()
		if me == nil {
			return errors.New("not signed in")
		}
		for _, m := range store.Thread(ctx, rest[0]) {
			name := m.FromName
			if name == "" {
				name = m.From
			}
			fmt.Printf("[%s] %s: %s\n",
				time.UnixMilli(m.Timestamp).Format("2006-01-02 15:04"), name, m.Text)
		}
		return nil

	case "recent":
		chats := store.RecentChats(ctx)
		store.RefreshProfiles(ctx, chats)
		for _, c := range chats {
			fmt.Printf("%-30s %s  last %s\n", c.Email, c.Name,
				time.UnixMilli(c.Timestamp).Format("2006-01-02 15:04"))
		}
		return nil

	case "pull":
		if err := store.BootstrapSync(ctx); err != nil {
			return errors.Wrap(err, "unable to synchronize")
		}
		return nil

	case "push":
		if err := store.PushToRemote(ctx); err != nil {
			return errors.Wrap(err, "unable to synchronize")
		}
		return nil

	default:
		return errors.Errorf("unknown command %q", cmd)
	}
}

func main() {
	flag.Parse()
	if *flagTrace {
		tracehttp.WrapDefaultTransport()
	}

	log := logrus.New()
	cfg, err := config.Load(*flagConfig)
	if err != nil {
		log.Fatalf("Failed: %v\n", err)
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	if err := run(context.Background(), log, cfg, flag.Args()); err != nil {
		fmt.Fprint(os.Stderr, usage)
		log.Fatalf("Failed: %v\n", err)
	}
	os.Exit(0)
}
