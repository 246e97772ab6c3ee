package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/go-dashboard-session/authapi"
	"github.com/jrsteele09/go-dashboard-session/idle"
	"github.com/jrsteele09/go-dashboard-session/internal/config"
	"github.com/jrsteele09/go-dashboard-session/internal/logging"
	"github.com/jrsteele09/go-dashboard-session/internal/metrics"
	"github.com/jrsteele09/go-dashboard-session/relay/filerelay"
	"github.com/jrsteele09/go-dashboard-session/session"
	"github.com/jrsteele09/go-dashboard-session/storage/sqlitestore"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

const usage = `commands:
  <enter>                    record activity
  stay                       stay signed in from the idle warning
  refresh                    refresh the admin tokens now
  status                     print both sessions
  logout                     log the admin out
  user-login <email> <key>   log a subscriber in
  user-logout                log the subscriber out
  quit                       exit, keeping stored sessions`

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Printf("No .env file loaded: %v\n", err)
	}
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Error running dashboard agent")
	}
}

func run() error {
	c, err := config.New()
	if err != nil {
		return err
	}
	closer := logging.Setup(c)
	defer closer.Close()
	displayAppname(c.GetAppName())

	reg := prometheus.NewRegistry()
	recorder := metrics.NewCollector(reg)
	if addr := c.GetMetricsAddr(); addr != "" {
		metricsServer := &http.Server{Addr: addr, Handler: metrics.Handler(reg)}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("metrics server stopped")
			}
		}()
		defer metricsServer.Close()
	}

	store, err := sqlitestore.Open(c.GetDurableStorePath())
	if err != nil {
		return err
	}
	defer store.Close()

	activity := filerelay.NewOrNoop(c.GetRelayDir(), c.GetRelayChannel())
	defer activity.Close()

	notifier := authapi.NewUnauthorizedNotifier()
	client := authapi.New(c.GetAPIBaseURL(), authapi.WithTimeout(c.GetAPITimeout()), authapi.WithNotifier(notifier))

	done := make(chan session.Reason, 1)
	admin := session.NewAdminStore(client, c,
		session.WithStorage(store),
		session.WithRelay(activity),
		session.WithUnauthorizedNotifier(notifier),
		session.WithMetrics(recorder),
		session.WithRequestTimeout(c.GetAPITimeout()),
		session.WithHooks(session.Hooks{
			OnExpiryWarning: func(s int) { log.Warn().Int("seconds", s).Msg("Admin session expires soon") },
			OnIdleWarning:   func(s int) { log.Warn().Int("seconds", s).Msg("Idle: type 'stay' to remain signed in") },
			OnCountdown:     func(s int) { log.Debug().Int("seconds", s).Msg("Idle countdown") },
			OnLogout: func(r session.Reason) {
				select {
				case done <- r:
				default:
				}
			},
		}),
	)
	defer admin.Dispose()

	user := session.NewUserStore(client, c,
		session.WithStorage(store),
		session.WithUnauthorizedNotifier(notifier),
		session.WithMetrics(recorder),
		session.WithRequestTimeout(c.GetAPITimeout()),
		session.WithHooks(session.Hooks{
			OnLogout: func(r session.Reason) { log.Info().Str("reason", string(r)).Msg("Subscriber logged out") },
		}),
	)
	defer user.Dispose()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := admin.Init(); err != nil {
		return err
	}
	if !admin.IsAuthenticated() {
		if c.GetAdminToken() == "" {
			return errors.New("no stored admin session and ADMIN_TOKEN is not set")
		}
		if err := admin.Login(ctx, c.GetAdminToken()); err != nil {
			return err
		}
	}
	if restored, err := user.RestoreFromStorage(ctx); err != nil {
		log.Warn().Err(err).Msg("Could not check the stored subscriber session")
	} else if restored {
		log.Info().Str("email", user.Snapshot().Email).Msg("Subscriber session restored")
	}

	fmt.Println(usage)
	lines := make(chan string)
	go readLines(lines)

	for {
		select {
		case <-ctx.Done():
			return nil
		case reason := <-done:
			log.Info().Str("reason", string(reason)).Msg("Admin session ended")
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := handleCommand(ctx, line, admin, user); quit {
				return nil
			}
		}
	}
}

func handleCommand(ctx context.Context, line string, admin *session.AdminStore, user *session.UserStore) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		admin.Observe(idle.KeyPress)
		return false
	}

	switch fields[0] {
	case "stay":
		admin.StaySignedIn()
	case "refresh":
		if err := admin.Refresh(ctx); err != nil {
			log.Error().Err(err).Msg("Refresh failed")
		}
	case "status":
		snap := admin.Snapshot()
		log.Info().
			Bool("authenticated", snap.Authenticated).
			Time("expires_at", snap.ExpiresAt).
			Str("expiry", snap.Expiry.String()).
			Str("idle", snap.Idle.State.String()).
			Msg("Admin session")
		us := user.Snapshot()
		log.Info().Bool("authenticated", us.Authenticated).Str("email", us.Email).Time("expires_at", us.ExpiresAt).Msg("Subscriber session")
	case "logout":
		admin.Logout(session.ReasonUser)
	case "user-login":
		if len(fields) != 3 {
			fmt.Println("usage: user-login <email> <key>")
			return false
		}
		sess, err := user.Login(ctx, fields[1], fields[2])
		if err != nil {
			log.Error().Err(err).Msg("Subscriber login failed")
			return false
		}
		log.Info().Str("email", sess.Email).Time("expires_at", sess.ExpiresAt).Msg("Subscriber logged in")
	case "user-logout":
		user.Logout(session.ReasonUser)
	case "quit":
		return true
	default:
		admin.Observe(idle.KeyPress)
	}
	return false
}

func readLines(out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		out <- scanner.Text()
	}
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
