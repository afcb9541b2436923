package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/llehouerou/shelf/internal/api"
	"github.com/llehouerou/shelf/internal/coldstart"
	"github.com/llehouerou/shelf/internal/config"
	"github.com/llehouerou/shelf/internal/engine"
	"github.com/llehouerou/shelf/internal/library"
	"github.com/llehouerou/shelf/internal/logging"
	"github.com/llehouerou/shelf/internal/mpris"
	"github.com/llehouerou/shelf/internal/nowplaying"
	"github.com/llehouerou/shelf/internal/readiness"
	"github.com/llehouerou/shelf/internal/session"
	"github.com/llehouerou/shelf/internal/sleeptimer"
	"github.com/llehouerou/shelf/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	debug := flag.Bool("debug", false, "enable debug logging")
	runImport := flag.Bool("import", false, "import configured library folders and exit")
	playLocal := flag.String("play", "", "local item id to play")
	playRemote := flag.String("play-remote", "", "server library item id to play")
	sleepAfter := flag.Duration("sleep", 0, "pause playback after this duration")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logging.Setup(cfg.Debug || *debug)

	var st *store.Manager
	if cfg.DataDir != "" {
		st, err = store.Open(filepath.Join(cfg.DataDir, "shelf.db"))
	} else {
		st, err = store.OpenDefault()
	}
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if *runImport {
		return importLibraries(cfg, st, log)
	}

	eng := engine.NewLocal(log)
	defer eng.Close()

	playerCfg := cfg.GetPlayerConfig()
	rate := playerCfg.PlaybackRate
	if settings, err := st.GetPlayerSettings(); err == nil && settings.PlaybackRate > 0 {
		rate = settings.PlaybackRate
	}

	var client *api.Client
	var server session.ServerInfo
	if cfg.HasServerConfig() {
		connID := cfg.Server.ID
		if connID == "" {
			connID = cfg.Server.Address
		}
		client = api.NewClient(cfg.Server.Address, cfg.Server.Token, connID)
		server = session.ServerInfo{
			ConnectionID: connID,
			Address:      cfg.Server.Address,
			Token:        cfg.Server.Token,
			Version:      cfg.Server.Version,
		}
		log.Info().Str("server", cfg.Server.Address).Msg("server connection configured")
	} else {
		log.Info().Msg("no server configured, local playback only")
	}

	clock := clockwork.NewRealClock()

	// MPRIS is the projection's default sink; commands from desktop media
	// controls route back into the manager through the proxy.
	controls := &playerControls{}
	adapter, err := mpris.New(controls)
	if err != nil {
		return fmt.Errorf("start mpris: %w", err)
	}
	defer adapter.Close()

	var fetch nowplaying.FetchFunc
	if client != nil {
		fetch = client.FetchCover
	}
	np := nowplaying.New(adapter, fetch, log)
	confirmer := readiness.New(clock, eng.Status, np.HasInfo, log)

	sleepCfg := cfg.GetSleepConfig()
	sleep := sleeptimer.New(clock, eng, *sleepCfg.FadeOut,
		time.Duration(sleepCfg.FadeSeconds)*time.Second, nil, log)

	mgr := session.NewManager(session.Options{
		Engine:       eng,
		Store:        st,
		API:          apiOrNil(client),
		NowPlay:      np,
		Confirmer:    confirmer,
		Sleep:        sleep,
		Server:       server,
		DefaultRate:  rate,
		SeekForward:  time.Duration(playerCfg.SeekForward) * time.Second,
		SeekBackward: time.Duration(playerCfg.SeekBackward) * time.Second,
		Log:          log,
	})
	controls.manager = mgr

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	switch {
	case *playRemote != "":
		if _, err := mgr.StartRemote(ctx, *playRemote, ""); err != nil {
			return fmt.Errorf("start remote playback: %w", err)
		}
		mgr.ConfirmReady(func(timedOut bool) {
			if timedOut {
				log.Warn().Msg("playback did not confirm in time")
			} else {
				log.Info().Msg("playback confirmed")
			}
		})
	case *playLocal != "":
		if _, err := mgr.StartLocal(ctx, *playLocal, ""); err != nil {
			return fmt.Errorf("start local playback: %w", err)
		}
	default:
		// Restore the last session once the store answers; during process
		// cold start the database may still be settling.
		gate := coldstart.New(clock, func() bool {
			return st.DB().Ping() == nil
		}, func() {
			if _, err := mgr.Resume(server.ConnectionID); err != nil {
				log.Error().Err(err).Msg("restoring last session")
			}
		}, log)
		gate.Try()
		defer gate.Stop()
	}

	if *sleepAfter > 0 {
		mgr.SleepTimer().SetCountdown(*sleepAfter)
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-ticker.C:
			mgr.Tick(ctx)
		case sig := <-sigCh:
			log.Info().Stringer("signal", sig).Msg("shutting down")
			if err := mgr.Stop(ctx); err != nil {
				log.Error().Err(err).Msg("stopping session")
			}
			return nil
		}
	}
}

// importLibraries scans the configured folders and stores what they hold.
func importLibraries(cfg *config.Config, st *store.Manager, log zerolog.Logger) error {
	if len(cfg.LibrarySources) == 0 {
		return fmt.Errorf("no library_sources configured")
	}

	importer := library.NewImporter(log)
	total := 0
	for _, src := range cfg.LibrarySources {
		items, err := importer.Scan(src)
		if err != nil {
			log.Error().Err(err).Str("source", src).Msg("scanning library folder")
			continue
		}
		for _, item := range items {
			if err := st.PutLocalItem(item); err != nil {
				return fmt.Errorf("store %s: %w", item.Title, err)
			}
			total++
		}
	}

	fmt.Printf("Imported %d items\n", total)
	return nil
}

// apiOrNil keeps a nil *api.Client from becoming a non-nil interface.
func apiOrNil(c *api.Client) session.API {
	if c == nil {
		return nil
	}
	return c
}

// playerControls routes MPRIS commands to the session manager. The
// manager is attached after construction; commands before that are
// dropped.
type playerControls struct {
	manager *session.Manager
}

func (p *playerControls) SetPaused(paused bool) {
	if p.manager != nil {
		p.manager.SetPaused(paused)
	}
}

func (p *playerControls) Paused() bool {
	if p.manager == nil {
		return true
	}
	return p.manager.Paused()
}

func (p *playerControls) SeekForward() {
	if p.manager != nil {
		p.manager.SeekForward()
	}
}

func (p *playerControls) SeekBackward() {
	if p.manager != nil {
		p.manager.SeekBackward()
	}
}

func (p *playerControls) SetPlaybackRate(rate float64) {
	if p.manager != nil {
		p.manager.SetPlaybackRate(rate)
	}
}
