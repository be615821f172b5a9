// Program n3fjpmap connects to one or more N3FJP logging programs over their
// TCP API, turns logged contacts into map path events and serves them to
// browsers over WebSocket, with optional MQTT and SQLite fan-out.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"n3fjpmap/classify"
	"n3fjpmap/config"
	"n3fjpmap/cty"
	"n3fjpmap/event"
	"n3fjpmap/geo"
	"n3fjpmap/hub"
	"n3fjpmap/lookup"
	"n3fjpmap/peer"
	"n3fjpmap/publish"
	"n3fjpmap/recorder"
	"n3fjpmap/stats"
	"n3fjpmap/web"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"
)

// Version is overridden at build time with -ldflags.
var Version = "dev"

const (
	defaultConfigPath = "data/config"
	envConfigPath     = "N3FJPMAP_CONFIG"
	envConfigFile     = "CONFIG_FILE"
	statusInterval    = time.Minute
)

func isStdoutTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// loadMapConfig tries the -config flag, then N3FJPMAP_CONFIG, then CONFIG_FILE,
// then the default directory. With nothing on disk the built-in defaults are used.
func loadMapConfig(flagPath string) (*config.Config, string, error) {
	candidates := make([]string, 0, 4)
	if p := strings.TrimSpace(flagPath); p != "" {
		candidates = append(candidates, p)
	}
	for _, name := range []string{envConfigPath, envConfigFile} {
		if p := strings.TrimSpace(os.Getenv(name)); p != "" {
			candidates = append(candidates, p)
		}
	}
	candidates = append(candidates, defaultConfigPath)

	for i, path := range candidates {
		cfg, err := config.Load(path)
		if err == nil {
			return cfg, path, nil
		}
		// An explicitly named config must exist.
		if !errors.Is(err, fs.ErrNotExist) || (i == 0 && flagPath != "") {
			return nil, path, err
		}
	}
	cfg, err := config.Parse(nil)
	return cfg, "built-in defaults", err
}

// buildPresets converts configured station locations into hub presets.
func buildPresets(stations []config.StationPreset) []hub.Preset {
	presets := make([]hub.Preset, 0, len(stations))
	for _, st := range stations {
		var p event.Point
		if strings.TrimSpace(st.Grid) != "" {
			grid := geo.NormalizeGrid(st.Grid)
			lat, lon, ok := geo.LatLonFromGrid(grid)
			if !ok {
				log.Printf("Config: station %s has unusable grid %q; skipping", st.Name, st.Grid)
				continue
			}
			p = event.Point{Lat: lat, Lon: lon, Grid: grid}
		} else if st.Lat != nil && st.Lon != nil {
			p = event.Point{Lat: *st.Lat, Lon: *st.Lon}
			if grid, ok := geo.GridFromLatLon(p.Lat, p.Lon, 6); ok {
				p.Grid = grid
			}
		} else {
			log.Printf("Config: station %s has no location; skipping", st.Name)
			continue
		}
		if !p.Valid() {
			log.Printf("Config: station %s has no valid location; skipping", st.Name)
			continue
		}
		presets = append(presets, hub.Preset{Name: st.Name, Origin: p})
	}
	return presets
}

type referenceData struct {
	sections  *geo.CentroidIndex
	countries *geo.CentroidIndex
	states    *geo.CentroidIndex
	cty       *cty.DB
}

// loadReferenceData loads whichever reference tables are configured. A
// missing table only disables its resolution tier.
func loadReferenceData(cfg config.DataConfig) referenceData {
	var ref referenceData
	loadIndex := func(label, path string) *geo.CentroidIndex {
		if strings.TrimSpace(path) == "" {
			return nil
		}
		ix, err := geo.LoadCentroids(path)
		if err != nil {
			log.Printf("Warning: %s centroids unavailable: %v", label, err)
			return nil
		}
		log.Printf("Loaded %d %s centroids from %s", ix.Len(), label, path)
		return ix
	}
	ref.sections = loadIndex("section", cfg.Sections)
	ref.countries = loadIndex("country", cfg.Countries)
	ref.states = loadIndex("state", cfg.States)
	if strings.TrimSpace(cfg.CTY) != "" {
		db, err := cty.Load(cfg.CTY)
		if err != nil {
			log.Printf("Warning: CTY database unavailable: %v", err)
		} else {
			ref.cty = db
			log.Printf("Loaded CTY database from %s", cfg.CTY)
		}
	}
	return ref
}

func main() {
	configPath := flag.String("config", "", "config file or directory")
	flag.Parse()

	log.SetFlags(0)
	fanout := newLogFanout(&ioLineSink{w: os.Stdout, withTimestamp: isStdoutTTY()}, nil)
	log.SetOutput(fanout)
	defer fanout.Close()

	cfg, configSource, err := loadMapConfig(*configPath)
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}
	if err := attachFileSink(fanout, cfg.Logging); err != nil {
		log.Printf("Warning: file logging disabled: %v", err)
	}
	log.Printf("N3FJP map relay v%s starting (config: %s)", Version, configSource)
	cfg.Print()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ref := loadReferenceData(cfg.Data)
	tracker := stats.NewTracker()
	h := hub.New(hub.Options{
		TTLSeconds:     cfg.Map.TTLSeconds,
		BandFilter:     cfg.Map.BandFilter,
		ModeFilter:     cfg.Map.ModeFilter,
		WFDMode:        cfg.Map.WFDMode,
		PreferSection:  cfg.Map.PreferSection,
		PrimaryStation: cfg.Map.PrimaryStation,
		Presets:        buildPresets(cfg.Map.Stations),
		HistorySize:    cfg.Map.HistorySize,
		Tracker:        tracker,
	})

	resolver := classify.Resolver{
		Sections:  ref.sections,
		Countries: ref.countries,
		States:    ref.states,
		CTY:       ref.cty,
		Domestic:  cfg.Map.DomesticCountries,
	}
	callbook := lookup.New(lookup.Config{
		Username: cfg.Lookup.Username,
		Password: cfg.Lookup.Password,
		Agent:    cfg.Lookup.Agent,
		URL:      cfg.Lookup.URL,
		Timeout:  time.Duration(cfg.Lookup.TimeoutSeconds) * time.Second,
	})
	if callbook.Enabled() {
		resolver.Lookup = callbook
	}
	res := classify.NewResolver(resolver)

	g, ctx := errgroup.WithContext(ctx)

	server := web.NewServer(h, prometheus.NewRegistry())
	g.Go(func() error {
		if err := server.ListenAndServe(ctx, cfg.HTTP.Listen); err != nil {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})

	if cfg.MQTT.Enabled {
		pub := publish.NewPublisher(cfg.MQTT.Broker, cfg.MQTT.Port, cfg.MQTT.Topic, cfg.MQTT.ClientID)
		if err := pub.Connect(); err != nil {
			log.Printf("Warning: MQTT publisher disabled: %v", err)
		} else {
			unsubscribe := h.Subscribe(pub)
			g.Go(func() error {
				defer unsubscribe()
				return pub.Run(ctx)
			})
		}
	}

	var rec *recorder.Recorder
	if cfg.Recorder.Enabled {
		rec, err = recorder.NewRecorder(cfg.Recorder.Path, cfg.Recorder.PerBandLimit)
		if err != nil {
			log.Printf("Warning: path recorder disabled: %v", err)
		} else {
			unsubscribe := h.Subscribe(rec)
			defer rec.Close()
			defer unsubscribe()
			log.Printf("Recording up to %d paths per band to %s", cfg.Recorder.PerBandLimit, cfg.Recorder.Path)
		}
	}

	for _, conn := range cfg.Connections {
		dispatcher := classify.NewDispatcher(classify.Options{
			Connection:      conn.Name,
			Hub:             h,
			Resolver:        res,
			Tracker:         tracker,
			ListingCapacity: cfg.Map.ListingDedupCapacity,
		})
		sup := peer.NewSupervisor(peer.Settings{
			Name:         conn.Name,
			Host:         conn.Host,
			Port:         conn.Port,
			Heartbeat:    time.Duration(cfg.HeartbeatSeconds) * time.Second,
			Reconnect:    time.Duration(cfg.ReconnectSeconds) * time.Second,
			PollInterval: time.Duration(conn.PollSeconds) * time.Second,
			PollEntries:  conn.PollEntries,
		}, dispatcher, h, tracker)
		g.Go(func() error {
			if err := sup.Run(ctx); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error { return runIngestHealthMonitor(ctx, h) })
	g.Go(func() error {
		ticker := time.NewTicker(statusInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				log.Print(formatStatusLine(h, rec))
				now := time.Now()
				for _, line := range tracker.SnapshotLines() {
					fanout.WriteFileOnlyLine(line, now)
				}
			}
		}
	})

	if err := g.Wait(); err != nil {
		log.Printf("Shutdown after error: %v", err)
	}
	log.Print(formatStatusLine(h, rec))
	log.Printf("N3FJP map relay stopped")
}

// formatStatusLine summarises the hub counters for the periodic log line.
func formatStatusLine(h *hub.Hub, rec *recorder.Recorder) string {
	c := h.Counters()
	var b strings.Builder
	fmt.Fprintf(&b, "Status: frames=%s paths=%s clients=%d sections=%d countries=%d uptime=%s",
		humanize.Comma(int64(c.FramesParsed)),
		humanize.Comma(int64(c.PathsDrawn)),
		c.Subscribers,
		c.SectionsWorked,
		c.CountriesWorked,
		h.Uptime().Truncate(time.Second))
	if rec != nil {
		counts := rec.Counts()
		bands := make([]string, 0, len(counts))
		for band := range counts {
			bands = append(bands, band)
		}
		sort.Strings(bands)
		parts := make([]string, 0, len(bands))
		for _, band := range bands {
			parts = append(parts, fmt.Sprintf("%s=%d", band, counts[band]))
		}
		if len(parts) > 0 {
			fmt.Fprintf(&b, " recorded[%s]", strings.Join(parts, " "))
		}
	}
	return b.String()
}
