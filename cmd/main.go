package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"reflect"
	"strconv"
	"strings"
	"syscall"

	"github.com/aukilabs/go-tooling/pkg/cli"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/go-tooling/pkg/metrics"
	"github.com/aukilabs/lodgrid/featureflag"
	"github.com/aukilabs/lodgrid/grid"
	lodgridhttp "github.com/aukilabs/lodgrid/http"
	"github.com/aukilabs/lodgrid/projection"
	"github.com/aukilabs/lodgrid/smoketest"
	"github.com/aukilabs/lodgrid/topology"
	"github.com/aukilabs/lodgrid/websocket"
	"github.com/paulmach/orb"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/encoding/json"
)

var (
	// The lodgrid version number. Set at build.
	version = "v0.1.0"

	infoGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name:        "lodgrid_info",
		Help:        "Lodgrid information.",
		ConstLabels: prometheus.Labels{"version": version},
	})
)

// This will effectively disable obfuscation of the config struct. Without it, the keys would get obfuscated causing the cli package to generate garbled command-line options.
// https://github.com/burrowers/garble/issues/403
var _ = reflect.TypeOf(config{})

type config struct {
	Addr         string   `cli:""        env:"LODGRID_ADDR"          help:"Listening address for client connections."`
	AdminAddr    string   `cli:""        env:"LODGRID_ADMIN_ADDR"    help:"Admin listening address."`
	LogLevel     string   `cli:""        env:"LODGRID_LOG_LEVEL"     help:"Log level (debug|info|warning|error)."`
	LogIndent    bool     `cli:""        env:"LODGRID_LOG_INDENT"    help:"Indent logs."`
	Width        int      `cli:""        env:"LODGRID_WIDTH"         help:"The number of root cells along the x axis."`
	Height       int      `cli:""        env:"LODGRID_HEIGHT"        help:"The number of root cells along the y axis."`
	Bounds       string   `cli:""        env:"LODGRID_BOUNDS"        help:"The grid extent in the source reference system: minX,minY,maxX,maxY."`
	SourceCRS    string   `cli:""        env:"LODGRID_SOURCE_CRS"    help:"The proj4 definition of the source reference system."`
	Projector    string   `cli:""        env:"LODGRID_PROJECTOR"     help:"The vertex projection (unit|meters)."`
	InitialLevel int      `cli:""        env:"LODGRID_INITIAL_LEVEL" help:"The level every root is uniformly subdivided to at startup."`
	MaxLevel     int      `cli:",hidden" env:"LODGRID_MAX_LEVEL"     help:"The deepest level subdivision can reach."`
	FeatureFlags []string `cli:",hidden" env:"LODGRID_FEATURE_FLAGS" help:"Comma separated feature flags"`
	Version      bool     `cli:""        env:"-"                     help:"Show version."`
	Help         bool     `cli:""        env:"-"                     help:"Show help."`
}

func main() {
	conf := config{
		Addr:         ":4000",
		AdminAddr:    ":18190",
		LogLevel:     logs.InfoLevel.String(),
		Width:        2,
		Height:       1,
		Bounds:       "-180,-85.0511287798,180,85.0511287798",
		SourceCRS:    projection.WGS84,
		Projector:    "unit",
		InitialLevel: 2,
		MaxLevel:     16,
	}

	// set the information gauge to 1, useful for SUM query
	infoGauge.Set(1)

	ctx, cancel := cli.ContextWithSignals(context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer cancel()

	cli.Register().
		Help("Starts lodgrid server.").
		Options(&conf)
	cli.Load()

	if conf.Version {
		fmt.Println(version)
		os.Exit(0)
	}

	logs.SetLevel(logs.ParseLevel(conf.LogLevel))
	logs.Encoder = json.Marshal
	if conf.LogIndent {
		logs.Encoder = func(v any) ([]byte, error) {
			return json.MarshalIndent(v, "", "  ")
		}
	}

	errors.Encoder = json.Marshal

	if err := validateConfig(conf); err != nil {
		logs.Fatal(err)
	}

	bounds, err := parseBounds(conf.Bounds)
	if err != nil {
		logs.Fatal(err)
	}

	src, err := loadSource(conf.SourceCRS)
	if err != nil {
		logs.Fatal(err)
	}

	proj, err := projection.Projector(conf.Projector)
	if err != nil {
		logs.Fatal(err)
	}

	flags := featureflag.New(conf.FeatureFlags)
	g, err := grid.New(grid.Config{
		Width:    conf.Width,
		Height:   conf.Height,
		Bounds:   bounds,
		MaxLevel: conf.MaxLevel,
		Flags:    flags,
	})
	if err != nil {
		logs.Fatal(errors.New("creating grid failed").Wrap(err))
	}

	topologyHandler := &lodgridhttp.TopologyHandler{
		Grid:       g,
		Builder:    topology.Builder{Flags: flags},
		Source:     src,
		Projection: proj,
		Stream:     &websocket.Stream{},
		MaxLevel:   conf.MaxLevel,
	}

	err = topologyHandler.Rebuild(func(g *grid.Grid) error {
		_, err := topology.Refine(g, topology.Uniform, conf.InitialLevel)
		return err
	})
	if err != nil {
		logs.Fatal(errors.New("building initial topology failed").Wrap(err))
	}

	var service http.ServeMux
	topologyHandler.Register(ctx, &service)
	service.Handle("/health", lodgridhttp.HandleWithCORS(http.HandlerFunc(lodgridhttp.HandleHealthCheck)))
	service.Handle("/version", lodgridhttp.HandleWithCORS(http.HandlerFunc(lodgridhttp.HandleVersion(version))))
	service.Handle("/ready", lodgridhttp.HandleWithCORS(http.HandlerFunc(lodgridhttp.HandleReadyCheck(topologyHandler.Ready))))

	smokeTest := smoketest.HandleSmokeTest(ctx, smoketest.Options{
		Snapshot: topologyHandler.Snapshot,
	})
	service.HandleFunc("/smoke-test", smokeTest)

	var admin http.ServeMux
	admin.Handle("/metrics", promhttp.Handler())
	admin.HandleFunc("/health", lodgridhttp.HandleHealthCheck)
	admin.HandleFunc("/smoke-test", smokeTest)
	admin.HandleFunc("/debug/pprof/", pprof.Index)
	admin.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	admin.HandleFunc("/debug/pprof/profile", pprof.Profile)
	admin.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	admin.HandleFunc("/debug/pprof/trace", pprof.Trace)
	admin.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
	admin.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	admin.Handle("/debug/pprof/threadcreate", pprof.Handler("threadcreate"))
	admin.Handle("/debug/pprof/block", pprof.Handler("block"))
	admin.HandleFunc("/ready", lodgridhttp.HandleReadyCheck(topologyHandler.Ready))

	stats := g.Stats()
	logs.WithTag("version", version).
		WithTag("log_level", conf.LogLevel).
		WithTag("grid", g.UUID).
		WithTag("width", conf.Width).
		WithTag("height", conf.Height).
		WithTag("bounds", conf.Bounds).
		WithTag("leaves", stats.Leaves).
		WithTag("depth", stats.Depth).
		WithTag("fingerprint", g.Fingerprint().Hex()).
		Info("starting lodgrid server")

	lodgridhttp.ListenAndServe(ctx,
		&http.Server{Addr: conf.Addr, Handler: metrics.HTTPHandler(&service,
			lodgridhttp.MetricsPathFormatter)},
		&http.Server{Addr: conf.AdminAddr, Handler: &admin},
	)
}

func validateConfig(conf config) error {
	if conf.Width <= 0 || conf.Height <= 0 {
		return errors.New("grid width and height must be positive").
			WithTag("width", conf.Width).
			WithTag("height", conf.Height)
	}

	supported := grid.SupportedLevel(conf.Width, conf.Height)
	if supported < 0 {
		return errors.Newf("grid width and height must not exceed %d", grid.MaxCells).
			WithTag("width", conf.Width).
			WithTag("height", conf.Height)
	}

	if conf.MaxLevel < 0 || conf.MaxLevel > supported {
		return errors.Newf("max level must be between 0 and %d for a %dx%d grid", supported, conf.Width, conf.Height).
			WithTag("max_level", conf.MaxLevel)
	}

	if conf.InitialLevel < 0 || conf.InitialLevel > conf.MaxLevel {
		return errors.New("initial level must be between 0 and max level").
			WithTag("initial_level", conf.InitialLevel).
			WithTag("max_level", conf.MaxLevel)
	}

	return nil
}

func parseBounds(s string) (orb.Bound, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return orb.Bound{}, errors.New("bounds must be minX,minY,maxX,maxY").
			WithType(grid.ErrTypeInvalidConfig).
			WithTag("bounds", s)
	}

	var values [4]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return orb.Bound{}, errors.New("invalid bounds value").
				WithType(grid.ErrTypeInvalidConfig).
				WithTag("bounds", s).
				Wrap(err)
		}
		values[i] = v
	}

	return orb.Bound{
		Min: orb.Point{values[0], values[1]},
		Max: orb.Point{values[2], values[3]},
	}, nil
}

// loadSource returns the transform from the source reference system to
// longitude and latitude. Geographic sources skip the transform.
func loadSource(definition string) (grid.LonLatTransformer, error) {
	crs, err := projection.Parse(definition)
	if err != nil {
		return nil, err
	}

	if crs.IsGeographic() {
		return projection.LonLat{}, nil
	}
	return crs, nil
}
