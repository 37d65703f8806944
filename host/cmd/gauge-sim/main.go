package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/joho/godotenv"

	"gaugecluster/cluster"
	"gaugecluster/cluster/config"
	"gaugecluster/core"
	"gaugecluster/gauge"
	"gaugecluster/sim"
)

var (
	configPath = flag.String("config", "", "JSON cluster configuration (default $GAUGE_CONFIG or built-in)")
	wsAddr     = flag.String("ws", "", "Serve needle positions over websocket on this address, e.g. :8080")
	wsInterval = flag.Duration("ws-interval", 50*time.Millisecond, "Interval between websocket snapshots")
	debug      = flag.Bool("debug", false, "Route firmware debug output to the log")
	linger     = flag.Duration("linger", 3*time.Second, "Keep running this long after input ends")
	start      = flag.Int("start", -1, "Initial needle position between the stops (-1 = random-ish middle)")
)

func main() {
	_ = godotenv.Load()
	flag.Parse()
	defer glog.Flush()

	cfg, err := loadConfig(firstNonEmpty(*configPath, os.Getenv("GAUGE_CONFIG")))
	if err != nil {
		glog.Exitf("config: %v", err)
	}

	core.SetDebugWriter(func(s string) { glog.Info(s) })
	core.SetDebugEnabled(*debug || cfg.Debug)
	core.InitAsyncDebug()

	needles, actuators := buildNeedles(cfg, int32(*start))
	out := &syncWriter{w: os.Stdout}
	c, err := cluster.New(cfg, actuators, out)
	if err != nil {
		glog.Exitf("cluster: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if *wsAddr != "" {
		feed := NewFeed()
		c.Observe(uint32(wsInterval.Microseconds()), feed.Publish)
		srv := &http.Server{Addr: *wsAddr, Handler: feed.Handler()}
		go func() {
			glog.Infof("websocket feed on %s/gauges", *wsAddr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				glog.Errorf("websocket: %v", err)
			}
		}()
		defer srv.Close()
	}

	clock := sim.WallClock()
	if err := c.Boot(clock); err != nil {
		glog.Exitf("boot: %v", err)
	}
	for i, n := range needles {
		glog.Infof("%s homed, needle at %d", gauge.AxisID(i), n.Position())
	}

	// Serial receive path: stdin is the only producer of the queue
	go readInput(os.Stdin, c, cancel)

	if err := c.Run(ctx, clock); err != nil && err != context.Canceled {
		glog.Errorf("run: %v", err)
	}
	core.DumpEvents()
}

func loadConfig(path string) (*cluster.Config, error) {
	var (
		cfg *cluster.Config
		err error
	)
	if path == "" {
		cfg, err = config.LoadConfig([]byte(`{
			"speed": {"actuator": {"kind": "sim"}},
			"tach": {"actuator": {"kind": "sim"}},
			"fuel": {"actuator": {"kind": "sim"}}
		}`))
	} else {
		data, rerr := os.ReadFile(path)
		if rerr != nil {
			return nil, rerr
		}
		cfg, err = config.LoadConfig(data)
	}
	if err != nil {
		return nil, err
	}
	for axis := gauge.AxisID(0); axis < gauge.NumAxes; axis++ {
		if kind := cfg.Gauge(axis).Actuator.Kind; kind != cluster.ActuatorSim {
			return nil, fmt.Errorf("%s: actuator %q cannot be simulated", axis, kind)
		}
	}
	return cfg, nil
}

func buildNeedles(cfg *cluster.Config, start int32) ([gauge.NumAxes]*sim.Needle, [gauge.NumAxes]core.StepActuator) {
	var (
		needles   [gauge.NumAxes]*sim.Needle
		actuators [gauge.NumAxes]core.StepActuator
	)
	for axis := gauge.AxisID(0); axis < gauge.NumAxes; axis++ {
		travel := cfg.Gauge(axis).Actuator.SimTravel
		pos := start
		if pos < 0 {
			pos = travel / 2
		}
		needles[axis] = sim.NewNeedle(axis.String(), 0, travel, pos)
		actuators[axis] = needles[axis]
	}
	return needles, actuators
}

// readInput feeds input into the receive queue, retrying while it is full
func readInput(r io.Reader, c *cluster.Cluster, done func()) {
	defer done()
	q := c.Queue()
	br := bufio.NewReader(r)
	for {
		b, err := br.ReadByte()
		if err != nil {
			if err != io.EOF {
				glog.Errorf("input: %v", err)
			}
			// Let queued lines drain and the needles settle before stopping
			for !q.IsEmpty() {
				time.Sleep(time.Millisecond)
			}
			time.Sleep(*linger)
			return
		}
		for q.Free() == 0 {
			time.Sleep(100 * time.Microsecond)
		}
		q.Push(b)
	}
}

// syncWriter serializes replies with glog's own stdout use
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
