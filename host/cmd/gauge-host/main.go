package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/abiosoft/ishell"
	"github.com/golang/glog"
	"github.com/joho/godotenv"

	"gaugecluster/host/mcu"
	"gaugecluster/host/mqttbridge"
	"gaugecluster/host/serial"
	"gaugecluster/protocol"
)

var (
	device   = flag.String("device", "", "Serial device path (default $GAUGE_DEVICE or /dev/ttyACM0)")
	baud     = flag.Int("baud", protocol.BaudRate, "Baud rate (ignored for USB CDC)")
	broker   = flag.String("mqtt", "", "Forward telemetry from this MQTT broker, e.g. mqtt://host:1883/car/ (default $GAUGE_MQTT)")
	timeout  = flag.Duration("timeout", 2*time.Second, "Reply timeout per command")
	waitBoot = flag.Duration("wait-ready", 0, "Wait this long for the boot banner before accepting commands")
)

const connKey = "$mcu"

func main() {
	// Missing .env is fine; flags and the environment still apply
	_ = godotenv.Load()
	flag.Parse()
	defer glog.Flush()

	dev := firstNonEmpty(*device, os.Getenv("GAUGE_DEVICE"), "/dev/ttyACM0")
	cfg := serial.DefaultConfig(dev)
	cfg.Baud = *baud

	conn := mcu.NewMCU()
	glog.Infof("connecting to cluster on %s", dev)
	if err := conn.ConnectWithConfig(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	if *waitBoot > 0 {
		if err := conn.WaitReady(*waitBoot); err != nil {
			fmt.Fprintf(os.Stderr, "Error: cluster not ready: %v\n", err)
			os.Exit(1)
		}
	}

	if url := firstNonEmpty(*broker, os.Getenv("GAUGE_MQTT")); url != "" {
		bridge := mqttbridge.New(conn)
		if err := bridge.Start(url); err != nil {
			fmt.Fprintf(os.Stderr, "Error: mqtt: %v\n", err)
			os.Exit(1)
		}
		defer bridge.Close()
		glog.Infof("forwarding telemetry from %s", url)
	}

	shell := ishell.New()
	shell.Set(connKey, conn)
	for _, cmd := range commands {
		shell.AddCmd(cmd)
	}

	if args := flag.Args(); len(args) > 0 {
		if err := shell.Process(args...); err != nil {
			glog.Exit(err)
		}
		return
	}
	shell.Println("gauge cluster shell, 'help' for commands")
	shell.Run()
}

var commands = []*ishell.Cmd{
	telemetryCmd(protocol.KeyMPH, "vehicle speed in mph"),
	telemetryCmd(protocol.KeyKMH, "vehicle speed in km/h"),
	telemetryCmd(protocol.KeyRPM, "engine speed"),
	telemetryCmd(protocol.KeyFuel, "fuel level in percent"),
	{
		Name: "raw",
		Help: "LINE - send a line verbatim",
		Func: func(c *ishell.Context) {
			conn := connFrom(c)
			line := ""
			for i, arg := range c.Args {
				if i > 0 {
					line += " "
				}
				line += arg
			}
			if _, err := conn.Write([]byte(line + "\n")); err != nil {
				c.Err(err)
			}
		},
	},
	{
		Name: "sweep",
		Help: "[STEP] [DELAY] - ramp rpm to 8000 and back",
		Func: func(c *ishell.Context) {
			step, delay := 500, 100*time.Millisecond
			if len(c.Args) > 0 {
				if v, err := strconv.Atoi(c.Args[0]); err == nil && v > 0 {
					step = v
				}
			}
			if len(c.Args) > 1 {
				if d, err := time.ParseDuration(c.Args[1]); err == nil {
					delay = d
				}
			}
			conn := connFrom(c)
			for _, rpm := range sweepValues(8000, step) {
				if err := conn.Command(protocol.KeyRPM, int32(rpm), *timeout); err != nil {
					c.Err(err)
					return
				}
				time.Sleep(delay)
			}
			c.Println("OK")
		},
	},
	{
		Name: "listen",
		Help: "DURATION - print cluster output for a while",
		Func: func(c *ishell.Context) {
			d := time.Second
			if len(c.Args) > 0 {
				if v, err := time.ParseDuration(c.Args[0]); err == nil {
					d = v
				}
			}
			deadline := time.After(d)
			for {
				select {
				case r, ok := <-connFrom(c).Replies():
					if !ok {
						c.Err(errors.New("link closed"))
						return
					}
					c.Printf("%q\n", r.Text)
				case <-deadline:
					return
				}
			}
		},
	},
}

func telemetryCmd(key protocol.Key, help string) *ishell.Cmd {
	return &ishell.Cmd{
		Name: key.String(),
		Help: "VALUE - " + help,
		Func: func(c *ishell.Context) {
			if len(c.Args) != 1 {
				c.Err(fmt.Errorf("usage: %s VALUE", key))
				return
			}
			value, err := strconv.ParseInt(c.Args[0], 10, 32)
			if err != nil {
				c.Err(err)
				return
			}
			if err := connFrom(c).Command(key, int32(value), *timeout); err != nil {
				c.Err(err)
				return
			}
			c.Println("OK")
		},
	}
}

func connFrom(c *ishell.Context) *mcu.MCU {
	return c.Get(connKey).(*mcu.MCU)
}

// sweepValues returns 0, step, ... max, ... step, 0
func sweepValues(max, step int) []int {
	var up []int
	for v := 0; v < max; v += step {
		up = append(up, v)
	}
	values := append(up, max)
	for i := len(up) - 1; i >= 0; i-- {
		values = append(values, up[i])
	}
	return values
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
