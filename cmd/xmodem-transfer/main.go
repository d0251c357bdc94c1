package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/librescoot/xmodem-transfer/pkg/control"
	xredis "github.com/librescoot/xmodem-transfer/pkg/redis"
	"github.com/librescoot/xmodem-transfer/pkg/transport"
	"github.com/librescoot/xmodem-transfer/pkg/xmodem"
)

const progressKey = "xmodem:transfer"

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "send":
		runSend(os.Args[2:])
	case "receive":
		runReceive(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: xmodem-transfer <send|receive> [flags]")
}

type commonFlags struct {
	port      string
	baud      int
	mode      string
	escape    bool
	logLevel  int
	file      string
	redisAddr string
}

func bindCommonFlags(fs *pflag.FlagSet) *commonFlags {
	c := &commonFlags{}
	fs.StringVarP(&c.port, "port", "d", "/dev/ttyUSB0", "Serial device path")
	fs.IntVarP(&c.baud, "baud", "b", 115200, "Serial baud rate")
	fs.StringVarP(&c.mode, "mode", "m", "crc", "Integrity mode: checksum or crc")
	fs.BoolVarP(&c.escape, "escape", "e", false, "Enable DLE byte-escape framing")
	fs.IntVarP(&c.logLevel, "log-level", "v", 1, "Diagnostic log verbosity (0-3)")
	fs.StringVarP(&c.file, "file", "f", "", "File to send/receive")
	fs.StringVar(&c.redisAddr, "redis-addr", "", "Optional Redis address for transfer progress (host:port)")
	return c
}

func (c *commonFlags) xmodemConfig() (xmodem.Config, error) {
	cfg := xmodem.Config{UseEscape: c.escape, LogLevel: c.logLevel}
	switch c.mode {
	case "checksum":
		cfg.Apply(xmodem.ModeChecksum)
	case "crc":
		cfg.Apply(xmodem.ModeCRC)
	default:
		return cfg, fmt.Errorf("unknown mode %q: want checksum or crc", c.mode)
	}
	cfg.UseEscape = c.escape
	cfg.LogLevel = c.logLevel
	return cfg, nil
}

func connectProgress(addr string) *xredis.Client {
	if addr == "" {
		return nil
	}
	client, err := xredis.New(addr, "", 0)
	if err != nil {
		log.Printf("progress reporting disabled: %v", err)
		return nil
	}
	return client
}

func runSend(args []string) {
	fs := pflag.NewFlagSet("send", pflag.ExitOnError)
	c := bindCommonFlags(fs)
	probe := fs.Bool("probe", false, "Ping the target over the control channel before sending")
	rebootAfter := fs.Bool("reboot-after", false, "Ask the target to reboot over the control channel after a successful send")
	_ = fs.Parse(args)

	if c.file == "" {
		log.Fatalf("send requires --file")
	}
	cfg, err := c.xmodemConfig()
	if err != nil {
		log.Fatalf("%v", err)
	}

	data, err := os.ReadFile(c.file)
	if err != nil {
		log.Fatalf("failed to read %s: %v", c.file, err)
	}

	port, err := transport.NewSerialTransport(transport.SerialConfig{Device: c.port, BaudRate: c.baud})
	if err != nil {
		log.Fatalf("failed to open %s: %v", c.port, err)
	}
	defer port.Close()

	if *probe {
		version, err := control.Ping(port, 2*time.Second)
		if err != nil {
			log.Printf("control probe failed (continuing anyway): %v", err)
		} else {
			log.Printf("target reports version %q", version)
		}
	}

	progress := connectProgress(c.redisAddr)
	if progress != nil {
		defer progress.Close()
		_ = progress.WriteAndPublishString(progressKey, "status", "sending")
		_ = progress.WriteAndPublishInt(progressKey, "bytes_total", len(data))
	}

	log.Printf("Sending %s (%d bytes) over %s at %d baud, mode=%s", c.file, len(data), c.port, c.baud, cfg.Mode)
	start := time.Now()
	ok, err := xmodem.Send(port, cfg, data)
	elapsed := time.Since(start)

	if progress != nil {
		if ok {
			_ = progress.WriteAndPublishString(progressKey, "status", "done")
		} else {
			_ = progress.WriteAndPublishString(progressKey, "status", fmt.Sprintf("failed:%v", err))
		}
	}

	if !ok {
		log.Fatalf("send failed after %s: %v", elapsed, err)
	}
	log.Printf("Send complete in %s", elapsed)

	if *rebootAfter {
		if err := control.Reboot(port, 2*time.Second); err != nil {
			log.Printf("control reboot request failed: %v", err)
		}
	}
}

func runReceive(args []string) {
	fs := pflag.NewFlagSet("receive", pflag.ExitOnError)
	c := bindCommonFlags(fs)
	maxSize := fs.Int64P("max-size", "s", 16*1024*1024, "Maximum bytes to accept")
	_ = fs.Parse(args)

	if c.file == "" {
		log.Fatalf("receive requires --file")
	}
	cfg, err := c.xmodemConfig()
	if err != nil {
		log.Fatalf("%v", err)
	}

	port, err := transport.NewSerialTransport(transport.SerialConfig{Device: c.port, BaudRate: c.baud})
	if err != nil {
		log.Fatalf("failed to open %s: %v", c.port, err)
	}
	defer port.Close()

	progress := connectProgress(c.redisAddr)
	if progress != nil {
		defer progress.Close()
		_ = progress.WriteAndPublishString(progressKey, "status", "receiving")
	}

	out := make([]byte, *maxSize)
	log.Printf("Receiving into %s (up to %d bytes) over %s at %d baud, mode=%s", c.file, *maxSize, c.port, c.baud, cfg.Mode)

	start := time.Now()
	n, err := xmodem.Receive(port, cfg, out, len(out), "xmodem-transfer ready", nil)
	elapsed := time.Since(start)

	if progress != nil {
		if err == nil {
			_ = progress.WriteAndPublishString(progressKey, "status", "done")
			_ = progress.WriteAndPublishInt(progressKey, "bytes_total", n)
		} else {
			_ = progress.WriteAndPublishString(progressKey, "status", fmt.Sprintf("failed:%v", err))
		}
	}

	if err != nil {
		log.Fatalf("receive failed after %s: %v", elapsed, err)
	}

	if err := os.WriteFile(c.file, out[:n], 0644); err != nil {
		log.Fatalf("failed to write %s: %v", c.file, err)
	}
	log.Printf("Receive complete: %d bytes in %s", n, elapsed)
}
