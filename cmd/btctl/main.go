// btctl is a command-line tool for scanning, connecting, exploring and
// pairing over the bthost stack.
package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/airlinklabs/bthost"
	"github.com/airlinklabs/bthost/eir"
	"github.com/airlinklabs/bthost/host"
)

var (
	cfg     profile
	adapter *host.Adapter
	mgr     *host.Manager
)

func main() {
	app := cli.NewApp()

	app.Name = "btctl"
	app.Usage = "BLE central/peripheral control tool"
	app.Version = "0.1.0"
	app.Action = cli.ShowAppHelp
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "config, c", Usage: "YAML profile with defaults"},
		cli.StringFlag{Name: "level, l", Usage: "log level (debug/info/warn/error)"},
		cli.UintFlag{Name: "adapter", Usage: "adapter index"},
		cli.StringFlag{Name: "serial", Usage: "H4 serial port (e.g. /dev/ttyACM0)"},
		cli.StringFlag{Name: "tcp", Usage: "H4 TCP endpoint (host:port)"},
	}

	app.Commands = []cli.Command{
		{
			Name:    "scan",
			Aliases: []string{"s"},
			Usage:   "Scan and print discovered devices",
			Action:  scan,
			Flags: []cli.Flag{
				cli.DurationFlag{Name: "duration, d", Usage: "scan duration"},
				cli.StringFlag{Name: "name, n", Usage: "only report devices with this name"},
				cli.StringFlag{Name: "addr, a", Usage: "only report this address"},
				cli.BoolFlag{Name: "dup", Usage: "report duplicate advertisements"},
				cli.IntFlag{Name: "rssi", Usage: "drop reports weaker than this (dBm)"},
			},
		},
		{
			Name:    "connect",
			Aliases: []string{"c"},
			Usage:   "Connect to a device and report the link",
			Action:  connect,
			Flags:   peerFlags(),
		},
		{
			Name:    "explore",
			Aliases: []string{"e"},
			Usage:   "Connect and dump the GATT service tree",
			Action:  explore,
			Flags: append(peerFlags(),
				cli.DurationFlag{Name: "sub", Usage: "subscribe to notifications for this long"},
			),
		},
		{
			Name:    "advertise",
			Aliases: []string{"adv"},
			Usage:   "Advertise a device name",
			Action:  advertise,
			Flags: []cli.Flag{
				cli.DurationFlag{Name: "duration, d", Usage: "advertising duration"},
				cli.StringFlag{Name: "name, n", Value: "btctl", Usage: "advertised name"},
			},
		},
		{
			Name:   "pair",
			Usage:  "Connect and pair with a device",
			Action: pair,
			Flags: append(peerFlags(),
				cli.StringFlag{Name: "security", Usage: "none/enc-only/enc-auth/enc-auth-fips"},
				cli.StringFlag{Name: "io", Usage: "io capability"},
				cli.UintFlag{Name: "passkey", Value: 0, Usage: "passkey to enter when asked"},
				cli.BoolFlag{Name: "yes", Usage: "auto-confirm numeric comparison"},
			),
		},
	}

	app.Before = setup
	app.After = teardown
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "btctl: %v\n", err)
		os.Exit(1)
	}
}

func peerFlags() []cli.Flag {
	return []cli.Flag{
		cli.StringFlag{Name: "addr, a", Usage: "peer address (aa:bb:cc:dd:ee:ff)"},
		cli.BoolFlag{Name: "random", Usage: "peer uses a random address"},
	}
}

func setup(c *cli.Context) error {
	var err error
	cfg, err = loadProfile(c.GlobalString("config"))
	if err != nil {
		return err
	}
	if c.GlobalIsSet("adapter") {
		cfg.Adapter = uint16(c.GlobalUint("adapter"))
	}
	if s := c.GlobalString("serial"); s != "" {
		cfg.Serial = s
		cfg.TCP = ""
	}
	if s := c.GlobalString("tcp"); s != "" {
		cfg.TCP = s
		cfg.Serial = ""
	}
	if l := c.GlobalString("level"); l != "" {
		cfg.Level = l
	}
	if _, err := logrus.ParseLevel(cfg.Level); err != nil {
		return errors.Wrap(err, "log level")
	}
	bthost.SetLogLevel(cfg.Level)

	adapter, mgr, err = openAdapter(cfg)
	if err != nil {
		return err
	}
	if st := adapter.Initialize(bthost.BTModeLE); st != bthost.StatusSuccess {
		return errors.Errorf("adapter init: %s", st)
	}
	var opts []host.Option
	if cfg.KeyStore != "" {
		opts = append(opts, host.OptKeyPath(cfg.KeyStore))
	}
	if cfg.Cache != "" {
		opts = append(opts, host.OptProfileCachePath(cfg.Cache))
	}
	return adapter.Option(opts...)
}

func teardown(c *cli.Context) error {
	if mgr != nil {
		return mgr.Close()
	}
	if adapter != nil {
		return adapter.Close()
	}
	return nil
}

func duration(c *cli.Context) time.Duration {
	if d := c.Duration("duration"); d != 0 {
		return d
	}
	return cfg.Duration
}

func peerID(c *cli.Context) (bthost.PeerID, error) {
	s := c.String("addr")
	if s == "" {
		return bthost.PeerID{}, errors.New("an --addr is required")
	}
	addr, err := bthost.ParseEUI48(s)
	if err != nil {
		return bthost.PeerID{}, errors.Wrap(err, "peer address")
	}
	typ := bthost.AddrPublic
	if c.Bool("random") {
		typ = bthost.AddrRandom
	}
	return bthost.PeerID{Addr: addr, Type: typ}, nil
}

func scan(c *cli.Context) error {
	wantName := c.String("name")
	wantAddr := strings.ToLower(c.String("addr"))
	dup := c.Bool("dup")

	h := &host.StatusHandler{
		DeviceFound: func(d *host.Device, ts time.Time) bool {
			if wantName != "" && d.Name() != wantName {
				return false
			}
			if wantAddr != "" && d.Peer().Addr.String() != wantAddr {
				return false
			}
			printDevice(d)
			return true
		},
	}
	if dup {
		h.DeviceUpdated = func(d *host.Device, changed eir.DataType, ts time.Time) {
			printDevice(d)
		}
	}
	if err := adapter.AddStatusListener(h); err != nil {
		return err
	}
	defer adapter.RemoveStatusListener(h)
	if c.IsSet("rssi") {
		adapter.SetScanRSSIFloor(true, int8(c.Int("rssi")))
	}

	if st := adapter.StartDiscovery(bthost.DiscoveryAlwaysOn, true, 0, 0, 0, !dup); st != bthost.StatusSuccess {
		return errors.Errorf("start discovery: %s", st)
	}
	fmt.Printf("Scanning for %s...\n", duration(c))
	time.Sleep(duration(c))
	if st := adapter.StopDiscovery(); st != bthost.StatusSuccess {
		return errors.Errorf("stop discovery: %s", st)
	}
	return nil
}

func printDevice(d *host.Device) {
	name := d.Name()
	if name == "" {
		name = "(unknown)"
	}
	fmt.Printf("[%s] %3ddBm %s\n", d.Peer(), d.RSSI(), name)
}

func connectPeer(c *cli.Context) (*host.Device, error) {
	peer, err := peerID(c)
	if err != nil {
		return nil, err
	}
	fmt.Printf("Connecting to %s...\n", peer)
	d, st := adapter.ConnectDevice(peer.Addr, peer.Type)
	if st != bthost.StatusSuccess {
		return nil, errors.Errorf("connect: %s", st)
	}
	return d, nil
}

func connect(c *cli.Context) error {
	d, err := connectPeer(c)
	if err != nil {
		return err
	}
	fmt.Printf("Connected: handle 0x%04x role %s\n", d.ConnHandle(), d.Role())
	if rssi, err := d.ReadRSSI(); err == nil {
		fmt.Printf("RSSI: %ddBm\n", rssi)
	}
	if st := d.Disconnect(); st != bthost.StatusSuccess {
		return errors.Errorf("disconnect: %s", st)
	}
	return nil
}

func explore(c *cli.Context) error {
	d, err := connectPeer(c)
	if err != nil {
		return err
	}
	defer d.Disconnect()

	svcs, st := d.GetGattServices()
	if st != bthost.StatusSuccess {
		return errors.Errorf("service discovery: %s", st)
	}
	sub := c.Duration("sub")
	for _, s := range svcs {
		fmt.Printf("service %s [0x%04x..0x%04x]\n", s.UUID, s.Handle, s.EndHandle)
		for _, ch := range s.Characteristics {
			fmt.Printf("  char %s props 0x%02x value-handle 0x%04x\n", ch.UUID, ch.Property, ch.ValueHandle)
			if ch.Property&bthost.CharRead != 0 {
				if v, err := d.ReadCharacteristic(ch); err == nil {
					fmt.Printf("    value %x | %q\n", v, printable(v))
				}
			}
			for _, desc := range ch.Descriptors {
				fmt.Printf("  desc %s handle 0x%04x\n", desc.UUID, desc.Handle)
			}
			if sub > 0 && ch.Property&(bthost.CharNotify|bthost.CharIndicate) != 0 {
				subscribe(d, ch, sub)
			}
		}
	}
	return nil
}

func subscribe(d *host.Device, ch *bthost.Characteristic, dur time.Duration) {
	l := &host.CharListener{
		Notification: func(c *bthost.Characteristic, value []byte, ts time.Time) {
			fmt.Printf("    notify %s: %x\n", c.UUID, value)
		},
		Indication: func(c *bthost.Characteristic, value []byte, ts time.Time) {
			fmt.Printf("    indicate %s: %x\n", c.UUID, value)
		},
	}
	if err := d.AddCharListenerFor(l, ch); err != nil {
		return
	}
	defer d.RemoveCharListener(l)

	wantN := ch.Property&bthost.CharNotify != 0
	wantI := ch.Property&bthost.CharIndicate != 0
	ok, _, _ := d.ConfigNotificationIndication(ch, wantN, wantI)
	if !ok {
		return
	}
	fmt.Printf("    subscribed to %s for %s\n", ch.UUID, dur)
	time.Sleep(dur)
	d.ConfigNotificationIndication(ch, false, false)
}

func printable(b []byte) string {
	for _, c := range b {
		if c < 0x20 || c > 0x7e {
			return ""
		}
	}
	return string(b)
}

func advertise(c *cli.Context) error {
	rep := &eir.Report{Name: c.String("name"), Set: eir.DataName}
	st := adapter.StartAdvertising(nil, rep, eir.DataFlags|eir.DataName, eir.DataNone, bthost.AdvParams{})
	if st != bthost.StatusSuccess {
		return errors.Errorf("start advertising: %s", st)
	}
	fmt.Printf("Advertising %q for %s...\n", c.String("name"), duration(c))
	time.Sleep(duration(c))
	if st := adapter.StopAdvertising(); st != bthost.StatusSuccess {
		return errors.Errorf("stop advertising: %s", st)
	}
	return nil
}

func pair(c *cli.Context) error {
	level, err := parseSecurity(firstOf(c.String("security"), cfg.Security))
	if err != nil {
		return err
	}
	ioCap, err := parseIOCap(firstOf(c.String("io"), cfg.IOCap))
	if err != nil {
		return err
	}
	if level <= bthost.SecurityNone {
		level = bthost.SecurityEncOnly
	}
	peer, err := peerID(c)
	if err != nil {
		return err
	}

	done := make(chan bthost.PairingState, 1)
	h := &host.StatusHandler{
		DevicePairingState: func(d *host.Device, state bthost.PairingState, mode bthost.PairingMode, ts time.Time) {
			fmt.Printf("pairing: %s (%s)\n", state, mode)
			switch state {
			case bthost.PairingStatePasskeyExpected:
				d.SetPairingPasskey(uint32(c.Uint("passkey")))
			case bthost.PairingStateNumericExpected:
				confirmNumeric(d, c.Bool("yes"))
			case bthost.PairingStateCompleted, bthost.PairingStateFailed:
				select {
				case done <- state:
				default:
				}
			}
		},
	}
	if err := adapter.AddStatusListenerFor(h, peer); err != nil {
		return err
	}
	defer adapter.RemoveStatusListener(h)

	fmt.Printf("Connecting to %s...\n", peer)
	d, st := adapter.ConnectDevice(peer.Addr, peer.Type)
	if st != bthost.StatusSuccess {
		return errors.Errorf("connect: %s", st)
	}
	defer d.Disconnect()

	if st := d.SetConnSecurity(level, ioCap); st != bthost.StatusSuccess {
		return errors.Errorf("set security: %s", st)
	}

	select {
	case state := <-done:
		if state != bthost.PairingStateCompleted {
			return errors.New("pairing failed")
		}
		fmt.Println("Paired.")
		return nil
	case <-time.After(time.Minute):
		return errors.New("pairing timed out")
	}
}

func confirmNumeric(d *host.Device, auto bool) {
	v := d.PairingNumericValue()
	if auto {
		fmt.Printf("confirming %06d\n", v)
		d.SetPairingNumericComparison(true)
		return
	}
	fmt.Printf("compare %06d [y/N]: ", v)
	var answer string
	fmt.Scanln(&answer)
	d.SetPairingNumericComparison(answer == "y" || answer == "Y")
}

func firstOf(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
