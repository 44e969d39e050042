package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/pkg/errors"
	"gopkg.in/urfave/cli.v1"

	"github.com/caio-sobreiro/dicomnode/interfaces"
	"github.com/caio-sobreiro/dicomnode/types"
)

func init() {
	deviceCommands := []cli.Command{
		{
			Name:   "list",
			Usage:  "List registered devices",
			Action: devicesListAction,
			Flags: []cli.Flag{
				cli.BoolFlag{Name: "qr", Usage: "Only devices with query/retrieve enabled"},
				cli.BoolFlag{Name: "store", Usage: "Only devices with store enabled"},
				cli.BoolFlag{Name: "default", Usage: "Only default devices"},
			},
		},
		{
			Name:   "add",
			Usage:  "Register a device",
			Action: devicesAddAction,
			Flags: []cli.Flag{
				cli.StringFlag{Name: "ae", Usage: "Remote AE title"},
				cli.StringFlag{Name: "calling-ae", Usage: "Local AE title used towards this device"},
				cli.StringFlag{Name: "host", Usage: "Host name or address"},
				cli.IntFlag{Name: "qr-port", Usage: "Query/retrieve port", Value: 104},
				cli.IntFlag{Name: "store-port", Usage: "Store port, defaults to the query/retrieve port"},
				cli.BoolTFlag{Name: "qr", Usage: "Enable query/retrieve"},
				cli.BoolTFlag{Name: "store", Usage: "Enable store"},
				cli.StringFlag{Name: "description"},
				cli.StringFlag{Name: "institution"},
				cli.BoolFlag{Name: "default", Usage: "Use when no device is named"},
			},
		},
		{
			Name:      "delete",
			Usage:     "Remove a device",
			ArgsUsage: "id",
			Action:    devicesDeleteAction,
		},
	}

	commands = append(commands, cli.Command{
		Name:        "devices",
		Usage:       "Manage the device database",
		Subcommands: deviceCommands,
	})
}

func devicesListAction(c *cli.Context) error {
	e, err := openEnv(c)
	if err != nil {
		return err
	}
	defer e.Close()

	devices, err := e.store.List(context.Background(), interfaces.DeviceFilter{
		QueryRetrieve: c.Bool("qr"),
		Store:         c.Bool("store"),
		DefaultOnly:   c.Bool("default"),
	})
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tAE TITLE\tADDRESS\tQR\tSTORE\tDEFAULT\tDESCRIPTION")
	for _, d := range devices {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%v\t%s\n",
			d.ID, d.AETitle, d.Address,
			servicePort(d.QueryRetrieveEnabled, d.QueryRetrievePort),
			servicePort(d.StoreEnabled, d.StorePort),
			d.Default, d.Description)
	}
	return w.Flush()
}

func servicePort(enabled bool, port int) string {
	if !enabled {
		return "-"
	}
	return strconv.Itoa(port)
}

func devicesAddAction(c *cli.Context) error {
	e, err := openEnv(c)
	if err != nil {
		return err
	}
	defer e.Close()

	d := types.Device{
		AETitle:              c.String("ae"),
		CallingAETitle:       c.String("calling-ae"),
		Address:              c.String("host"),
		QueryRetrievePort:    c.Int("qr-port"),
		StorePort:            c.Int("store-port"),
		QueryRetrieveEnabled: c.BoolT("qr"),
		StoreEnabled:         c.BoolT("store"),
		Description:          c.String("description"),
		Institution:          c.String("institution"),
		Default:              c.Bool("default"),
	}
	if d.StorePort == 0 {
		d.StorePort = d.QueryRetrievePort
	}
	d, err = e.store.Add(context.Background(), d)
	if err != nil {
		return err
	}
	fmt.Printf("Added device %d (%s)\n", d.ID, d)
	return nil
}

func devicesDeleteAction(c *cli.Context) error {
	id, err := strconv.ParseInt(c.Args().First(), 10, 64)
	if err != nil {
		return errors.Errorf("invalid device id %q", c.Args().First())
	}
	e, err := openEnv(c)
	if err != nil {
		return err
	}
	defer e.Close()
	return e.store.Delete(context.Background(), id)
}

// deviceFlags select the remote device of an operation.
var deviceFlags = []cli.Flag{
	cli.Int64Flag{Name: "device, d", Usage: "Registered device ID; the default device when omitted"},
	cli.StringFlag{Name: "ae", Usage: "Remote AE title of an unregistered device"},
	cli.StringFlag{Name: "host", Usage: "Host of an unregistered device"},
	cli.IntFlag{Name: "port, p", Usage: "Port of an unregistered device", Value: 104},
}

func resolveDevice(c *cli.Context, e *env) (types.Device, error) {
	ctx := context.Background()
	if ae := c.String("ae"); ae != "" {
		return types.Device{
			AETitle:              ae,
			Address:              c.String("host"),
			QueryRetrievePort:    c.Int("port"),
			StorePort:            c.Int("port"),
			QueryRetrieveEnabled: true,
			StoreEnabled:         true,
		}, nil
	}
	if id := c.Int64("device"); id != 0 {
		return e.store.Get(ctx, id)
	}
	defaults, err := e.store.List(ctx, interfaces.DeviceFilter{DefaultOnly: true})
	if err != nil {
		return types.Device{}, err
	}
	if len(defaults) == 0 {
		return types.Device{}, errors.New("no device named and no default device registered")
	}
	return defaults[0], nil
}
