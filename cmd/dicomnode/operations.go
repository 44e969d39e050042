package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"gopkg.in/urfave/cli.v1"

	"github.com/caio-sobreiro/dicomnode/dicom"
	"github.com/caio-sobreiro/dicomnode/jobs"
	"github.com/caio-sobreiro/dicomnode/query"
	"github.com/caio-sobreiro/dicomnode/retrieve"
	"github.com/caio-sobreiro/dicomnode/send"
	"github.com/caio-sobreiro/dicomnode/status"
	"github.com/caio-sobreiro/dicomnode/types"
)

// queryKeys maps query flags to the attributes they match on.
var queryKeys = []struct {
	flag string
	tag  dicom.Tag
}{
	{"patient-id", dicom.TagPatientID},
	{"patient-name", dicom.TagPatientName},
	{"study-date", dicom.TagStudyDate},
	{"accession", dicom.TagAccessionNumber},
	{"study-uid", dicom.TagStudyInstanceUID},
	{"modality", dicom.TagModality},
	{"series-uid", dicom.TagSeriesInstanceUID},
}

func init() {
	queryFlags := append([]cli.Flag{
		cli.StringFlag{Name: "level, l", Usage: "Force the query level (STUDY, SERIES or IMAGE)"},
	}, deviceFlags...)
	for _, k := range queryKeys {
		queryFlags = append(queryFlags, cli.StringFlag{Name: k.flag, Usage: "Match on " + k.tag.String()})
	}

	commands = append(commands,
		cli.Command{
			Name:   "echo",
			Usage:  "Test the connection to a device with C-ECHO",
			Action: echoAction,
			Flags:  deviceFlags,
		},
		cli.Command{
			Name:   "query",
			Usage:  "Search a device with C-FIND",
			Action: queryAction,
			Flags:  queryFlags,
		},
		cli.Command{
			Name:   "retrieve",
			Usage:  "Move a study, series or instance into local storage",
			Action: retrieveAction,
			Flags: append([]cli.Flag{
				cli.StringFlag{Name: "study", Usage: "Study instance UID"},
				cli.StringFlag{Name: "series", Usage: "Series instance UID"},
				cli.StringFlag{Name: "instance", Usage: "SOP instance UID"},
			}, deviceFlags...),
		},
		cli.Command{
			Name:      "send",
			Usage:     "Store Part 10 files on a device",
			ArgsUsage: "path [path...]",
			Action:    sendAction,
			Flags:     deviceFlags,
		},
	)
}

func echoAction(c *cli.Context) error {
	e, err := openEnv(c)
	if err != nil {
		return err
	}
	defer e.Close()
	device, err := resolveDevice(c, e)
	if err != nil {
		return err
	}

	j := jobs.NewEchoJob(e.negotiator(), device)
	e.run(j)
	fmt.Printf("%s: %s\n", device, j.Result())
	if j.Result().Outcome != status.EchoOk {
		return errors.New("echo failed")
	}
	return nil
}

func queryAction(c *cli.Context) error {
	e, err := openEnv(c)
	if err != nil {
		return err
	}
	defer e.Close()
	device, err := resolveDevice(c, e)
	if err != nil {
		return err
	}

	tmpl := query.NewTemplate()
	for _, k := range queryKeys {
		if v := c.String(k.flag); v != "" {
			if err := tmpl.Set(k.tag, v); err != nil {
				return err
			}
		}
	}
	if level := c.String("level"); level != "" {
		if err := tmpl.SetLevel(types.QueryLevel(strings.ToUpper(level))); err != nil {
			return err
		}
	}

	j := jobs.NewQueryJob(e.negotiator(), device, tmpl)
	e.run(j)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	switch tmpl.Level() {
	case types.QueryLevelImage:
		fmt.Fprintln(w, "STUDY UID\tSERIES UID\tSOP INSTANCE UID\tNUMBER")
		for _, im := range j.Images() {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", im.StudyInstanceUID, im.SeriesInstanceUID, im.SOPInstanceUID, im.InstanceNumber)
		}
	case types.QueryLevelSeries:
		fmt.Fprintln(w, "STUDY UID\tSERIES UID\tMODALITY\tNUMBER\tDESCRIPTION")
		for _, s := range j.Series() {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", s.StudyInstanceUID, s.InstanceUID, s.Modality, s.Number, s.Description)
		}
	default:
		fmt.Fprintln(w, "PATIENT ID\tNAME\tDATE\tMODALITIES\tSTUDY UID\tDESCRIPTION")
		for _, s := range j.Studies() {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", s.Patient.ID, s.Patient.Name, s.Date, s.ModalitiesInStudy, s.InstanceUID, s.Description)
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "%s\n", j.Result())
	return nil
}

func retrieveAction(c *cli.Context) error {
	e, err := openEnv(c)
	if err != nil {
		return err
	}
	defer e.Close()
	device, err := resolveDevice(c, e)
	if err != nil {
		return err
	}

	j := jobs.NewRetrieveJob(e.negotiator(), device, c.String("study"), c.String("series"), c.String("instance"),
		retrieve.WithLogger(e.logger),
		retrieve.WithObjectHandler(func(obj types.StoredObject, received int) {
			fmt.Printf("%4d %s (%s)\n", received, obj.Path, humanize.IBytes(uint64(obj.Size)))
		}))
	e.run(j)
	fmt.Fprintf(os.Stderr, "%s\n", j.Result())
	if j.Result().Outcome != status.RetrieveOk {
		return errors.New("retrieve did not complete")
	}
	return nil
}

func sendAction(c *cli.Context) error {
	if len(c.Args()) == 0 {
		return errors.New("no files to send")
	}
	e, err := openEnv(c)
	if err != nil {
		return err
	}
	defer e.Close()
	device, err := resolveDevice(c, e)
	if err != nil {
		return err
	}

	j := jobs.NewSendJob(e.negotiator(), device, c.Args(),
		send.WithLogger(e.logger),
		send.WithFileHandler(func(path string, index, total int, st status.FileStatus) {
			fmt.Printf("[%d/%d] %s %s\n", index, total, st, path)
		}))
	e.run(j)
	fmt.Fprintf(os.Stderr, "%s\n", j.Result())
	switch j.Result().Outcome {
	case status.SendOk, status.SendWarningForSome:
		return nil
	default:
		return errors.New("send did not complete")
	}
}
