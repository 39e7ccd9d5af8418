// Command sheetload submits camera workbooks to the API and downloads the
// flattened telemetry export.
//
//	sheetload [-server URL] upload  cameras.xlsx
//	sheetload [-server URL] update  cameras.xlsx
//	sheetload [-server URL] preview cameras.xlsx
//	sheetload [-server URL] export  [-camera-ip IP] [-preset N] [-o out.xlsx]
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/JonMunkholm/helios/internal/core"
	"github.com/JonMunkholm/helios/internal/logging"
	"github.com/JonMunkholm/helios/internal/workbook"
)

func main() {
	server := flag.String("server", envOr("HELIOS_URL", "http://localhost:8080"), "API base URL")
	timeout := flag.Duration("timeout", 10*time.Minute, "request timeout")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Usage = usage
	flag.Parse()

	level := "info"
	if *verbose {
		level = "debug"
	}
	logging.SetupWriter(os.Stderr, level, "text")

	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	c := newClient(*server, *timeout)
	args := flag.Args()[1:]

	var err error
	switch cmd := flag.Arg(0); cmd {
	case "upload":
		err = c.submit(args, "upload")
	case "update":
		err = c.submit(args, "update")
	case "preview":
		err = c.submit(args, "preview")
	case "export":
		err = c.export(args)
	default:
		err = fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		slog.Error("sheetload failed", "error", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), "usage: sheetload [flags] upload|update|preview FILE.xlsx\n")
	fmt.Fprintf(flag.CommandLine.Output(), "       sheetload [flags] export [-camera-ip IP] [-preset N] [-o FILE.xlsx]\n\n")
	flag.PrintDefaults()
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

type client struct {
	http *resty.Client
}

func newClient(baseURL string, timeout time.Duration) *client {
	return &client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout).
			SetRetryCount(3).
			SetRetryWaitTime(time.Second).
			SetRetryMaxWaitTime(5*time.Second).
			AddRetryCondition(func(r *resty.Response, err error) bool {
				return err == nil && r.StatusCode() == 503
			}).
			SetHeader("Accept", "application/json"),
	}
}

// apiError mirrors the server's error body.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action"`
	Code    string `json:"code"`
	Sheet   string `json:"sheet"`
	Row     int    `json:"row"`
	Field   string `json:"field"`
}

func (e *apiError) err(status int) error {
	msg := fmt.Sprintf("HTTP %d %s: %s", status, e.Code, e.Error)
	if e.Sheet != "" {
		msg += fmt.Sprintf(" (sheet %q row %d field %s)", e.Sheet, e.Row, e.Field)
	}
	if e.Action != "" {
		msg += ". " + e.Action
	}
	return errors.New(msg)
}

// submit reads a workbook and posts it as an upload, update or preview.
func (c *client) submit(args []string, op string) error {
	if len(args) != 1 {
		return fmt.Errorf("%s needs exactly one workbook", op)
	}
	path := args[0]

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	sheets, err := workbook.Read(f)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	batch := core.Batch{Filename: filepath.Base(path), Sheets: sheets}
	slog.Debug("workbook read", "file", path, "sheets", len(sheets))

	var apiErr apiError
	req := c.http.R().SetBody(batch).SetError(&apiErr)

	var resp *resty.Response
	switch op {
	case "upload":
		resp, err = req.Post("/api/upload-file-data")
	case "update":
		resp, err = req.Put("/api/data/update")
	default:
		resp, err = req.Post("/api/preview")
	}
	if err != nil {
		return fmt.Errorf("failed to call API: %w", err)
	}
	if resp.IsError() {
		return apiErr.err(resp.StatusCode())
	}

	return printJSON(resp.Body())
}

// export downloads the flattened telemetry and writes it as a workbook.
func (c *client) export(args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	cameraIP := fs.String("camera-ip", "", "only this camera")
	preset := fs.Int64("preset", -1, "only this preset number")
	out := fs.String("o", "telemetry.xlsx", "output workbook")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var export core.Export
	var apiErr apiError
	req := c.http.R().SetResult(&export).SetError(&apiErr)
	if *cameraIP != "" {
		req.SetQueryParam("camera_ip", *cameraIP)
	}
	if *preset >= 0 {
		req.SetQueryParam("preset_number", strconv.FormatInt(*preset, 10))
	}

	resp, err := req.Get("/api/data")
	if err != nil {
		return fmt.Errorf("failed to call API: %w", err)
	}
	if resp.IsError() {
		return apiErr.err(resp.StatusCode())
	}

	f, err := os.Create(*out)
	if err != nil {
		return err
	}
	if err := workbook.Write(f, export.Sheets); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", *out, err)
	}
	if err := f.Close(); err != nil {
		return err
	}

	rows := 0
	for _, s := range export.Sheets {
		rows += len(s.Rows)
	}
	slog.Info("export written", "file", *out, "sheets", len(export.Sheets), "rows", rows)
	return nil
}

func printJSON(body []byte) error {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		_, err = os.Stdout.Write(body)
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
