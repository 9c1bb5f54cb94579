package main

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	prompt "github.com/c-bata/go-prompt"

	"github.com/xtxerr/biostream/internal/baseline"
	"github.com/xtxerr/biostream/internal/catalog"
	"github.com/xtxerr/biostream/internal/derived"
	"github.com/xtxerr/biostream/internal/engine"
	"github.com/xtxerr/biostream/internal/errors"
	"github.com/xtxerr/biostream/internal/session"
	"github.com/xtxerr/biostream/internal/storage/types"
	"github.com/xtxerr/biostream/internal/upload"
	"github.com/xtxerr/biostream/internal/validation"
)

// controller is the orchestrator-facing control surface of the daemon.
type controller struct {
	session  *session.Session
	catalog  *catalog.Catalog
	uploader *upload.Uploader
	onStop   bool
}

func (c *controller) start() error {
	return c.session.Start()
}

func (c *controller) stop(ctx context.Context) {
	recording := false
	for _, st := range c.session.Streamers() {
		if st.State() == engine.StateRunning {
			recording = true
		}
	}
	c.session.Stop()
	if recording && c.onStop && c.uploader != nil {
		if _, err := c.upload(ctx); err != nil {
			log.Error("upload after stop", "error", err)
		}
	}
}

func (c *controller) shutdown() {
	c.stop(context.Background())
	if err := c.session.Close(); err != nil {
		log.Warn("close session", "error", err)
	}
}

func (c *controller) upload(ctx context.Context) ([]string, error) {
	if c.uploader == nil {
		return nil, errors.NewValidation("upload", "uploader disabled")
	}
	return c.uploader.UploadAll(ctx, c.session.Subject(), c.session.Artifacts()...)
}

var commands = []prompt.Suggest{
	{Text: "start", Description: "open containers and start all sensors"},
	{Text: "stop", Description: "stop sensors, close containers, export"},
	{Text: "marker", Description: "marker <tag>: set the event marker"},
	{Text: "condition", Description: "condition <tag>: set the condition"},
	{Text: "compare", Description: "compare [channel]: live vs baseline"},
	{Text: "export", Description: "export containers to CSV now"},
	{Text: "status", Description: "streamer state, rows and derived metrics"},
	{Text: "sessions", Description: "sessions [n]: recent recording sessions"},
	{Text: "upload", Description: "upload containers and exports"},
	{Text: "help", Description: "list commands"},
	{Text: "exit", Description: "stop and quit"},
}

// execute runs one console command and returns its output.
func (c *controller) execute(ctx context.Context, line string) (string, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil
	}
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "start":
		if err := c.start(); err != nil {
			return "", err
		}
		return "recording", nil

	case "stop":
		c.stop(ctx)
		return "stopped", nil

	case "marker", "condition":
		if len(args) == 0 {
			return "", fmt.Errorf("usage: %s <tag>", cmd)
		}
		tag := validation.NormalizeTag(strings.Join(args, " "))
		if err := validation.ValidateTag(tag); err != nil {
			return "", err
		}
		if cmd == "marker" {
			c.session.SetEventMarker(tag)
		} else {
			c.session.SetCondition(tag)
		}
		return fmt.Sprintf("%s = %s", cmd, tag), nil

	case "compare":
		return c.compare(args)

	case "export":
		results, err := c.session.ExportAll(ctx)
		var b strings.Builder
		for _, r := range results {
			fmt.Fprintf(&b, "%s (%d rows)\n", r.CSVPath, r.Rows)
		}
		return strings.TrimRight(b.String(), "\n"), err

	case "status":
		return c.status(), nil

	case "sessions":
		return c.sessions(ctx, args)

	case "upload":
		keys, err := c.upload(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("uploaded %d objects", len(keys)), nil

	case "help":
		var b strings.Builder
		for _, s := range commands {
			fmt.Fprintf(&b, "%-10s %s\n", s.Text, s.Description)
		}
		return strings.TrimRight(b.String(), "\n"), nil
	}
	return "", fmt.Errorf("unknown command %q (try help)", cmd)
}

func (c *controller) compare(args []string) (string, error) {
	var results []baseline.Result

	if len(args) > 0 {
		ch, ok := types.ParseChannelFold(args[0])
		if !ok {
			return "", fmt.Errorf("unknown channel %q", args[0])
		}
		found := false
		for _, st := range c.session.Streamers() {
			r, err := st.CompareBaseline(ch)
			if errors.Is(err, errors.ErrUnknownChannel) {
				continue
			}
			if err != nil {
				return "", err
			}
			found = true
			results = append(results, r)
		}
		if !found {
			return "", fmt.Errorf("no sensor records %s", ch)
		}
	} else {
		for _, st := range c.session.Streamers() {
			rs, err := st.CompareAll()
			if err != nil {
				return "", fmt.Errorf("%s: %w", st.Sensor(), err)
			}
			results = append(results, rs...)
		}
	}

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CHANNEL\tBASELINE\tLIVE\tSTATUS")
	for _, r := range results {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Channel, mean(r.BaselineMean, r.BaselineCount), mean(r.LiveMean, r.LiveCount), r.Status)
	}
	w.Flush()
	return strings.TrimRight(buf.String(), "\n"), nil
}

func mean(v *float64, n int64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.4g (n=%d)", *v, n)
}

func metric(m derived.Metric, unit string) string {
	if !m.Valid {
		return "n/a"
	}
	return fmt.Sprintf("%.3f %s", m.Value, unit)
}

func (c *controller) status() string {
	marker, condition := c.session.Tags().Snapshot()

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "subject %s  event_marker %q  condition %q\n", c.session.Subject(), marker, condition)

	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SENSOR\tSTATE\tROWS\tDROPPED\tHRV\tRESP\tCONTAINER")
	for _, st := range c.session.Streamers() {
		s := st.Stats()
		d := st.Derived()
		dropped := s.Source.Unknown + s.Source.BadPayload + s.Source.Errors + s.Dataset.RowsRejected
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\t%s\n",
			st.Sensor(), s.State, s.Rows, dropped,
			metric(d.HRV, "s"), metric(d.Respiration, "bpm"), s.Path)
	}
	w.Flush()
	return strings.TrimRight(buf.String(), "\n")
}

func (c *controller) sessions(ctx context.Context, args []string) (string, error) {
	if c.catalog == nil {
		return "", errors.NewValidation("catalog", "catalog disabled")
	}
	limit := 10
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return "", fmt.Errorf("invalid count %q", args[0])
		}
		limit = n
	}

	list, err := c.catalog.List(ctx, catalog.Filter{Subject: c.session.Subject(), Limit: limit})
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tSENSOR\tSTATUS\tROWS\tCSV")
	for _, s := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			s.StartedAt.Format(time.DateTime), s.Sensor, s.Status, s.Rows, s.CSVPath)
	}
	w.Flush()
	return strings.TrimRight(buf.String(), "\n"), nil
}

// runConsole runs the interactive prompt until exit or ctx is done.
func runConsole(ctx context.Context, c *controller) {
	executor := func(line string) {
		line = strings.TrimSpace(line)
		if line == "exit" || line == "quit" {
			return
		}
		out, err := c.execute(ctx, line)
		if out != "" {
			fmt.Println(out)
		}
		if err != nil {
			fmt.Println("error:", err)
		}
	}
	completer := func(d prompt.Document) []prompt.Suggest {
		if strings.Contains(d.TextBeforeCursor(), " ") {
			return nil
		}
		return prompt.FilterHasPrefix(commands, d.GetWordBeforeCursor(), true)
	}

	p := prompt.New(executor, completer,
		prompt.OptionPrefix("biostream> "),
		prompt.OptionTitle("biostreamd"),
		prompt.OptionSetExitCheckerOnInput(func(in string, breakline bool) bool {
			in = strings.TrimSpace(in)
			return breakline && (in == "exit" || in == "quit")
		}),
	)

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run()
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
}
