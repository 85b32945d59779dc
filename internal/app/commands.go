package app

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lucia/internal/apply"
	"github.com/dokzlo13/lucia/internal/hue"
	"github.com/dokzlo13/lucia/internal/ledger"
	"github.com/dokzlo13/lucia/internal/pairing"
	"github.com/dokzlo13/lucia/internal/script"
)

// Discover looks for a bridge on the local network. A zero timeout uses the configured one.
func (a *App) Discover(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = a.cfg.Discovery.Timeout.Duration()
	}

	addr, found, err := a.discoverer.Discover(ctx, timeout)
	if err != nil {
		return err
	}
	if !found {
		fmt.Fprintln(a.out, "no bridge found")
		return nil
	}
	fmt.Fprintf(a.out, "found bridge at %s\n", addr)
	return nil
}

// ConfigureRequest holds the parameters of a pairing run. Zero values fall
// back to the configuration.
type ConfigureRequest struct {
	Address      string
	PollInterval time.Duration
	MaxDuration  time.Duration
	DeviceType   string
}

// Configure pairs with the bridge at req.Address and persists the credential.
func (a *App) Configure(ctx context.Context, req ConfigureRequest) error {
	if req.Address == "" {
		return fmt.Errorf("%w: bridge address is required", ErrInvalidRequest)
	}
	if req.PollInterval <= 0 {
		req.PollInterval = a.cfg.Pairing.PollInterval.Duration()
	}
	if req.MaxDuration <= 0 {
		req.MaxDuration = a.cfg.Pairing.MaxDuration.Duration()
	}
	if req.DeviceType == "" {
		req.DeviceType = a.cfg.AppName
	}

	client, err := hue.NewClient(req.Address, hue.WithTimeout(a.cfg.Bridge.Timeout.Duration()))
	if err != nil {
		return err
	}
	defer client.Close()

	opts := append([]pairing.Option{
		pairing.OnAttempt(func(int, error) { fmt.Fprint(a.out, ".") }),
	}, a.pairingOpts...)
	orchestrator, err := pairing.New(client, pairing.Config{
		PollInterval: req.PollInterval,
		MaxDuration:  req.MaxDuration,
	}, opts...)
	if err != nil {
		return err
	}

	fmt.Fprint(a.out, "waiting for the link button to be pushed..")
	res, err := orchestrator.Run(ctx, req.DeviceType)
	fmt.Fprintln(a.out)

	payload := map[string]any{
		"device_type": req.DeviceType,
		"attempts":    res.Attempts,
		"elapsed_ms":  res.Elapsed.Milliseconds(),
		"state":       res.State.String(),
	}
	if err != nil {
		a.services.Record(ledger.Entry{
			EventType:  ledger.EventPairingFailed,
			TargetKind: "bridge",
			TargetID:   req.Address,
			Payload:    payload,
			Error:      err.Error(),
		})
		return fmt.Errorf("pairing with %s failed: %w", req.Address, err)
	}

	a.cfg.Bridge.Address = req.Address
	a.cfg.Bridge.Username = res.Credential.Username
	a.cfg.Bridge.ClientKey = res.Credential.ClientKey
	if err := a.cfg.Save(a.configPath); err != nil {
		return fmt.Errorf("paired, but failed to save configuration: %w", err)
	}

	a.services.Record(ledger.Entry{
		EventType:  ledger.EventPaired,
		TargetKind: "bridge",
		TargetID:   req.Address,
		Payload:    payload,
	})
	log.Info().Str("bridge", req.Address).Str("config", a.configPath).Int("attempts", res.Attempts).Msg("Paired with bridge")
	fmt.Fprintf(a.out, "paired with bridge at %s\n", req.Address)
	return nil
}

// Devices prints every light known to the bridge.
func (a *App) Devices(ctx context.Context) error {
	client, username, err := a.session()
	if err != nil {
		return err
	}
	defer client.Close()

	lights, err := client.Lights(ctx, username)
	if err != nil {
		return fmt.Errorf("unable to list devices: %w", err)
	}
	for _, l := range lights {
		fmt.Fprintf(a.out, "%s: %s (type=%s, on=%t, bri=%d)\n", l.ID, l.Name, l.Type, l.State.On, l.State.Bri)
	}
	return nil
}

// Groups prints every group known to the bridge.
func (a *App) Groups(ctx context.Context) error {
	client, username, err := a.session()
	if err != nil {
		return err
	}
	defer client.Close()

	groups, err := client.Groups(ctx, username)
	if err != nil {
		return fmt.Errorf("unable to list groups: %w", err)
	}
	for _, g := range groups {
		fmt.Fprintf(a.out, "%s: %s (type=%s, on=%t, bri=%d, lights=[%s])\n",
			g.ID, g.Name, g.Type, g.Action.On, g.Action.Bri, strings.Join(g.Lights, ", "))
	}
	return nil
}

// LightRequest describes a `light` command. Nil fields leave the property untouched.
type LightRequest struct {
	Brightness  *float64 // percent
	Temperature *uint16  // kelvin
	Power       *bool
	LightIDs    []string
	GroupIDs    []string
}

// Change converts the request into device units.
func (r LightRequest) Change() (hue.StateChange, error) {
	var change hue.StateChange
	if r.Brightness != nil {
		bri, err := hue.ToDeviceBrightness(*r.Brightness)
		if err != nil {
			return change, err
		}
		change = change.WithBri(bri)
	}
	if r.Temperature != nil {
		ct, err := hue.ToMired(*r.Temperature)
		if err != nil {
			return change, err
		}
		change = change.WithCT(ct)
	}
	if r.Power != nil {
		change = change.WithOn(*r.Power)
	}
	if change.IsEmpty() {
		return change, fmt.Errorf("%w: nothing to change (use -b, -t or -p)", ErrInvalidRequest)
	}
	return change, nil
}

// Targets lists lights first, then groups.
func (r LightRequest) Targets() []apply.Target {
	return append(apply.Lights(r.LightIDs...), apply.Groups(r.GroupIDs...)...)
}

// Light applies the request to each light, then each group, and prints the
// bridge's response per target. Every target is attempted; the returned
// error joins the failures.
func (a *App) Light(ctx context.Context, req LightRequest) error {
	change, err := req.Change()
	if err != nil {
		return err
	}
	targets := req.Targets()
	if len(targets) == 0 {
		return fmt.Errorf("%w: no light or group ids given", ErrInvalidRequest)
	}
	for _, t := range targets {
		if t.ID == "" || strings.HasPrefix(t.ID, "-") {
			return fmt.Errorf("%w: bad %s id %q", ErrInvalidRequest, t.Kind, t.ID)
		}
	}

	client, username, err := a.session()
	if err != nil {
		return err
	}
	defer client.Close()

	report, err := a.services.Applier(client).Apply(ctx, username, targets, change)
	for _, o := range report.Outcomes {
		if o.Err != nil {
			fmt.Fprintf(a.out, "%s: error: %v\n", o.Target, o.Err)
			continue
		}
		fmt.Fprintf(a.out, "%s: %s\n", o.Target, bytes.TrimSpace(o.Result.Raw))
	}
	if err != nil {
		return fmt.Errorf("%d of %d targets failed: %w", len(report.Failed()), len(targets), err)
	}
	return nil
}

// History prints the most recent history entries.
func (a *App) History(limit int) error {
	entries, err := a.services.History(limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(a.out, "no history")
		return nil
	}

	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tEVENT\tTARGET\tDETAILS")
	for _, e := range entries {
		target := strings.TrimSpace(e.TargetKind + " " + e.TargetID)
		details := formatPayload(e.Payload)
		if e.Error != "" {
			details = strings.TrimSpace(details + " error=" + e.Error)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Timestamp.Local().Format(time.RFC3339), e.EventType, target, details)
	}
	return w.Flush()
}

// Script runs a Lua script against the configured bridge.
func (a *App) Script(ctx context.Context, path string) error {
	client, username, err := a.session()
	if err != nil {
		return err
	}
	defer client.Close()

	runner := script.NewRunner(client, a.services.Applier(client), username)
	return runner.RunFile(ctx, path)
}

// session builds a client and returns the stored username.
func (a *App) session() (*hue.Client, string, error) {
	username, err := a.cfg.RequireUsername()
	if err != nil {
		return nil, "", err
	}
	client, err := a.services.Client()
	if err != nil {
		return nil, "", err
	}
	return client, username, nil
}

func formatPayload(payload map[string]any) string {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, payload[k]))
	}
	return strings.Join(parts, " ")
}
