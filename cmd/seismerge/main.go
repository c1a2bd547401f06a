package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rewired-gh/seismerge/internal/config"
	"github.com/rewired-gh/seismerge/internal/eventutil"
	"github.com/rewired-gh/seismerge/internal/graphql"
	"github.com/rewired-gh/seismerge/internal/logger"
	"github.com/rewired-gh/seismerge/internal/models"
	"github.com/rewired-gh/seismerge/internal/push"
	"github.com/rewired-gh/seismerge/internal/push/natsfeed"
)

var (
	configPath string
	cfg        *config.Config

	markFrom string
	markTo   string

	station  models.ReferenceStation
	fkPhase  string
	fkBand   models.FrequencyBand
	fkWindow models.WindowParameters
)

var rootCmd = &cobra.Command{
	Use:   "seismerge",
	Short: "Headless seismic analysis data layer",
	Long: `seismerge loads the events and signal detections of an analysis interval
from the gateway, follows the subscription pushes that extend them, and keeps
the next event open for refinement.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		if err := logger.Init(cfg.Logging.Level, cfg.Logging.Format); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logger.Debug("Configuration loaded from %s", configPath)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Load the interval and follow pushes until interrupted",
	Args:  cobra.NoArgs,
	RunE:  runWatch,
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List the events of the interval",
	Args:  cobra.NoArgs,
	RunE:  runEvents,
}

var openCmd = &cobra.Command{
	Use:   "open <event-id>",
	Short: "Open an event for refinement",
	Args:  cobra.ExactArgs(1),
	RunE:  runOpen,
}

var markCmd = &cobra.Command{
	Use:   "mark <activity-interval-id>",
	Short: "Change the status of an activity interval",
	Args:  cobra.ExactArgs(1),
	RunE:  runMark,
}

var filesCmd = &cobra.Command{
	Use:   "files",
	Short: "List the data-acquisition transfers of the interval",
	Args:  cobra.NoArgs,
	RunE:  runFiles,
}

var stationCmd = &cobra.Command{
	Use:   "station",
	Short: "Manage reference stations",
}

var stationSaveCmd = &cobra.Command{
	Use:   "save <name>",
	Short: "Store a new reference station",
	Args:  cobra.ExactArgs(1),
	RunE:  runStationSave,
}

var fkCmd = &cobra.Command{
	Use:   "fk <signal-detection-id>...",
	Short: "Compute FK spectra for loaded signal detections",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runFk,
}

var offsetsCmd = &cobra.Command{
	Use:   "offsets <event-id> <phase>",
	Short: "Show station offsets that align an event's predicted arrivals",
	Args:  cobra.ExactArgs(2),
	RunE:  runOffsets,
}

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Copy gateway WebSocket pushes onto NATS subjects",
	Args:  cobra.NoArgs,
	RunE:  runRelay,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "configs/config.yaml", "Path to configuration file")

	markCmd.Flags().StringVar(&markFrom, "from", string(models.IntervalNotStarted), "Current interval status")
	markCmd.Flags().StringVar(&markTo, "to", "", "New interval status (required)")
	_ = markCmd.MarkFlagRequired("to")

	f := stationSaveCmd.Flags()
	f.StringVar(&station.Description, "description", "", "Station description")
	f.StringVar(&station.StationType, "type", "", "Station type")
	f.StringVar(&station.Comment, "comment", "", "Comment")
	f.StringVar(&station.Source.OriginatingOrganization, "source", "", "Originating organization")
	f.Float64Var(&station.Latitude, "lat", 0, "Latitude in degrees")
	f.Float64Var(&station.Longitude, "lon", 0, "Longitude in degrees")
	f.Float64Var(&station.Elevation, "elevation", 0, "Elevation in km")
	f.StringSliceVar(&station.Aliases, "alias", nil, "Station alias (repeatable)")
	stationCmd.AddCommand(stationSaveCmd)

	f = fkCmd.Flags()
	f.StringVar(&fkPhase, "phase", "", "Phase to compute for (default: the detection's measured phase)")
	f.Float64Var(&fkBand.MinFrequencyHz, "min-hz", 0.5, "Low end of the frequency band")
	f.Float64Var(&fkBand.MaxFrequencyHz, "max-hz", 2, "High end of the frequency band")
	f.Float64Var(&fkWindow.LeadSeconds, "lead", 1, "Window lead before the arrival in seconds")
	f.Float64Var(&fkWindow.LengthSeconds, "length", 4, "Window length in seconds")
	f.Float64Var(&fkWindow.StepSize, "step", 1, "Window step in seconds")

	rootCmd.AddCommand(watchCmd, eventsCmd, openCmd, markCmd, filesCmd, stationCmd, fkCmd, offsetsCmd, relayCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(cfg, true)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.session.Load(ctx); err != nil {
		return err
	}

	logger.Info("Watching %s for analyst %s (activity %s, transport %s)",
		cfg.Interval(), cfg.Workspace.Analyst, cfg.Workspace.Activity, cfg.Subscription.Transport)
	if err := a.session.Run(ctx); err != nil {
		return err
	}
	logger.Info("Service stopped")
	return nil
}

func runEvents(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(cfg, false)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.session.Load(ctx); err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tTIME\tPREFERRED LOCATION\tANALYSTS")
	for _, e := range a.session.Events() {
		locationID, ok := a.session.PreferredLocationID(e.ID)
		if !ok {
			locationID = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%.3f\t%s\t%v\n",
			e.ID, e.Status, eventutil.PreferredLocationTime(&e), locationID, e.ActiveAnalystUserNames())
	}
	return w.Flush()
}

func runOpen(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(cfg, false)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.session.Load(ctx); err != nil {
		return err
	}

	result := a.session.OpenEvent(ctx, args[0])
	if !result.Found {
		return fmt.Errorf("event %s is not in interval %s", args[0], cfg.Interval())
	}
	if result.Err != nil {
		return fmt.Errorf("event %s opened locally but the gateway update failed: %w", args[0], result.Err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "opened %s (mutation sent: %t)\n", args[0], result.MutationSent)
	return nil
}

func runMark(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(cfg, false)
	if err != nil {
		return err
	}
	defer a.close()

	interval, err := a.session.MarkActivityInterval(ctx, args[0], models.IntervalStatus(markFrom), models.IntervalStatus(markTo))
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", interval.ID, interval.Status)
	return nil
}

func runFiles(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(cfg, false)
	if err != nil {
		return err
	}
	defer a.close()

	files, err := a.session.TransferredFiles(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "FILE\tPRIORITY\tSTATUS\tTRANSFERRED\tCHANNELS")
	for _, f := range files {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", f.FileName, f.Priority, f.TransferStatus, f.TransferTime, len(f.Metadata.ChannelNames))
	}
	return w.Flush()
}

func runStationSave(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(cfg, false)
	if err != nil {
		return err
	}
	defer a.close()

	now := time.Now().UTC().Format(time.RFC3339)
	station.Name = args[0]
	station.ActualChangeTime = now
	station.SystemChangeTime = now
	station.Source.InformationTime = now

	ok, err := a.session.SaveReferenceStation(ctx, station)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("gateway did not store station %s", station.Name)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "saved station %s\n", station.Name)
	return nil
}

func runFk(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(cfg, false)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.session.Load(ctx); err != nil {
		return err
	}

	detections := a.session.Detections()
	inputs := make([]models.FkInput, 0, len(args))
	for _, id := range args {
		sd, ok := findDetection(detections, id)
		if !ok {
			return fmt.Errorf("signal detection %s is not loaded; check workspace.stations", id)
		}
		phase := fkPhase
		if phase == "" {
			if measured, ok := eventutil.Phase(sd); ok {
				phase = measured.Phase
			}
		}
		inputs = append(inputs, models.FkInput{
			StationID:                   sd.StationID,
			SignalDetectionID:           sd.ID,
			SignalDetectionHypothesisID: sd.CurrentHypothesis.ID,
			PhaseType:                   phase,
			FrequencyBand:               fkBand,
			WindowParams:                fkWindow,
		})
	}

	updated, err := a.session.ComputeFks(ctx, inputs)
	if err != nil {
		return err
	}
	for _, sd := range updated {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: hypothesis %s, %d measurements\n", sd.ID, sd.CurrentHypothesis.ID, len(sd.CurrentHypothesis.FeatureMeasurements))
	}
	return nil
}

func findDetection(detections []models.SignalDetection, id string) (*models.SignalDetection, bool) {
	for i := range detections {
		if detections[i].ID == id {
			return &detections[i], true
		}
	}
	return nil, false
}

func runOffsets(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(cfg, false)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.session.Load(ctx); err != nil {
		return err
	}

	offsets, ok := a.session.EventOffsets(args[0], args[1])
	if !ok {
		return fmt.Errorf("event %s has no preferred location solution in interval %s", args[0], cfg.Interval())
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STATION\tOFFSET")
	for _, o := range offsets {
		fmt.Fprintf(w, "%s\t%.3f\n", o.StationID, o.Offset)
	}
	return w.Flush()
}

func runRelay(cmd *cobra.Command, args []string) error {
	if cfg.Gateway.WSURL == "" || cfg.Subscription.NATSURL == "" {
		return fmt.Errorf("relay needs both gateway.ws_url and subscription.nats_url")
	}

	ctx, cancel := signalContext()
	defer cancel()

	nc, err := natsfeed.Connect(natsConfig(cfg))
	if err != nil {
		return err
	}
	defer nc.Close()

	feed := natsfeed.New(nc, cfg.Subscription.SubjectPrefix)
	src := graphql.NewSubscriptionClient(cfg.Gateway.WSURL, cfg.Gateway.AckTimeout)

	g, gctx := errgroup.WithContext(ctx)
	subs := []push.Subscription{followed.EventsCreated, followed.DetectionsCreated, followed.WaveformChannelSegmentsAdded, followed.QcMasksCreated}
	for _, sub := range subs {
		sub := sub
		g.Go(func() error {
			logger.Info("Relaying %s to %s", sub.Name, feed.Subject(sub.Name))
			err := feed.Relay(gctx, src, sub)
			if err != nil && gctx.Err() == nil {
				return fmt.Errorf("relay of %s stopped: %w", sub.Name, err)
			}
			return nil
		})
	}
	return g.Wait()
}
