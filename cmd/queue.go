package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"soraq/artifact"
	"soraq/batch"
	"soraq/pricing"
	"soraq/queue"
	"soraq/reference"
)

var (
	queueJSON     bool
	addModel      string
	addSize       string
	addSeconds    int
	addReference  string
	addRefVideo   string
	runDownload   bool
	addRun        bool
	moveDirection string
)

// Reference images are held in memory only, so they must be submitted by
// the process that read them.
var errNotPersisted = errors.New("reference images are not saved with the queue; add --run to process the queue now")

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Manage the local generation queue",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued and finished items in order",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		items, err := store.Queue()
		if err != nil {
			return err
		}
		if queueJSON {
			b, _ := json.MarshalIndent(items, "", "  ")
			fmt.Println(string(b))
			return nil
		}
		for i, it := range items {
			printItem(i+1, it)
		}
		return nil
	},
}

var queueAddCmd = &cobra.Command{
	Use:   "add <prompt>",
	Short: "Append a generation to the queue",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		req := queue.Request{
			Prompt:           strings.Join(args, " "),
			Model:            pricing.Tier(addModel),
			Size:             addSize,
			Seconds:          addSeconds,
			ReferenceVideoID: addRefVideo,
		}
		if addReference != "" {
			if req.Reference, err = readReferenceFile(addReference); err != nil {
				return err
			}
			req.ReferenceName = filepath.Base(addReference)
		}
		if req.Reference != nil && !addRun {
			return errNotPersisted
		}
		it, err := a.queue.Enqueue(req)
		if err != nil {
			return err
		}
		fmt.Printf("Queued %s  $%.4f\n", it.ID, it.Cost)
		if addRun {
			return drain(a)
		}
		return nil
	},
}

var queueImportCmd = &cobra.Command{
	Use:   "import <prompt-file>",
	Short: "Queue every line of a prompt file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		lines, err := batch.Parse(f, batch.Defaults{Model: pricing.Tier(addModel), Size: addSize, Seconds: addSeconds})
		if err != nil {
			return err
		}
		if err := loadReferences(lines, filepath.Dir(args[0]), addRun); err != nil {
			return err
		}
		a, err := openApp()
		if err != nil {
			return err
		}

		var total float64
		for _, l := range lines {
			it, err := a.queue.Enqueue(l.Request)
			if err != nil {
				return fmt.Errorf("line %d: %w", l.Number, err)
			}
			total += it.Cost
		}
		fmt.Printf("Queued %d items, estimated $%.4f\n", len(lines), pricing.Round4(total))
		if addRun {
			return drain(a)
		}
		return nil
	},
}

var queueMoveCmd = &cobra.Command{
	Use:   "move <id>",
	Short: "Swap a pending item with its neighbor",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := queue.Direction(moveDirection)
		if dir != queue.Up && dir != queue.Down {
			return fmt.Errorf("direction must be up or down, got %q", moveDirection)
		}
		a, err := openApp()
		if err != nil {
			return err
		}
		return a.queue.Reorder(args[0], dir)
	},
}

var queueRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a pending item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		return a.queue.Remove(args[0])
	},
}

var queueConfirmCmd = &cobra.Command{
	Use:   "confirm <id>",
	Short: "Allow an interrupted item to be submitted again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		return a.queue.Confirm(args[0])
	},
}

var queueClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop completed and failed items",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		fmt.Printf("Removed %d items\n", a.queue.ClearCompleted())
		return nil
	},
}

var queueRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Process the queue in the foreground until nothing is left to submit",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		return drain(a)
	},
}

// drain runs the scheduler in this process until nothing is left to start.
func drain(a *app) error {
	if runDownload {
		retriever, err := artifact.NewRetriever(cfg, a.client)
		if err != nil {
			return err
		}
		a.queue.SetArtifactCollector(retriever)
	}
	a.queue.SetNotifier(func(e queue.Event) {
		switch {
		case e.Status != nil:
			progress := "-"
			if e.Status.Progress != nil {
				progress = fmt.Sprintf("%d%%", *e.Status.Progress)
			}
			fmt.Printf("  %s %s %s\n", e.Status.ID, e.Status.Status, progress)
		case e.Item != nil:
			fmt.Printf("%s %s %s\n", e.Item.ID, e.Item.Status, e.Item.Error)
		}
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	a.queue.Start(ctx)

	every := cfg.PollInterval
	if every <= 0 {
		every = queue.DefaultPollInterval
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			a.queue.Wait()
			fmt.Println("Interrupted; the current item will be resubmitted next time")
			return nil
		case <-ticker.C:
			if idle(a.queue.List()) {
				stop()
				a.queue.Wait()
				fmt.Printf("Queue drained. Total spent: $%.4f\n", a.book.Total())
				return nil
			}
		}
	}
}

// idle reports whether the scheduler has nothing left it may start.
func idle(items []queue.Item) bool {
	for _, it := range items {
		if it.Status == queue.StatusProcessing {
			return false
		}
		if it.Status == queue.StatusPending && !it.Interrupted {
			return false
		}
	}
	return true
}

// loadReferences reads and validates every reference image before anything
// is queued, so a bad line leaves the queue untouched.
func loadReferences(lines []batch.Line, base string, run bool) error {
	prep := reference.NewPreparer(cfg.MaxReferenceSize, cfg.JPEGQuality)
	for i := range lines {
		l := &lines[i]
		if l.ReferencePath == "" {
			continue
		}
		if !run {
			return fmt.Errorf("line %d: %w", l.Number, errNotPersisted)
		}
		path := l.ReferencePath
		if !filepath.IsAbs(path) {
			path = filepath.Join(base, path)
		}
		data, err := readReferenceFile(path)
		if err != nil {
			return fmt.Errorf("line %d: %w", l.Number, err)
		}
		if _, err := prep.Validate(data); err != nil {
			return fmt.Errorf("line %d: %w", l.Number, err)
		}
		l.Request.Reference = data
		l.Request.ReferenceName = filepath.Base(path)
	}
	return nil
}

func readReferenceFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return reference.ReadLimited(f, cfg.MaxReferenceSize)
}

func printItem(n int, it queue.Item) {
	extra := it.Error
	if it.Interrupted {
		extra = "interrupted, run `soraq queue confirm " + it.ID + "` to resubmit"
	}
	fmt.Printf("%2d. %s  %-10s  %-10s %-9s %2ds  $%.4f  %q  %s\n",
		n, it.ID, it.Status, it.Model, it.Size, it.Duration, it.Cost, it.Prompt, extra)
}

func init() {
	queueCmd.PersistentFlags().BoolVar(&queueJSON, "json", false, "JSON output")
	for _, c := range []*cobra.Command{queueAddCmd, queueImportCmd} {
		c.Flags().StringVarP(&addModel, "model", "m", string(pricing.TierSora2), "model tier (sora-2|sora-2-pro)")
		c.Flags().StringVarP(&addSize, "size", "s", "1280x720", "output size WIDTHxHEIGHT")
		c.Flags().IntVarP(&addSeconds, "seconds", "d", 4, "clip length in seconds")
		c.Flags().BoolVar(&addRun, "run", false, "process the queue in the foreground after adding")
		c.Flags().BoolVar(&runDownload, "download", true, "save finished videos to the artifact directory")
	}
	queueAddCmd.Flags().StringVarP(&addReference, "reference", "r", "", "reference image (jpeg, png or webp)")
	queueAddCmd.Flags().StringVar(&addRefVideo, "reference-video", "", "id of a previous video to continue from")
	queueMoveCmd.Flags().StringVar(&moveDirection, "direction", "up", "up or down")
	queueRunCmd.Flags().BoolVar(&runDownload, "download", true, "save finished videos to the artifact directory")

	queueCmd.AddCommand(queueListCmd, queueAddCmd, queueImportCmd, queueMoveCmd,
		queueRemoveCmd, queueConfirmCmd, queueClearCmd, queueRunCmd)
	rootCmd.AddCommand(queueCmd)
}
