package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/noah-isme/tm-inbox-console/internal/dto"
	"github.com/noah-isme/tm-inbox-console/internal/models"
	"github.com/noah-isme/tm-inbox-console/internal/service"
	"github.com/noah-isme/tm-inbox-console/internal/tui"
	appErrors "github.com/noah-isme/tm-inbox-console/pkg/errors"
)

func tuiCmd(get func() *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tui",
		Short: "Open the interactive review console",
		Args:  cobra.NoArgs,
	}
	flags := addFilterFlags(cmd)
	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		a := get()
		filter, err := flags.build(cmd, a.cfg.Queue.DefaultPageSize)
		if err != nil {
			return err
		}
		notices := service.NewNoticeBuffer()
		notifier := service.MultiNotifier{notices, service.NewLogNotifier(a.logger)}
		queue := a.newQueueWithFilter(notifier, filter)
		stopMetrics := a.serveMetrics(queue)
		defer stopMetrics()

		return tui.Run(cmd.Context(), tui.Deps{
			Queue:         queue,
			Bulk:          a.newBulk(queue, notifier),
			Consolidation: a.newConsolidation(notifier),
			Lookups:       a.newLookups(),
			Notices:       notices,
			Debounce:      a.cfg.Queue.DebounceInterval,
			Logger:        a.logger,
		})
	}
	return cmd
}

func listCmd(get func() *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print one page of review items",
		Args:  cobra.NoArgs,
	}
	flags := addFilterFlags(cmd)
	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		a := get()
		filter, err := flags.build(cmd, a.cfg.Queue.DefaultPageSize)
		if err != nil {
			return err
		}
		return a.printPage(cmd, filter)
	}
	return cmd
}

func (a *app) printPage(cmd *cobra.Command, filter models.FilterState) error {
	queue := a.newQueueWithFilter(a.notifier, filter)
	defer queue.Close()
	if err := queue.Refresh(cmd.Context()); err != nil {
		return err
	}
	snap := queue.Snapshot()
	out := cmd.OutOrStdout()
	if err := renderItems(out, snap.Page.Items); err != nil {
		return err
	}
	fmt.Fprintf(out, "page %d/%d · %d items · ?%s\n", snap.Page.Page, max(snap.Page.TotalPages, 1), snap.Page.TotalItems, snap.Link().String())
	return nil
}

func renderItems(out io.Writer, items []models.ReviewItem) error {
	if len(items) == 0 {
		_, err := fmt.Fprintln(out, "No items match this filter.")
		return err
	}
	table := tablewriter.NewWriter(out)
	table.Header("ID", "STATUS", "QUALITY", "SOURCE", "TARGET", "TAG", "REVIEWER")
	for _, item := range items {
		row := []string{
			strconv.FormatInt(item.ID, 10),
			string(item.Status),
			formatQuality(item.Quality),
			clip(item.Src, 48),
			clip(item.Tgt, 48),
			deref(item.SourceTag),
			deref(item.Reviewer),
		}
		if err := table.Append(row); err != nil {
			return err
		}
	}
	return table.Render()
}

func reviewCmd(get func() *app, action string) *cobra.Command {
	target := models.ReviewStatusApproved
	if action == "reject" {
		target = models.ReviewStatusRejected
	}
	var note string
	cmd := &cobra.Command{
		Use:   action + " ID",
		Short: fmt.Sprintf("%s one item on the current page", capitalize(action)),
		Args:  cobra.ExactArgs(1),
	}
	flags := addFilterFlags(cmd)
	cmd.Flags().StringVar(&note, "note", "", "review note")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		a := get()
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		filter, err := flags.build(cmd, a.cfg.Queue.DefaultPageSize)
		if err != nil {
			return err
		}
		queue := a.newQueueWithFilter(a.notifier, filter)
		defer queue.Close()
		if err := queue.Refresh(cmd.Context()); err != nil {
			return err
		}
		_, err = queue.Review(cmd.Context(), id, target, note)
		return err
	}
	return cmd
}

func bulkCmd(get func() *app, action string) *cobra.Command {
	bulkAction := service.BulkApprove
	if action == "reject" {
		bulkAction = service.BulkReject
	}
	var (
		note string
		all  bool
		yes  bool
	)
	cmd := &cobra.Command{
		Use:   "bulk-" + action + " [ID...]",
		Short: fmt.Sprintf("Bulk %s selected items of the current page", action),
	}
	flags := addFilterFlags(cmd)
	cmd.Flags().StringVar(&note, "note", "", "note attached to every item")
	cmd.Flags().BoolVar(&all, "all", false, "select every visible item")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		a := get()
		filter, err := flags.build(cmd, a.cfg.Queue.DefaultPageSize)
		if err != nil {
			return err
		}
		queue := a.newQueueWithFilter(a.notifier, filter)
		defer queue.Close()
		if err := queue.Refresh(cmd.Context()); err != nil {
			return err
		}

		if all {
			queue.SelectAll()
		}
		ids := make([]int64, 0, len(args))
		for _, raw := range args {
			id, err := parseID(raw)
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		queue.Select(ids...)
		for _, id := range ids {
			if _, ok := queue.Item(id); !ok {
				a.notifier.Notify(service.NoticeInfo, "Skipped", fmt.Sprintf("Item #%d is not on the current page.", id))
			}
		}

		bulk := a.newBulk(queue, a.notifier)
		if err := bulk.Open(bulkAction); err != nil {
			return err
		}
		if err := bulk.SetNote(note); err != nil {
			return err
		}
		if !yes {
			prompt := fmt.Sprintf("%s %d items %v? [y/N] ", capitalize(action), len(queue.Selected()), queue.Selected())
			if !confirm(cmd.InOrStdin(), cmd.OutOrStdout(), prompt) {
				return bulk.Cancel()
			}
		}
		_, err = bulk.Confirm(cmd.Context())
		return err
	}
	return cmd
}

func linkCmd(get func() *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "link",
		Short: "Print the normalised shareable link for a filter",
		Args:  cobra.NoArgs,
	}
	flags := addFilterFlags(cmd)
	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		filter, err := flags.build(cmd, get().cfg.Queue.DefaultPageSize)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), "?"+dto.EncodeFilter(filter).String())
		return err
	}
	return cmd
}

func (a *app) newQueueWithFilter(notifier service.Notifier, filter models.FilterState) *service.ReviewQueue {
	return service.NewReviewQueue(a.repo,
		service.WithNotifier(notifier),
		service.WithQueueMetrics(a.metrics),
		service.WithQueueLogger(a.logger),
		service.WithReviewer(a.reviewer()),
		service.WithInitialFilter(filter))
}

func confirm(in io.Reader, out io.Writer, prompt string) bool {
	fmt.Fprint(out, prompt)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(raw, "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid item id %q", raw))
	}
	return id, nil
}

func formatQuality(q *float64) string {
	if q == nil {
		return "-"
	}
	return strconv.FormatFloat(*q, 'f', 2, 64)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
