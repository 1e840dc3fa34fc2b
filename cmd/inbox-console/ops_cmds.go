package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/olekukonko/tablewriter"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/noah-isme/tm-inbox-console/internal/dto"
	"github.com/noah-isme/tm-inbox-console/internal/inboxtest"
	"github.com/noah-isme/tm-inbox-console/internal/middleware"
	"github.com/noah-isme/tm-inbox-console/internal/models"
	"github.com/noah-isme/tm-inbox-console/internal/service"
	"github.com/noah-isme/tm-inbox-console/pkg/logger"
	corsmiddleware "github.com/noah-isme/tm-inbox-console/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/tm-inbox-console/pkg/middleware/requestid"
)

func consolidateCmd(get func() *app) *cobra.Command {
	var schedule string
	cmd := &cobra.Command{
		Use:   "consolidate",
		Short: "Promote approved items into the translation memory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := get()
			if schedule == "" {
				_, err := a.newConsolidation(a.notifier).Consolidate(cmd.Context())
				return err
			}
			return a.scheduleConsolidation(cmd.Context(), schedule)
		},
	}
	cmd.Flags().StringVar(&schedule, "schedule", "", `run on a cron schedule, e.g. "*/15 * * * *"`)
	return cmd
}

// scheduleConsolidation enqueues a background run on every tick until ctx ends.
func (a *app) scheduleConsolidation(ctx context.Context, spec string) error {
	svc := a.newConsolidation(a.notifier, service.WithResultCallback(func(o service.ConsolidationOutcome) {
		a.logger.Info("scheduled consolidation finished",
			zap.String("job_id", o.JobID), zap.Int("attempts", o.Attempts), zap.Error(o.Err))
	}))
	svc.Start(ctx)
	defer svc.Stop()

	stopMetrics := a.serveMetrics(nil)
	defer stopMetrics()

	c := cron.New()
	if _, err := c.AddFunc(spec, func() {
		if _, err := svc.Enqueue(); err != nil {
			a.logger.Warn("enqueue consolidation failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	c.Start()
	a.notifier.Notify(service.NoticeInfo, "Consolidation scheduled", spec)
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

func viewsCmd(get func() *app) *cobra.Command {
	cmd := &cobra.Command{Use: "views", Short: "Manage saved filter views"}

	save := &cobra.Command{Use: "save NAME", Short: "Save a filter under NAME", Args: cobra.ExactArgs(1)}
	flags := addFilterFlags(save)
	save.RunE = func(cmd *cobra.Command, args []string) error {
		a := get()
		filter, err := flags.build(cmd, a.cfg.Queue.DefaultPageSize)
		if err != nil {
			return err
		}
		view := models.SavedView{Name: args[0], Query: dto.EncodeFilter(filter).String(), SavedAt: time.Now().UTC()}
		if err := a.views.Save(view); err != nil {
			return err
		}
		a.notifier.Notify(service.NoticeSuccess, "View saved", view.Name+" → ?"+view.Query)
		return nil
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List saved views",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			views, err := get().views.List()
			if err != nil {
				return err
			}
			if len(views) == 0 {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "No saved views.")
				return err
			}
			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.Header("NAME", "LINK", "SAVED")
			for _, v := range views {
				if err := table.Append([]string{v.Name, "?" + v.Query, v.SavedAt.Local().Format(time.DateTime)}); err != nil {
					return err
				}
			}
			return table.Render()
		},
	}

	del := &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a saved view",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			if err := a.views.Delete(args[0]); err != nil {
				return err
			}
			a.notifier.Notify(service.NoticeSuccess, "View deleted", args[0])
			return nil
		},
	}

	open := &cobra.Command{
		Use:   "open NAME",
		Short: "List the items of a saved view",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			view, err := a.views.Get(args[0])
			if err != nil {
				return err
			}
			q, err := dto.ParseFilterQuery(view.Query)
			if err != nil {
				return err
			}
			// Saved links may predate a config change; decode leniently.
			defaults := models.DefaultFilter()
			defaults.Size = a.cfg.Queue.DefaultPageSize
			return a.printPage(cmd, dto.DecodeFilterWith(q, defaults))
		},
	}

	cmd.AddCommand(save, list, del, open)
	return cmd
}

func tagsCmd(get func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tags [PREFIX]",
		Short: "Suggest source tags for the --tag filter",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix := ""
			if len(args) == 1 {
				prefix = args[0]
			}
			tags, err := get().newLookups().SuggestSourceTags(cmd.Context(), prefix)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(tags) == 0 {
				_, err := fmt.Fprintln(out, "No matching source tags.")
				return err
			}
			for _, tag := range tags {
				if _, err := fmt.Fprintln(out, tag); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func exportCmd(get func() *app) *cobra.Command {
	var (
		format  string
		outPath string
		current bool
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export items matching a filter as CSV or PDF",
		Args:  cobra.NoArgs,
	}
	flags := addFilterFlags(cmd)
	cmd.Flags().StringVar(&format, "format", "csv", "csv or pdf")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "output file (defaults to a generated name)")
	cmd.Flags().BoolVar(&current, "page-only", false, "export only the requested page")
	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		a := get()
		filter, err := flags.build(cmd, a.cfg.Queue.DefaultPageSize)
		if err != nil {
			return err
		}
		f, err := service.ParseExportFormat(format)
		if err != nil {
			return err
		}
		svc := service.NewExportService(a.repo, service.ExportConfig{}, a.logger)

		var res *service.ExportResult
		if current {
			page, err := a.repo.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			res, err = svc.ExportPage(filter, page.Items, f)
			if err != nil {
				return err
			}
		} else if res, err = svc.Export(cmd.Context(), filter, f); err != nil {
			return err
		}

		if outPath == "" {
			outPath = res.Filename
		}
		if dir := filepath.Dir(outPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create %s: %w", dir, err)
			}
		}
		if err := os.WriteFile(outPath, res.Payload, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", outPath, err)
		}
		a.notifier.Notify(service.NoticeSuccess, "Export written", fmt.Sprintf("%d items → %s", res.Rows, outPath))
		return nil
	}
	return cmd
}

func devServerCmd(get func() *app) *cobra.Command {
	var (
		port  int
		items int
	)
	cmd := &cobra.Command{
		Use:   "dev-server",
		Short: "Run an in-memory inbox service seeded with sample pairs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := get()
			cfg := a.cfg.DevServer
			if !cmd.Flags().Changed("port") {
				port = cfg.Port
			}
			if !cmd.Flags().Changed("items") && cfg.Seed > 0 {
				items = cfg.Seed
			}
			opts := []inboxtest.Option{
				inboxtest.WithLogger(a.logger),
				inboxtest.WithMiddleware(
					gin.Recovery(),
					reqidmiddleware.Middleware(),
					logger.GinMiddleware(a.logger),
					corsmiddleware.New(cfg.AllowedOrigins),
					middleware.Metrics(a.metrics),
				),
			}
			if a.cfg.API.TokenSecret != "" {
				opts = append(opts, inboxtest.WithTokenSecret(a.cfg.API.TokenSecret))
			}
			fake := inboxtest.New(opts...)
			fake.SeedSample(items, time.Now().UnixNano())

			stopMetrics := a.serveMetrics(nil)
			defer stopMetrics()

			srv := &http.Server{Addr: ":" + strconv.Itoa(port), Handler: fake.Handler(), ReadHeaderTimeout: 5 * time.Second}
			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()
			a.logger.Info("dev server starting", zap.String("addr", srv.Addr), zap.Int("items", items))
			a.notifier.Notify(service.NoticeInfo, "Dev server listening", "http://localhost"+srv.Addr)

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-cmd.Context().Done():
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(ctx)
			}
		},
	}
	cmd.Flags().IntVar(&port, "port", 8090, "listen port")
	cmd.Flags().IntVar(&items, "items", 50, "number of sample pairs")
	return cmd
}
