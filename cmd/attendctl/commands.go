package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"classledger/internal/attendance"
	"classledger/internal/auth"
	"classledger/internal/config"
	"classledger/internal/logger"
	"classledger/internal/projection"
	"classledger/internal/queue"
	"classledger/internal/store"
)

type cli struct {
	cfg    config.App
	asJSON bool
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "attendctl",
		Short:         "Operate a classledger deployment",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger.Init(cfg.LogLevel, "console")
			c.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().BoolVar(&c.asJSON, "json", false, "print JSON instead of a table")

	root.AddCommand(c.projectCmd(), c.migrateCmd(), c.tokenCmd(), c.reconcileCmd())
	return root
}

func (c *cli) projectCmd() *cobra.Command {
	var attended, total, skip int
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Project attendance for the given counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if attended < 0 || total < 0 || skip < 0 || attended > total {
				return fmt.Errorf("need 0 <= attended <= total and skip >= 0, got attended=%d total=%d skip=%d", attended, total, skip)
			}
			if total > projection.MaxCount || skip > projection.MaxCount {
				return fmt.Errorf("total and skip must not exceed %d", projection.MaxCount)
			}
			summary := projection.Summarize(attended, total)
			scenario := projection.WhatIf(attended, total, skip)
			if c.asJSON {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"summary": summary, "scenario": scenario})
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "attended\t%d/%d\n", summary.Attended, summary.Total)
			fmt.Fprintf(w, "percentage\t%.2f%%\n", summary.Percentage)
			fmt.Fprintf(w, "lectures needed\t%d\n", summary.Needed)
			fmt.Fprintf(w, "can skip\t%d\n", summary.Bunkable)
			if skip > 0 {
				fmt.Fprintf(w, "after skipping %d\t%.2f%%\n", skip, scenario.PercentageAfterSkip)
				fmt.Fprintf(w, "needed to recover\t%d\n", scenario.NeededToRecover)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&attended, "attended", 0, "lectures attended")
	cmd.Flags().IntVar(&total, "total", 0, "lectures held")
	cmd.Flags().IntVar(&skip, "skip", 0, "lectures to skip in the what-if")
	return cmd
}

func (c *cli) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the document table of the configured SQL backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			docs, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer docs.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "%s store ready\n", docs.Backend)
			return nil
		},
	}
}

func (c *cli) tokenCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an access and refresh token for a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			issuer := auth.Issuer{
				Name:       c.cfg.JWTIssuer,
				Key:        c.cfg.JWTSigningKey,
				AccessTTL:  c.cfg.AccessTTL,
				RefreshTTL: c.cfg.RefreshTTL,
			}
			pair, err := issuer.Issue(userID)
			if err != nil {
				return err
			}
			if c.asJSON {
				return writeJSON(cmd.OutOrStdout(), pair)
			}
			fmt.Fprintln(cmd.OutOrStdout(), pair.AccessToken)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id to issue the token for")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func (c *cli) reconcileCmd() *cobra.Command {
	var userID, subjectID string
	var enqueue bool
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Recount a subject's counters from its records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if enqueue {
				return c.enqueue(ctx, cmd.OutOrStdout(), queue.ReconcileJob{UserID: userID, SubjectID: subjectID})
			}

			docs, err := c.open(ctx)
			if err != nil {
				return err
			}
			defer docs.Close()

			subj, changed, err := attendance.NewService(docs).Reconcile(ctx, userID, subjectID)
			if err != nil {
				return err
			}
			if c.asJSON {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"subject": subj, "changed": changed})
			}
			state := "already consistent"
			if changed {
				state = "corrected"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d/%d %s\n", subj.Name, subj.AttendedClasses, subj.TotalClasses, state)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "owner of the subject")
	cmd.Flags().StringVar(&subjectID, "subject", "", "subject id")
	cmd.Flags().BoolVar(&enqueue, "enqueue", false, "publish a job to the redis queue instead of running it here")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func (c *cli) open(ctx context.Context) (*store.DocStore, error) {
	return store.OpenDocStore(ctx, c.cfg, store.TxOptions(c.cfg, nil), logger.Component("store"))
}

func (c *cli) enqueue(ctx context.Context, out io.Writer, job queue.ReconcileJob) error {
	msg, err := queue.NewReconcile(job)
	if err != nil {
		return err
	}
	redisClient := store.NewRedis(c.cfg.RedisAddr, c.cfg.RedisPassword, c.cfg.RedisDB)
	defer redisClient.Close()
	if err := queue.NewRedisQueue(redisClient.Client, c.cfg.QueueKey).Publish(ctx, msg); err != nil {
		return fmt.Errorf("publish reconcile job: %w", err)
	}
	fmt.Fprintf(out, "queued reconcile of %s\n", job.SubjectID)
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
