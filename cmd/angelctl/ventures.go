package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ashureev/angel-console/internal/angel"
)

func venturesCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ventures",
		Short: "List or create ventures",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List your ventures",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				sessions, err := a.client.ListSessions(ctx)
				if err != nil {
					return err
				}
				if len(sessions) == 0 {
					fmt.Fprintf(a.out, "No ventures yet. Start one with \"%s ventures create <title>\".\n", appName)
					return nil
				}
				tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tTITLE\tPHASE\tUPDATED")
				for _, s := range sessions {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.ID, s.Title, s.CurrentPhase, s.UpdatedAt.Format("2006-01-02 15:04"))
				}
				return tw.Flush()
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "create <title>",
		Short: "Start a new venture",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				s, err := a.client.CreateSession(ctx, strings.Join(args, " "))
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "Created %s. Continue with \"%s chat %s\".\n", s.ID, appName, s.ID)
				return nil
			})
		},
	})

	return cmd
}

func chatCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chat <venture-id>",
		Short: "Continue a venture conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				m, err := a.machine(ctx, args[0])
				if err != nil {
					return err
				}
				defer m.Close()
				return runREPL(ctx, m, cmd.InOrStdin(), a.out)
			})
		},
	}
}

func roadmapCmd(opts *rootOptions) *cobra.Command {
	var editFile string
	cmd := &cobra.Command{
		Use:   "roadmap <venture-id>",
		Short: "Show or replace a venture roadmap",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if editFile != "" {
					content, err := os.ReadFile(editFile)
					if err != nil {
						return fmt.Errorf("read roadmap: %w", err)
					}
					if err := a.client.UpdateRoadmap(ctx, args[0], string(content)); err != nil {
						return err
					}
					fmt.Fprintln(a.out, "Roadmap saved.")
					return nil
				}
				roadmap, err := a.client.RoadmapPlan(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(a.out, roadmap)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&editFile, "edit", "", "Replace the roadmap with the contents of this file")
	return cmd
}

func taskCmd(opts *rootOptions) *cobra.Command {
	var complete bool
	cmd := &cobra.Command{
		Use:   "task <venture-id>",
		Short: "Show or complete the current implementation task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				task, err := a.client.CurrentTask(ctx, args[0])
				if err != nil {
					return err
				}
				if task == nil {
					fmt.Fprintln(a.out, "All tasks complete.")
					return nil
				}
				if complete {
					if err := a.client.CompleteTask(ctx, args[0], task.ID); err != nil {
						return err
					}
					fmt.Fprintf(a.out, "Completed %q.\n", task.Title)
					if task, err = a.client.CurrentTask(ctx, args[0]); err != nil {
						return err
					}
				}
				renderTask(a.out, task)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&complete, "complete", false, "Mark the current task complete")
	return cmd
}

func agentCmd(opts *rootOptions) *cobra.Command {
	var taskID, query string
	cmd := &cobra.Command{
		Use:       "agent <agent-guidance|research|provider-table> <venture-id>",
		Short:     "Ask a specialized agent",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{string(angel.AgentGuidance), string(angel.AgentResearch), string(angel.AgentProviderTable)},
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, ok := angel.ParseAgentKind(args[0])
			if !ok {
				return fmt.Errorf("unknown agent %q", args[0])
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				reply, err := a.client.Agent(ctx, kind, angel.AgentRequest{SessionID: args[1], TaskID: taskID, Query: query})
				if err != nil {
					return err
				}
				fmt.Fprintln(a.out, reply.Content)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&taskID, "task", "", "Task id (required by agent-guidance and provider-table)")
	cmd.Flags().StringVar(&query, "query", "", "Question for the agent")
	return cmd
}
