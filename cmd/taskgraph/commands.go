package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aristath/taskgraph/internal/report"
	"github.com/aristath/taskgraph/internal/scheduler"
)

func validateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the graph for cycles, dangling references and structural smells",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context, s *session) error {
				rep, err := s.engine.Validate(ctx)
				if err != nil {
					return err
				}
				if err := a.emit(rep, func(r *report.Renderer) { r.Validation(rep) }); err != nil {
					return err
				}
				if !rep.Valid {
					return errCheckFailed
				}
				return nil
			})
		},
	}
}

func phasesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "phases",
		Short: "Group the remaining tasks into parallel execution phases",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context, s *session) error {
				schedule, err := s.engine.Phases(ctx)
				if err != nil {
					return err
				}
				return a.emit(schedule, func(r *report.Renderer) { r.Phases(schedule) })
			})
		},
	}
}

func criticalPathCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "critical-path",
		Short: "Print the longest dependency chain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context, s *session) error {
				path, err := s.engine.CriticalPath(ctx)
				if err != nil {
					return err
				}
				return a.emit(path, func(r *report.Renderer) { r.CriticalPath(path) })
			})
		},
	}
}

func readyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ready",
		Short: "List pending tasks whose blockers are all completed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context, s *session) error {
				ready, err := s.engine.Ready(ctx)
				if err != nil {
					return err
				}
				return a.emit(ready, func(r *report.Renderer) { r.Tasks("Ready", ready) })
			})
		},
	}
}

func staleCmd(a *app) *cobra.Command {
	var reset bool

	cmd := &cobra.Command{
		Use:   "stale",
		Short: "List tasks stuck in one status longer than the policy allows",
		Long: `List tasks stuck in one status longer than the policy allows.

With --reset every flagged task is returned to pending and its owner is
cleared. Each reset is logged and recorded in the task history.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context, s *session) error {
				stale := s.engine.Stale
				if reset {
					stale = s.engine.ResetStale
				}
				list, err := stale(ctx)
				if err != nil {
					return err
				}
				return a.emit(list, func(r *report.Renderer) {
					r.Stale(list)
					if reset && len(list) > 0 {
						fmt.Fprintf(a.out, "Reset %d task(s) to pending\n", len(list))
					}
				})
			})
		},
	}

	cmd.Flags().BoolVar(&reset, "reset", false, "Reset every stale task to pending")
	return cmd
}

func conflictsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "conflicts",
		Short: "Report tasks that would touch the same files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context, s *session) error {
				rep, err := s.engine.Conflicts(ctx)
				if err != nil {
					return err
				}
				return a.emit(rep, func(r *report.Renderer) { r.Conflicts(rep) })
			})
		},
	}
}

func gateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "gate <task-id>",
		Short: "Decide whether a task can be dispatched now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context, s *session) error {
				decision, err := s.engine.Gate(ctx, args[0])
				if err != nil {
					return err
				}
				if err := a.emit(decision, func(r *report.Renderer) { r.Decision(decision) }); err != nil {
					return err
				}
				if !decision.CanDispatch {
					return errCheckFailed
				}
				return nil
			})
		},
	}
}

func claimCmd(a *app) *cobra.Command {
	var owner string

	cmd := &cobra.Command{
		Use:   "claim <task-id>",
		Short: "Gate a task and atomically mark it in_progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context, s *session) error {
				task, decision, err := s.engine.Dispatch(ctx, args[0], owner)
				if err != nil {
					if len(decision.Checks) > 0 && !decision.CanDispatch {
						if emitErr := a.emit(decision, func(r *report.Renderer) { r.Decision(decision) }); emitErr != nil {
							return emitErr
						}
					}
					return err
				}
				return a.emit(task, func(r *report.Renderer) {
					r.Tasks("Claimed", []*scheduler.Task{task})
				})
			})
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Owner to record (generated when empty)")
	return cmd
}

func completeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "complete <task-id>",
		Short: "Mark an in_progress task completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context, s *session) error {
				task, err := s.engine.Complete(ctx, args[0])
				if err != nil {
					return err
				}
				return a.emit(task, func(r *report.Renderer) {
					r.Tasks("Completed", []*scheduler.Task{task})
				})
			})
		},
	}
}

func resetCmd(a *app) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "reset <task-id>",
		Short: "Return a task to pending and clear its owner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context, s *session) error {
				task, err := s.engine.Reset(ctx, args[0], reason)
				if err != nil {
					return err
				}
				return a.emit(task, func(r *report.Renderer) {
					r.Tasks("Reset", []*scheduler.Task{task})
				})
			})
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Reason recorded in the task history")
	return cmd
}

func depCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dep",
		Short: "Add or remove a blockedBy edge",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "add <task-id> <blocker-id>",
			Short: "Make a task wait for a blocker",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.run(cmd, func(ctx context.Context, s *session) error {
					if err := s.engine.AddDependency(ctx, args[0], args[1]); err != nil {
						return err
					}
					fmt.Fprintf(a.out, "%s is now blocked by %s\n", args[0], args[1])
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "rm <task-id> <blocker-id>",
			Short: "Remove a blocker from a task",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.run(cmd, func(ctx context.Context, s *session) error {
					if err := s.engine.RemoveDependency(ctx, args[0], args[1]); err != nil {
						return err
					}
					fmt.Fprintf(a.out, "%s is no longer blocked by %s\n", args[0], args[1])
					return nil
				})
			},
		},
	)

	return cmd
}

func historyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "history <task-id>",
		Short: "Show the recorded status transitions of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context, s *session) error {
				transitions, err := s.engine.History(ctx, args[0])
				if err != nil {
					return err
				}
				return a.emit(transitions, func(r *report.Renderer) { r.History(args[0], transitions) })
			})
		},
	}
}

func reportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Run every analysis over one snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context, s *session) error {
				analysis, err := s.engine.Analyze(ctx)
				if err != nil {
					return err
				}
				return a.emit(analysis, func(r *report.Renderer) { r.Analysis(analysis) })
			})
		},
	}
}
