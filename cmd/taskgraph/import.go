package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/aristath/taskgraph/internal/scheduler"
)

// taskFile is the document form of an import: either a bare list of tasks
// or an object with a "tasks" key.
type taskFile struct {
	Tasks []*scheduler.Task `json:"tasks" yaml:"tasks"`
}

// decodeTasks parses an import document. YAML is chosen by extension;
// everything else is JSON.
func decodeTasks(path string, data []byte) ([]*scheduler.Task, error) {
	var tasks []*scheduler.Task

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var doc yaml.Node
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		if len(doc.Content) > 0 && doc.Content[0].Kind == yaml.SequenceNode {
			if err := doc.Decode(&tasks); err != nil {
				return nil, fmt.Errorf("parsing %s: %w", path, err)
			}
			break
		}
		var file taskFile
		if err := doc.Decode(&file); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		tasks = file.Tasks

	default:
		trimmed := bytes.TrimSpace(data)
		if len(trimmed) > 0 && trimmed[0] == '[' {
			if err := json.Unmarshal(trimmed, &tasks); err != nil {
				return nil, fmt.Errorf("parsing %s: %w", path, err)
			}
			break
		}
		var file taskFile
		if err := json.Unmarshal(trimmed, &file); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		tasks = file.Tasks
	}

	for i, t := range tasks {
		if t == nil || t.ID == "" {
			return nil, fmt.Errorf("%s: task %d has no id", path, i+1)
		}
		if t.Status != "" && !t.Status.Valid() {
			return nil, fmt.Errorf("%s: task %s has unknown status %q", path, t.ID, t.Status)
		}
	}
	return tasks, nil
}

func importCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Load tasks from a JSON or YAML file into the store",
		Long: `Load tasks from a JSON or YAML file into the store.

The file holds either a list of tasks or an object with a "tasks" list.
Existing tasks with the same id are overwritten. The blocks lists are
recomputed from blockedBy, so only blockedBy needs to be filled in.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading %s: %w", args[0], err)
			}
			tasks, err := decodeTasks(args[0], data)
			if err != nil {
				return err
			}

			return a.run(cmd, func(ctx context.Context, s *session) error {
				n, err := s.engine.Import(ctx, tasks)
				if err != nil {
					return err
				}
				if a.jsonOut {
					return json.NewEncoder(a.out).Encode(map[string]int{"imported": n})
				}
				fmt.Fprintf(a.out, "Imported %d task(s) into %s\n", n, s.cfg.Store.Path)
				return nil
			})
		},
	}
}
