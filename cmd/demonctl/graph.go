package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/afewell-hh/demon/internal/graph"
)

var (
	graphProject        string
	graphNamespace      string
	graphID             string
	graphParentCommitID string
	graphMutationsJSON  string
	graphTagCommitID    string
	graphLogLimit       int
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "inspect and mutate a tenant's graph commit log",
}

var graphCommitCmd = &cobra.Command{
	Use:   "commit",
	Short: "append a commit to the graph commit log",
	Run: func(cmd *cobra.Command, args []string) {
		var mutations []graph.Mutation
		if graphMutationsJSON != "" {
			if err := json.Unmarshal([]byte(graphMutationsJSON), &mutations); err != nil {
				fail(cmd, exitConfig, fmt.Errorf("invalid --mutations JSON: %w", err))
			}
		}
		commit, err := client().Commit(context.Background(), graphScope(), graphParentCommitID, mutations)
		if err != nil {
			fail(cmd, exitError, err)
		}
		printJSON(cmd, commit)
	},
}

var graphTagCmd = &cobra.Command{
	Use:   "tag <name>",
	Short: "point a tag at a commit, or print the commit a tag points to",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		c := client()
		if graphTagCommitID == "" {
			commitID, err := c.GetTag(ctx, graphScope(), args[0])
			if err != nil {
				fail(cmd, exitError, err)
			}
			printJSON(cmd, map[string]string{"tag": args[0], "commitId": commitID})
			return
		}
		if err := c.Tag(ctx, graphScope(), args[0], graphTagCommitID); err != nil {
			fail(cmd, exitError, err)
		}
		printJSON(cmd, map[string]string{"tag": args[0], "commitId": graphTagCommitID})
	},
}

var graphLogCmd = &cobra.Command{
	Use:   "log",
	Short: "list recent commits for a graph scope",
	Run: func(cmd *cobra.Command, args []string) {
		commits, err := client().ListCommits(context.Background(), graphScope(), graphLogLimit)
		if err != nil {
			fail(cmd, exitError, err)
		}
		printJSON(cmd, commits)
	},
}

func graphScope() graph.Scope {
	return graph.Scope{
		TenantID:  tenantID,
		ProjectID: graphProject,
		Namespace: graphNamespace,
		GraphID:   graphID,
	}
}

func init() {
	for _, c := range []*cobra.Command{graphCommitCmd, graphTagCmd, graphLogCmd} {
		c.Flags().StringVar(&graphProject, "project", "", "graph scope project id")
		c.Flags().StringVar(&graphNamespace, "namespace", "", "graph scope namespace")
		c.Flags().StringVar(&graphID, "graph", "", "graph id within the scope")
	}
	graphCommitCmd.Flags().StringVar(&graphParentCommitID, "parent", "", "parent commit id (empty for the first commit in a scope)")
	graphCommitCmd.Flags().StringVar(&graphMutationsJSON, "mutations", "", "mutations as a JSON array")
	graphTagCmd.Flags().StringVar(&graphTagCommitID, "commit", "", "commit id to tag (omit to look up the tag's current commit)")
	graphLogCmd.Flags().IntVar(&graphLogLimit, "limit", 0, "maximum number of commits to return (0 for server default)")

	graphCmd.AddCommand(graphCommitCmd, graphTagCmd, graphLogCmd)
	rootCmd.AddCommand(graphCmd)
}
