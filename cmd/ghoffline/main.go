// Package main provides the CLI entrypoint for ghoffline.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jverre/ghoffline/internal/assets"
	"github.com/jverre/ghoffline/internal/gh"
	"github.com/jverre/ghoffline/internal/logger"
	"github.com/jverre/ghoffline/internal/store"
	"github.com/jverre/ghoffline/internal/sync"
	"github.com/jverre/ghoffline/internal/view"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var (
	flagLogLevel string
	flagFullSync bool
	flagBody     string
	flagLabels   []string
)

var rootCmd = &cobra.Command{
	Use:   "ghoffline",
	Short: "Offline cache for GitHub issues",
	Long: `ghoffline keeps a durable local snapshot of a repository's issues and
comments, queues replies, state toggles, label edits and new issues while
offline, and reconciles the queue against GitHub on the next sync.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := logger.ParseLevel(flagLogLevel)
		if err != nil {
			return err
		}
		logger.SetLevel(level)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "warn", "log level: debug, info, warn, error")

	syncCmd.Flags().BoolVar(&flagFullSync, "full", false, "force a full sync instead of an incremental one")
	newCmd.Flags().StringVar(&flagBody, "body", "", "issue body")
	newCmd.Flags().StringSliceVar(&flagLabels, "label", nil, "label to apply (repeatable)")

	rootCmd.AddCommand(addCmd, removeCmd, reposCmd, syncCmd, issuesCmd, showCmd,
		replyCmd, closeCmd, reopenCmd, labelCmd, newCmd, queueCmd, searchCmd, whoamiCmd)
}

// dataDir returns ~/.cache/ghoffline, creating it when missing.
func dataDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	dir := filepath.Join(homeDir, ".cache", "ghoffline")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	return dir, nil
}

// openStore opens the SQLite store under the data directory.
func openStore() (*store.Store, string, error) {
	dir, err := dataDir()
	if err != nil {
		return nil, "", err
	}
	st, err := store.Open(filepath.Join(dir, "ghoffline.db"))
	if err != nil {
		return nil, "", fmt.Errorf("failed to open store: %w", err)
	}
	return st, dir, nil
}

// newClient builds an authenticated API client.
func newClient() (*gh.Client, error) {
	token, err := gh.GetToken()
	if err != nil {
		return nil, fmt.Errorf("failed to get GitHub token: %w\nRun 'gh auth login' to authenticate", err)
	}
	return gh.New(token), nil
}

// runSync drives one sync of a repository with progress printed to stdout.
func runSync(engine *sync.Engine, repoKey string, full bool) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		var lastPhase sync.Phase
		for ev := range engine.Events() {
			if ev.Phase != lastPhase {
				if lastPhase != "" {
					fmt.Println()
				}
				fmt.Printf("%s", ev.Phase)
				lastPhase = ev.Phase
			}
			if ev.Total > 0 {
				fmt.Printf("\r%s (%d/%d)", ev.Phase, ev.Item, ev.Total)
			}
		}
		if lastPhase != "" {
			fmt.Println()
		}
	}()

	var err error
	if full {
		err = engine.FullSync(repoKey)
	} else {
		err = engine.IncrementalSync(repoKey)
	}
	// Progress channel is owned by the engine; just give the printer a
	// moment to drain what was emitted.
	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
	}
	fmt.Println()
	return err
}

// parseRepoArg validates an owner/repo argument.
func parseRepoArg(arg string) (store.Repository, error) {
	return store.ParseRepoKey(arg)
}

var addCmd = &cobra.Command{
	Use:   "add <owner/repo>",
	Short: "Track a repository for offline use",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := parseRepoArg(args[0])
		if err != nil {
			return err
		}
		st, _, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.AddRepository(repo); err != nil {
			return err
		}
		fmt.Printf("added %s, run 'ghoffline sync %s' to fetch it\n", repo.Key(), repo.Key())
		return nil
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove <owner/repo>",
	Short: "Stop tracking a repository and delete its offline data",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := parseRepoArg(args[0])
		if err != nil {
			return err
		}
		st, _, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.RemoveRepository(repo); err != nil {
			return err
		}
		fmt.Printf("removed %s\n", repo.Key())
		return nil
	},
}

var reposCmd = &cobra.Command{
	Use:   "repos",
	Short: "List tracked repositories",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, _, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		repos, err := st.ListRepositories()
		if err != nil {
			return err
		}
		if len(repos) == 0 {
			fmt.Println("no repositories tracked, use 'ghoffline add owner/repo'")
			return nil
		}

		for _, repo := range repos {
			key := repo.Key()
			issues, err := st.ListIssues(key)
			if err != nil {
				return err
			}
			synced := "never synced"
			if last, ok, err := st.LastSynced(key); err == nil && ok {
				synced = "synced " + humanize.Time(last)
			}
			fmt.Printf("%s\t%d issues\t%s\n", key, len(issues), synced)
		}
		return nil
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync <owner/repo>",
	Short: "Publish queued mutations and pull remote changes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := parseRepoArg(args[0])
		if err != nil {
			return err
		}
		st, dir, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		client, err := newClient()
		if err != nil {
			return err
		}

		assetCache := assets.New(st, filepath.Join(dir, "assets"))
		engine := sync.NewEngine(st, client, assetCache)

		if err := runSync(engine, repo.Key(), flagFullSync); err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}
		fmt.Printf("synced %s\n", repo.Key())
		return nil
	},
}

var issuesCmd = &cobra.Command{
	Use:   "issues <owner/repo>",
	Short: "List cached issues with queued mutations applied",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := parseRepoArg(args[0])
		if err != nil {
			return err
		}
		st, _, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		key := repo.Key()
		issues, err := st.ListIssues(key)
		if err != nil {
			return err
		}

		resolver := view.NewResolver(st)
		for _, issue := range issues {
			state, err := resolver.EffectiveState(key, issue.Number, issue.State)
			if err != nil {
				return err
			}
			fmt.Printf("#%d\t%s\t%s\n", issue.Number, state, issue.Title)
		}
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show <owner/repo> <number>",
	Short: "Show a cached issue with queued mutations applied",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := parseRepoArg(args[0])
		if err != nil {
			return err
		}
		var number int
		if _, err := fmt.Sscanf(args[1], "%d", &number); err != nil {
			return fmt.Errorf("invalid issue number %q", args[1])
		}

		st, _, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		key := repo.Key()
		issue, err := st.GetIssue(key, number)
		if err != nil {
			return err
		}
		if issue == nil {
			return fmt.Errorf("issue #%d not found in offline cache for %s", number, key)
		}

		resolver := view.NewResolver(st)
		state, err := resolver.EffectiveState(key, number, issue.State)
		if err != nil {
			return err
		}
		labels, err := resolver.EffectiveLabels(key, number, issue.Labels)
		if err != nil {
			return err
		}

		fmt.Printf("#%d %s [%s] by %s\n", issue.Number, issue.Title, state, issue.Author)
		if len(labels) > 0 {
			names := make([]string, len(labels))
			for i, l := range labels {
				names[i] = l.Name
			}
			fmt.Printf("labels: %s\n", strings.Join(names, ", "))
		}
		if issue.Body != "" {
			fmt.Printf("\n%s\n", issue.Body)
		}

		comments, err := st.GetComments(key, number)
		if err != nil {
			return err
		}
		for _, c := range comments {
			fmt.Printf("\n--- %s at %s ---\n%s\n", c.Author, c.CreatedAt, c.Body)
		}
		return nil
	},
}

var replyCmd = &cobra.Command{
	Use:   "reply <owner/repo> <number> <body>",
	Short: "Queue a reply to an issue for the next sync",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return queueIssueMutation(args[0], args[1], func(st *store.Store, key string, number int) error {
			return st.EnqueueReply(key, number, args[2])
		}, "queued reply")
	},
}

var closeCmd = &cobra.Command{
	Use:   "close <owner/repo> <number>",
	Short: "Queue closing an issue for the next sync",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return queueIssueMutation(args[0], args[1], func(st *store.Store, key string, number int) error {
			return st.EnqueueStateChange(key, number, "closed")
		}, "queued state change")
	},
}

var reopenCmd = &cobra.Command{
	Use:   "reopen <owner/repo> <number>",
	Short: "Queue reopening an issue for the next sync",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return queueIssueMutation(args[0], args[1], func(st *store.Store, key string, number int) error {
			return st.EnqueueStateChange(key, number, "open")
		}, "queued state change")
	},
}

var labelCmd = &cobra.Command{
	Use:   "label <owner/repo> <number> [label...]",
	Short: "Queue replacing an issue's label set for the next sync",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return queueIssueMutation(args[0], args[1], func(st *store.Store, key string, number int) error {
			return st.EnqueueLabelUpdate(key, number, args[2:])
		}, "queued label update")
	},
}

// queueIssueMutation parses shared arguments and enqueues one mutation.
func queueIssueMutation(repoArg, numberArg string, enqueue func(*store.Store, string, int) error, confirmation string) error {
	repo, err := parseRepoArg(repoArg)
	if err != nil {
		return err
	}
	var number int
	if _, err := fmt.Sscanf(numberArg, "%d", &number); err != nil {
		return fmt.Errorf("invalid issue number %q", numberArg)
	}

	st, _, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if err := enqueue(st, repo.Key(), number); err != nil {
		return err
	}
	fmt.Printf("%s for %s#%d\n", confirmation, repo.Key(), number)
	return nil
}

var newCmd = &cobra.Command{
	Use:   "new <owner/repo> <title>",
	Short: "Queue creating a new issue for the next sync",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := parseRepoArg(args[0])
		if err != nil {
			return err
		}
		st, _, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.EnqueueNewIssue(repo.Key(), args[1], flagBody, flagLabels); err != nil {
			return err
		}
		fmt.Printf("queued new issue %q for %s\n", args[1], repo.Key())
		return nil
	},
}

var queueCmd = &cobra.Command{
	Use:   "queue <owner/repo>",
	Short: "List mutations queued for the next sync",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := parseRepoArg(args[0])
		if err != nil {
			return err
		}
		st, _, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		mutations, err := st.PendingMutations(repo.Key())
		if err != nil {
			return err
		}
		if len(mutations) == 0 {
			fmt.Println("queue is empty")
			return nil
		}
		for _, m := range mutations {
			if m.IssueNumber > 0 {
				fmt.Printf("%s\t#%d\t%s\n", m.Kind, m.IssueNumber, m.Payload)
			} else {
				fmt.Printf("%s\t\t%s\n", m.Kind, m.Payload)
			}
		}
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search repositories on GitHub",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		repos, err := client.SearchRepositories(args[0])
		if err != nil {
			return err
		}
		for _, repo := range repos {
			fmt.Printf("%s\t%d stars\t%s\n", repo.FullName, repo.Stars, repo.Description)
		}
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Validate the configured token and print the login",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		login, err := client.ValidateToken()
		if err != nil {
			return err
		}
		fmt.Println(login)
		return nil
	},
}
