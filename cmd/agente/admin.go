package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jmm-1987/agente/internal/store"
)

// withStore opens the configured database for the length of fn.
func withStore(cmd *cobra.Command, fn func(ctx context.Context, st *store.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := store.Open(*cfg.Store, nil)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()
	return fn(cmd.Context(), st)
}

func newClientsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clients",
		Short: "Manage the client registry",
	}
	cmd.AddCommand(
		newClientsListCmd(),
		newClientsAddCmd(),
		newClientsAliasCmd(),
		newClientsDeleteCmd(),
	)
	return cmd
}

func newClientsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered clients",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, st *store.Store) error {
				clients, err := st.ListClients(ctx)
				if err != nil {
					return err
				}
				printClients(os.Stdout, clients)
				return nil
			})
		},
	}
}

func newClientsAddCmd() *cobra.Command {
	var aliases []string

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Register a client",
		Long: `Register a client. Names are unique ignoring case, accents and spacing.

Examples:
  agente clients add "Alditraex S.L."
  agente clients add Ayuntamiento --alias ayto --alias consistorio`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.Join(args, " ")
			return withStore(cmd, func(ctx context.Context, st *store.Store) error {
				c, err := st.CreateClient(ctx, name, aliases...)
				if errors.Is(err, store.ErrDuplicateClient) {
					return fmt.Errorf("client %q already exists", name)
				}
				if err != nil {
					return err
				}
				fmt.Printf("✓ Client %d: %s\n", c.ID, c.Name)
				return nil
			})
		},
	}

	cmd.Flags().StringArrayVar(&aliases, "alias", nil, "Alternative name (repeatable)")

	return cmd
}

func newClientsAliasCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "alias <id> [alias...]",
		Short: "Replace the aliases of a client",
		Long: `Replace the aliases of a client. With no aliases the list is cleared.

Examples:
  agente clients alias 3 ayto consistorio`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withStore(cmd, func(ctx context.Context, st *store.Store) error {
				if err := st.SetAliases(ctx, id, args[1:]); err != nil {
					return err
				}
				fmt.Printf("✓ Client %d aliases: %s\n", id, strings.Join(args[1:], ", "))
				return nil
			})
		},
	}
}

func newClientsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Remove a client",
		Long:  `Remove a client. Its tasks keep the client name they were created with.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withStore(cmd, func(ctx context.Context, st *store.Store) error {
				if err := st.DeleteClient(ctx, id); err != nil {
					return err
				}
				fmt.Printf("✓ Client %d deleted\n", id)
				return nil
			})
		},
	}
}

func newCategoriesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "categories",
		Short: "Manage task categories",
	}

	var icon, color string
	add := &cobra.Command{
		Use:   "add <name> [display name]",
		Short: "Add a category",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := &store.Category{Name: args[0], Icon: icon, Color: color}
			if len(args) == 2 {
				c.DisplayName = args[1]
			}
			return withStore(cmd, func(ctx context.Context, st *store.Store) error {
				if err := st.CreateCategory(ctx, c); err != nil {
					return err
				}
				fmt.Printf("✓ Category %s: %s\n", c.Name, c.Label())
				return nil
			})
		},
	}
	add.Flags().StringVar(&icon, "icon", "", "Emoji shown before the name")
	add.Flags().StringVar(&color, "color", "", "Hex color, e.g. #dc3545")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List categories",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withStore(cmd, func(ctx context.Context, st *store.Store) error {
					cats, err := st.ListCategories(ctx)
					if err != nil {
						return err
					}
					printCategories(os.Stdout, cats)
					return nil
				})
			},
		},
		add,
		&cobra.Command{
			Use:   "delete <name>",
			Short: "Remove a category no task uses",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withStore(cmd, func(ctx context.Context, st *store.Store) error {
					if err := st.DeleteCategory(ctx, args[0]); err != nil {
						return err
					}
					fmt.Printf("✓ Category %s deleted\n", args[0])
					return nil
				})
			},
		},
	)
	return cmd
}

func newTasksCmd() *cobra.Command {
	var (
		owner  int64
		status string
		client int64
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List and edit stored tasks",
		Long: `List tasks of every user, urgent first. Subcommands change one task.

Examples:
  agente tasks
  agente tasks --status completed --owner 123456789
  agente tasks --client 3 --limit 20
  agente tasks complete 12 cambiado el termopar
  agente tasks category 12 averias`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := store.TaskFilter{OwnerID: owner, ClientID: client, Limit: limit}
			if status != "all" {
				f.Status = store.Status(status)
				if !f.Status.Valid() {
					return fmt.Errorf("unknown status %q (want open, completed, cancelled or all)", status)
				}
			}
			return withStore(cmd, func(ctx context.Context, st *store.Store) error {
				tasks, err := st.ListTasks(ctx, f)
				if err != nil {
					return err
				}
				printTasks(os.Stdout, tasks)
				return nil
			})
		},
	}

	for _, e := range taskEdits {
		cmd.AddCommand(newTaskEditCmd(e))
	}

	cmd.Flags().Int64Var(&owner, "owner", 0, "Only tasks of this Telegram user ID")
	cmd.Flags().StringVar(&status, "status", string(store.StatusOpen), "open, completed, cancelled or all")
	cmd.Flags().Int64Var(&client, "client", 0, "Only tasks of this client ID")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum tasks shown, 0 for all")

	return cmd
}

// taskEdit is a subcommand of "agente tasks" that changes one task. run
// receives the task ID and the remaining arguments and returns the line to
// print.
type taskEdit struct {
	use   string
	short string
	args  cobra.PositionalArgs
	run   func(ctx context.Context, st *store.Store, id int64, rest []string) (string, error)
}

var taskEdits = []taskEdit{
	{
		use:   "complete <id> [solution...]",
		short: "Mark an open task completed",
		args:  cobra.MinimumNArgs(1),
		run: func(ctx context.Context, st *store.Store, id int64, rest []string) (string, error) {
			if err := st.CompleteTask(ctx, id, strings.Join(rest, " ")); err != nil {
				return "", err
			}
			return fmt.Sprintf("✓ Task %d completed", id), nil
		},
	},
	{
		use:   "cancel <id>",
		short: "Cancel an open task",
		args:  cobra.ExactArgs(1),
		run: func(ctx context.Context, st *store.Store, id int64, _ []string) (string, error) {
			if err := st.CancelTask(ctx, id); err != nil {
				return "", err
			}
			return fmt.Sprintf("✓ Task %d cancelled", id), nil
		},
	},
	{
		use:   "delete <id>",
		short: "Delete a task and its images",
		args:  cobra.ExactArgs(1),
		run: func(ctx context.Context, st *store.Store, id int64, _ []string) (string, error) {
			if err := st.DeleteTask(ctx, id); err != nil {
				return "", err
			}
			return fmt.Sprintf("✓ Task %d deleted", id), nil
		},
	},
	{
		use:   "solution <id> <text...>",
		short: "Replace the solution of a task",
		args:  cobra.MinimumNArgs(2),
		run: func(ctx context.Context, st *store.Store, id int64, rest []string) (string, error) {
			if err := st.SetSolution(ctx, id, strings.Join(rest, " ")); err != nil {
				return "", err
			}
			return fmt.Sprintf("✓ Task %d solution updated", id), nil
		},
	},
	{
		use:   "category <id> <name|->",
		short: "Change the category of a task (- clears it)",
		args:  cobra.ExactArgs(2),
		run: func(ctx context.Context, st *store.Store, id int64, rest []string) (string, error) {
			name := rest[0]
			if name == "-" {
				name = ""
			}
			if err := st.SetCategory(ctx, id, name); err != nil {
				return "", err
			}
			if name == "" {
				return fmt.Sprintf("✓ Task %d has no category", id), nil
			}
			return fmt.Sprintf("✓ Task %d category: %s", id, name), nil
		},
	},
	{
		use:   "client <id> <client-id>",
		short: "Link a task to a registered client",
		args:  cobra.ExactArgs(2),
		run: func(ctx context.Context, st *store.Store, id int64, rest []string) (string, error) {
			clientID, err := parseID(rest[0])
			if err != nil {
				return "", err
			}
			c, err := st.GetClient(ctx, clientID)
			if err != nil {
				return "", err
			}
			if err := st.SetClient(ctx, id, c.ID, c.Name); err != nil {
				return "", err
			}
			return fmt.Sprintf("✓ Task %d client: %s", id, c.Name), nil
		},
	},
}

func newTaskEditCmd(e taskEdit) *cobra.Command {
	return &cobra.Command{
		Use:   e.use,
		Short: e.short,
		Args:  e.args,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withStore(cmd, func(ctx context.Context, st *store.Store) error {
				out, err := e.run(ctx, st, id, args[1:])
				if err != nil {
					return err
				}
				fmt.Println(out)
				return nil
			})
		},
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func printClients(w io.Writer, clients []*store.Client) {
	if len(clients) == 0 {
		fmt.Fprintln(w, "No clients registered")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tALIASES")
	for _, c := range clients {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", c.ID, c.Name, strings.Join(c.Aliases, ", "))
	}
	_ = tw.Flush()
}

func printCategories(w io.Writer, cats []store.Category) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tLABEL\tCOLOR")
	for _, c := range cats {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", c.Name, c.Label(), c.Color)
	}
	_ = tw.Flush()
}

func printTasks(w io.Writer, tasks []*store.Task) {
	if len(tasks) == 0 {
		fmt.Fprintln(w, "No tasks")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tOWNER\tSTATUS\tPRIORITY\tDATE\tCLIENT\tCATEGORY\tTITLE")
	for _, t := range tasks {
		date := "-"
		if t.TaskDate != nil {
			date = t.TaskDate.Format("2006-01-02 15:04")
		}
		client := t.ClientNameRaw
		if client == "" {
			client = "-"
		}
		category := t.Category
		if category == "" {
			category = "-"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			t.ID, t.OwnerName, t.Status, t.Priority, date, client, category, t.Title)
	}
	_ = tw.Flush()
}
