package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuemby/cord/pkg/auth"
	"github.com/cuemby/cord/pkg/client"
	"github.com/cuemby/cord/pkg/config"
	"github.com/cuemby/cord/pkg/database"
	"github.com/cuemby/cord/pkg/reconciler"
	"github.com/cuemby/cord/pkg/types"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func init() {
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(setCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(pushCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(signinCmd)

	getCmd.Flags().Bool("order-by-key", false, "Order children by key")
	getCmd.Flags().Int("limit-to-last", 0, "Keep only the last N children")
	getCmd.Flags().String("start-at", "", "Keep children with keys at or after this key")
	getCmd.Flags().String("end-at", "", "Keep children with keys at or before this key")
	getCmd.Flags().String("equal-to", "", "Keep only the child with this key")

	for _, c := range []*cobra.Command{setCmd, updateCmd, pushCmd} {
		c.Flags().StringP("file", "f", "", "Read the value from a YAML or JSON file")
	}

	watchCmd.Flags().StringP("event", "e", string(reconciler.EventValue), "Event class: value, child_added, child_changed, child_removed")
	watchCmd.Flags().Bool("order-by-key", false, "Order children by key")
	watchCmd.Flags().Int("limit-to-last", 0, "Keep only the last N children")
}

// openDatabase connects a database using the client section of the config
func openDatabase(cmd *cobra.Command) (*database.Database, *config.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	db, err := database.New(database.Config{
		Client: client.Config{
			URL:            cfg.Client.URL,
			RequestTimeout: cfg.Client.RequestTimeout,
			ReconnectDelay: cfg.Client.ReconnectDelay,
			ReadTimeout:    cfg.Client.ReadTimeout,
		},
		Reconciler: reconciler.Config{FetchTimeout: cfg.Client.RequestTimeout},
	})
	if err != nil {
		return nil, nil, err
	}
	return db, cfg, nil
}

// parseValue reads a value from -f or from the argument. YAML is a
// superset of JSON, so both are accepted; anything else is a plain string.
func parseValue(cmd *cobra.Command, arg string, haveArg bool) (types.Node, error) {
	var data []byte
	if file, _ := cmd.Flags().GetString("file"); file != "" {
		b, err := os.ReadFile(file)
		if err != nil {
			return types.Null(), fmt.Errorf("failed to read file: %v", err)
		}
		data = b
	} else if haveArg {
		data = []byte(arg)
	} else {
		return types.Null(), fmt.Errorf("a value argument or --file is required")
	}

	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		if file, _ := cmd.Flags().GetString("file"); file != "" {
			return types.Null(), fmt.Errorf("failed to parse %s: %v", file, err)
		}
		return types.String(arg), nil
	}
	return types.FromInterface(raw)
}

func printSnapshot(s types.Snapshot) error {
	if !s.Exists() {
		fmt.Println("null")
		return nil
	}
	out, err := json.MarshalIndent(s.Value(), "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func queryRef(cmd *cobra.Command, ref *database.Ref) *database.Ref {
	if v, _ := cmd.Flags().GetBool("order-by-key"); v {
		ref = ref.OrderByKey()
	}
	if n, _ := cmd.Flags().GetInt("limit-to-last"); n > 0 {
		ref = ref.LimitToLast(n)
	}
	if f := cmd.Flags().Lookup("start-at"); f != nil && f.Changed {
		ref = ref.StartAt(f.Value.String())
	}
	if f := cmd.Flags().Lookup("end-at"); f != nil && f.Changed {
		ref = ref.EndAt(f.Value.String())
	}
	if f := cmd.Flags().Lookup("equal-to"); f != nil && f.Changed {
		ref = ref.EqualTo(f.Value.String())
	}
	return ref
}

var getCmd = &cobra.Command{
	Use:   "get PATH",
	Short: "Print the value at a path",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, _, err := openDatabase(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		snap, err := queryRef(cmd, db.Ref(args[0])).Get(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", args[0], err)
		}
		return printSnapshot(snap)
	},
}

var setCmd = &cobra.Command{
	Use:   "set PATH [VALUE]",
	Short: "Replace the value at a path",
	Long: `Replace the value at a path. VALUE is parsed as JSON or YAML and
falls back to a plain string.

Examples:
  cord set rooms/1/title General
  cord set rooms/1 '{"title": "General", "open": true}'
  cord set rooms/1 -f room.yaml`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		arg, ok := argAt(args, 1)
		value, err := parseValue(cmd, arg, ok)
		if err != nil {
			return err
		}
		db, _, err := openDatabase(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.Ref(args[0]).Set(cmd.Context(), value); err != nil {
			return fmt.Errorf("failed to set %s: %w", args[0], err)
		}
		fmt.Printf("✓ Set %s\n", "/"+types.NormalizePath(args[0]))
		return nil
	},
}

var updateCmd = &cobra.Command{
	Use:   "update PATH [OBJECT]",
	Short: "Shallow-merge an object into the value at a path",
	Long: `Shallow-merge an object into the value at a path. Keys set to null
are removed. At the root ("/") every key is a path and the whole update
is applied atomically.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		arg, ok := argAt(args, 1)
		value, err := parseValue(cmd, arg, ok)
		if err != nil {
			return err
		}
		db, _, err := openDatabase(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.Ref(args[0]).Update(cmd.Context(), value); err != nil {
			return fmt.Errorf("failed to update %s: %w", args[0], err)
		}
		fmt.Printf("✓ Updated %s\n", "/"+types.NormalizePath(args[0]))
		return nil
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove PATH",
	Short: "Delete the value at a path",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, _, err := openDatabase(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.Ref(args[0]).Remove(cmd.Context()); err != nil {
			return fmt.Errorf("failed to remove %s: %w", args[0], err)
		}
		fmt.Printf("✓ Removed %s\n", "/"+types.NormalizePath(args[0]))
		return nil
	},
}

var pushCmd = &cobra.Command{
	Use:   "push PATH [VALUE]",
	Short: "Add a child under a generated chronological key",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		arg, ok := argAt(args, 1)
		value, err := parseValue(cmd, arg, ok)
		if err != nil {
			return err
		}
		db, _, err := openDatabase(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		child, err := db.Ref(args[0]).Push(cmd.Context(), value)
		if err != nil {
			return fmt.Errorf("failed to push to %s: %w", args[0], err)
		}
		fmt.Println(child.Key())
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch PATH",
	Short: "Print changes at a path until interrupted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eventName, _ := cmd.Flags().GetString("event")
		event, err := reconciler.ParseEventClass(eventName)
		if err != nil {
			return err
		}

		db, _, err := openDatabase(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		// Connect up front so a bad URL fails immediately
		if err := db.Client().Connect(cmd.Context()); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		ref := queryRef(cmd, db.Ref(args[0]))
		sub := ref.On(event, func(s types.Snapshot) {
			if event != reconciler.EventValue {
				fmt.Printf("%s %s: ", event, s.Key)
			}
			if err := printSnapshot(s); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			}
		})
		defer ref.Off(sub)

		<-ctx.Done()
		return nil
	},
}

var signinCmd = &cobra.Command{
	Use:   "signin",
	Short: "Sign in anonymously and cache the identity",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, cfg, err := openDatabase(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		a := auth.New(db.Client(), auth.NewFileCache(cfg.Client.IdentityFile))
		user, err := a.SignInAnonymously(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("✓ Signed in as %s\n", user.UID)
		return nil
	},
}

func argAt(args []string, i int) (string, bool) {
	if i < len(args) {
		return args[i], true
	}
	return "", false
}
