package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/danmuck/edgerpc/internal/client"
	"github.com/spf13/cobra"
)

func getCmdStores(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stores",
		Short: "List open stores",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRemote(cmd, flags, true, func(ctx context.Context, r *remote) error {
				res, err := r.client.Call(ctx, r.host.GUID, "listStores", nil)
				if err != nil {
					return err
				}
				names, _ := res["names"].([]any)
				for _, name := range names {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}
				return nil
			})
		},
	}
}

func getCmdPut(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "put <store> <key> <value>",
		Short: "Write a value",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRemote(cmd, flags, true, func(ctx context.Context, r *remote) error {
				store, err := r.openStore(ctx, args[0])
				if err != nil {
					return err
				}
				_, err = r.client.Call(ctx, store, "put", map[string]any{"key": args[1], "value": []byte(args[2])})
				return err
			})
		},
	}
}

func getCmdGet(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "get <store> <key>",
		Short: "Read a value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRemote(cmd, flags, true, func(ctx context.Context, r *remote) error {
				store, err := r.openStore(ctx, args[0])
				if err != nil {
					return err
				}
				res, err := r.client.Call(ctx, store, "get", map[string]any{"key": args[1]})
				if err != nil {
					return err
				}
				if found, _ := res["found"].(bool); !found {
					return fmt.Errorf("key %q not found in %s", args[1], args[0])
				}
				value, err := client.Bytes(res["value"])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(value))
				return nil
			})
		},
	}
}

func getCmdDelete(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <store> <key>",
		Short: "Delete a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRemote(cmd, flags, true, func(ctx context.Context, r *remote) error {
				store, err := r.openStore(ctx, args[0])
				if err != nil {
					return err
				}
				res, err := r.client.Call(ctx, store, "delete", map[string]any{"key": args[1]})
				if err != nil {
					return err
				}
				deleted, _ := res["deleted"].(bool)
				fmt.Fprintln(cmd.OutOrStdout(), strconv.FormatBool(deleted))
				return nil
			})
		},
	}
}

func getCmdKeys(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "keys <store> [prefix]",
		Short: "List keys, optionally by prefix",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRemote(cmd, flags, true, func(ctx context.Context, r *remote) error {
				store, err := r.openStore(ctx, args[0])
				if err != nil {
					return err
				}
				params := map[string]any{}
				if len(args) == 2 {
					params["prefix"] = args[1]
				}
				res, err := r.client.Call(ctx, store, "keys", params)
				if err != nil {
					return err
				}
				keys, _ := res["keys"].([]any)
				for _, key := range keys {
					fmt.Fprintln(cmd.OutOrStdout(), key)
				}
				return nil
			})
		},
	}
}

func getCmdWait(flags *globalFlags) *cobra.Command {
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "wait <store> <key>",
		Short: "Block until a key exists and print its value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRemote(cmd, flags, wait <= 0, func(ctx context.Context, r *remote) error {
				store, err := r.openStore(ctx, args[0])
				if err != nil {
					return err
				}
				params := map[string]any{"key": args[1]}
				if wait > 0 {
					params["timeout"] = float64(wait.Milliseconds())
				}
				res, err := r.client.Call(ctx, store, "waitForKey", params)
				if err != nil {
					return err
				}
				value, err := client.Bytes(res["value"])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(value))
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 0, "server-side wait timeout (0 uses the command timeout)")
	return cmd
}

func getCmdWatch(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <store>",
		Short: "Print store changes until interrupted or the store closes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRemote(cmd, flags, false, func(ctx context.Context, r *remote) error {
				store, err := r.openStore(ctx, args[0])
				if err != nil {
					return err
				}
				closed := make(chan string, 1)
				out := cmd.OutOrStdout()
				unsubscribe := r.client.OnEvent(func(ev client.Event) {
					if ev.GUID != store {
						return
					}
					switch ev.Method {
					case "changed":
						key, _ := ev.Params["key"].(string)
						if deleted, _ := ev.Params["deleted"].(bool); deleted {
							fmt.Fprintf(out, "- %s\n", key)
							return
						}
						value, _ := client.Bytes(ev.Params["value"])
						fmt.Fprintf(out, "+ %s=%s\n", key, value)
					case "closed":
						reason, _ := ev.Params["reason"].(string)
						select {
						case closed <- reason:
						default:
						}
					}
				})
				defer unsubscribe()

				select {
				case <-ctx.Done():
					return nil
				case reason := <-closed:
					fmt.Fprintf(out, "store closed: %s\n", reason)
					return nil
				}
			})
		},
	}
}

func getCmdClose(flags *globalFlags) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "close <store>",
		Short: "Close a store for every connected client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRemote(cmd, flags, true, func(ctx context.Context, r *remote) error {
				store, err := r.openStore(ctx, args[0])
				if err != nil {
					return err
				}
				params := map[string]any{}
				if reason != "" {
					params["reason"] = reason
				}
				_, err = r.client.Call(ctx, store, "close", params)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "close reason reported to watchers")
	return cmd
}
