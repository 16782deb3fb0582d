package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	dcp "github.com/machinefabric/dcp-go"
	"github.com/machinefabric/dcp-go/capability"
	"github.com/machinefabric/dcp-go/internal/logging"
	"github.com/machinefabric/dcp-go/message"
	"github.com/machinefabric/dcp-go/security"
)

var (
	callAddrFlag    string
	callKeyFlag     string
	callTimeoutFlag time.Duration
	callCapsFlag    []string
)

var callCmd = &cobra.Command{
	Use:   "call <tool> [name[:type]=value ...]",
	Short: "Invoke a tool and print its result",
	Long: `Invokes a tool on a running dcpd. Arguments default to strings; a type
suffix selects another encoding: bool, i32, i64, f64, bytes (base64),
json or null. Example:

  dcpd call stream.repeat msg=hi n:i32=3`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		callArgs, err := parseArgs(args[1:])
		if err != nil {
			return err
		}
		client, err := dialClient(cmd)
		if err != nil {
			return err
		}
		defer client.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), callTimeoutFlag)
		defer cancel()
		if _, err := client.Handshake(ctx); err != nil {
			return fmt.Errorf("handshake: %w", err)
		}
		res, err := client.Call(ctx, args[0], callArgs)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(res.Body)
		return err
	},
}

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Measure the round trip to a running dcpd",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := dialClient(cmd)
		if err != nil {
			return err
		}
		defer client.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), callTimeoutFlag)
		defer cancel()
		if _, err := client.Handshake(ctx); err != nil {
			return fmt.Errorf("handshake: %w", err)
		}
		rtt, err := client.Ping(ctx, []byte("dcpd"))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "pong from %s in %s\n", callAddrFlag, rtt)
		return nil
	},
}

func dialClient(cmd *cobra.Command) (*dcp.Client, error) {
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	manifest := capability.Protocol()
	for _, name := range callCapsFlag {
		id, ok := capability.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("unknown capability %q", name)
		}
		manifest = manifest.Set(id)
	}

	opts := dcp.ClientOptions{Manifest: manifest, Limits: cfg.Limits, Logger: logger}
	if callKeyFlag != "" {
		key, err := security.LoadPrivateKey(callKeyFlag)
		if err != nil {
			return nil, err
		}
		opts.Key = key
	}
	return newClient(callAddrFlag, callTimeoutFlag, opts, logger)
}

func newClient(addr string, timeout time.Duration, opts dcp.ClientOptions, logger zerolog.Logger) (*dcp.Client, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	logger.Debug().Str("addr", addr).Msg("connected")
	return dcp.NewClient(conn, opts), nil
}

// parseArgs turns name[:type]=value pairs into invocation arguments.
func parseArgs(pairs []string) (message.Args, error) {
	out := make(message.Args, 0, len(pairs))
	for _, pair := range pairs {
		arg, err := parseArg(pair)
		if err != nil {
			return nil, err
		}
		out = append(out, arg)
	}
	return out, nil
}

func parseArg(pair string) (message.Arg, error) {
	key, value, ok := strings.Cut(pair, "=")
	if !ok {
		return message.Arg{}, fmt.Errorf("argument %q: expected name=value", pair)
	}
	name, typ, _ := strings.Cut(key, ":")
	if name == "" {
		return message.Arg{}, fmt.Errorf("argument %q: empty name", pair)
	}

	switch typ {
	case "", "str", "string":
		return message.String(name, value), nil
	case "null":
		return message.Null(name), nil
	case "bool":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return message.Arg{}, fmt.Errorf("argument %s: %w", name, err)
		}
		return message.Bool(name, b), nil
	case "i32", "int":
		n, err := strconv.ParseInt(value, 10, 32)
		if err != nil {
			return message.Arg{}, fmt.Errorf("argument %s: %w", name, err)
		}
		return message.Int32(name, int32(n)), nil
	case "i64":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return message.Arg{}, fmt.Errorf("argument %s: %w", name, err)
		}
		return message.Int64(name, n), nil
	case "f64", "float":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return message.Arg{}, fmt.Errorf("argument %s: %w", name, err)
		}
		return message.Float64(name, f), nil
	case "bytes":
		b, err := base64.StdEncoding.DecodeString(value)
		if err != nil {
			return message.Arg{}, fmt.Errorf("argument %s: %w", name, err)
		}
		return message.Bytes(name, b), nil
	case "json":
		if !json.Valid([]byte(value)) {
			return message.Arg{}, fmt.Errorf("argument %s: invalid JSON", name)
		}
		return message.JSON(name, json.RawMessage(value))
	default:
		return message.Arg{}, fmt.Errorf("argument %s: unknown type %q", name, typ)
	}
}

func init() {
	for _, c := range []*cobra.Command{callCmd, pingCmd} {
		c.Flags().StringVar(&callAddrFlag, "addr", "127.0.0.1:7420", "server address")
		c.Flags().StringVar(&callKeyFlag, "key", "", "ed25519 private key used to sign invocations")
		c.Flags().DurationVar(&callTimeoutFlag, "timeout", 30*time.Second, "overall deadline")
		c.Flags().StringSliceVar(&callCapsFlag, "cap", nil, "extra capability to announce (e.g. fs, net, process)")
		rootCmd.AddCommand(c)
	}
}
