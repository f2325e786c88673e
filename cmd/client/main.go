package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/remote_kv/cmd/internal/logcfg"
	"github.com/danmuck/remote_kv/src/api/transport"
	"github.com/danmuck/remote_kv/src/remote_kv"
	"github.com/danmuck/remote_kv/src/state_view"
	logs "github.com/danmuck/smplog"
)

const (
	SERVICE_FLAG = "--service"
	LISTEN_FLAG  = "--listen"
	SHARD_FLAG   = "--shard"
	BATCH_FLAG   = "--batch"
	HEX_FLAG     = "--hex"
)

type clientOptions struct {
	service string
	listen  string
	shard   int
	batch   int
	hexKeys bool
}

func main() {
	logs.Configure(logcfg.Load(""))

	opts, err := parseArgs(os.Args[1:])
	if err != nil {
		fmt.Printf("Error: %v\n\n", err)
		fmt.Printf("Usage: client [%s ADDR] [%s ADDR] [%s ID] [%s N] [%s]\n",
			SERVICE_FLAG, LISTEN_FLAG, SHARD_FLAG, BATCH_FLAG, HEX_FLAG)
		os.Exit(1)
	}

	// responses come back to this shard's listener
	ctrl := transport.NewTCPController(opts.listen)
	if err := ctrl.ListenAndAccept(); err != nil {
		logs.Fatalf(err, "Failed to listen on %s", opts.listen)
	}
	defer ctrl.Close()

	client, err := remote_kv.NewClient(ctrl, opts.shard, opts.service, remote_kv.ClientConfig{BatchSize: opts.batch})
	if err != nil {
		logs.Fatalf(err, "Failed to create client")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		if err := client.Run(ctx); err != nil && ctx.Err() == nil {
			logs.Errorf(err, "response loop stopped")
		}
	}()

	logs.Infof("shard %d listening on %s, service at %s", opts.shard, ctrl.Address(), opts.service)
	fmt.Println("Type keys separated by spaces and press Enter. 'reset' clears the cache, 'exit' quits.")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())

		switch input {
		case "":
			continue
		case "exit":
			fmt.Println("Exiting...")
			return
		case "reset":
			client.Reset()
			continue
		}

		fields := strings.Fields(input)
		keys, err := parseKeys(fields, opts.hexKeys)
		if err != nil {
			logs.Errorf(err, "Bad key")
			continue
		}
		if err := client.Prefetch(keys); err != nil {
			logs.Errorf(err, "Failed to send request")
			continue
		}

		getCtx, getCancel := context.WithTimeout(ctx, 5*time.Second)
		for i, key := range keys {
			value, err := client.Get(getCtx, key)
			switch {
			case err != nil:
				logs.Errorf(err, "Failed to read %s", fields[i])
			case value == nil:
				fmt.Printf("%s: <absent>\n", fields[i])
			default:
				fmt.Printf("%s: %q\n", fields[i], value.Bytes)
			}
		}
		getCancel()
	}
}

func parseArgs(args []string) (clientOptions, error) {
	opts := clientOptions{
		service: remote_kv.DefaultListenAddress,
		listen:  "localhost:7500",
		batch:   remote_kv.DefaultBatchSize,
	}

	for i := 0; i < len(args); i++ {
		flag, value, hasValue := strings.Cut(args[i], "=")
		if flag == HEX_FLAG {
			opts.hexKeys = true
			continue
		}
		if !hasValue {
			if i+1 >= len(args) {
				return opts, fmt.Errorf("missing value after %q", flag)
			}
			i++
			value = args[i]
		}

		switch flag {
		case SERVICE_FLAG:
			opts.service = value
		case LISTEN_FLAG:
			opts.listen = value
		case SHARD_FLAG, BATCH_FLAG:
			n, err := strconv.Atoi(value)
			if err != nil || n < 0 {
				return opts, fmt.Errorf("invalid %s value %q", flag, value)
			}
			if flag == SHARD_FLAG {
				opts.shard = n
			} else {
				opts.batch = n
			}
		default:
			return opts, fmt.Errorf("unsupported argument %q", args[i])
		}
	}
	return opts, nil
}

func parseKeys(fields []string, hexKeys bool) ([]state_view.StateKey, error) {
	keys := make([]state_view.StateKey, 0, len(fields))
	for _, f := range fields {
		if !hexKeys {
			keys = append(keys, state_view.StateKey(f))
			continue
		}
		key, err := state_view.ParseHexKey(f)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}
