package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"aranyani/internal/config"
	"aranyani/internal/services"
)

const usage = `usage: aranyani-cli [flags] <command> [args]

Commands:
  health                  liveness and model state
  login <user> <pass>     print an operator token
  status                  pipeline, scheduler and dispatch counters
  arm                     start the capture scheduler
  disarm                  stop the capture scheduler
  config                  show runtime settings
  config set key=value... change runtime settings
                          (sensitivity, min-confidence, cooldown-ms, exclude)
  alerts [limit]          recent dispatches
  snapshot <file>         save the current camera frame

Flags:
`

func main() {
	var (
		urlF     = flag.String("url", envOr("ARANYANI_URL", "http://localhost:8080"), "Node control API URL")
		tokenF   = flag.String("token", os.Getenv("ARANYANI_TOKEN"), "Operator token")
		timeoutF = flag.Int("timeout", 30, "Maximum number of seconds to wait for response")
		verboseF = flag.Bool("verbose", false, "Print request and response details")
	)
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	c := newClient(*urlF, *tokenF, *timeoutF, *verboseF)
	data, err := run(c, flag.Arg(0), flag.Args()[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	if data != nil {
		m, _ := json.MarshalIndent(data, "", "    ")
		fmt.Println(string(m))
	}
}

func run(c *client, command string, args []string) (any, error) {
	switch command {
	case "health":
		var res services.HealthResult
		return &res, c.call("GET", "/health", nil, &res)

	case "login":
		if len(args) != 2 {
			return nil, fmt.Errorf("login requires <user> <pass>")
		}
		var res services.LoginResult
		return &res, c.call("POST", "/auth/login", services.LoginPayload{Username: args[0], Password: args[1]}, &res)

	case "status":
		var res services.StatusResult
		return &res, c.call("GET", "/status", nil, &res)

	case "arm":
		var res services.SchedulerResult
		return &res, c.call("POST", "/scheduler/start", nil, &res)

	case "disarm":
		var res services.SchedulerResult
		return &res, c.call("POST", "/scheduler/stop", nil, &res)

	case "config":
		var res config.Runtime
		if len(args) == 0 {
			return &res, c.call("GET", "/config", nil, &res)
		}
		if args[0] != "set" || len(args) < 2 {
			return nil, fmt.Errorf("usage: config set key=value...")
		}
		payload, err := parseConfigArgs(args[1:])
		if err != nil {
			return nil, err
		}
		return &res, c.call("PUT", "/config", payload, &res)

	case "alerts":
		path := "/alerts"
		if len(args) > 0 {
			path += "?limit=" + url.QueryEscape(args[0])
		}
		var res services.AlertList
		return &res, c.call("GET", path, nil, &res)

	case "snapshot":
		if len(args) != 1 {
			return nil, fmt.Errorf("snapshot requires <file>")
		}
		f, err := os.Create(args[0])
		if err != nil {
			return nil, err
		}
		defer f.Close()
		if err := c.download("/snapshot", f); err != nil {
			return nil, err
		}
		fmt.Fprintf(os.Stderr, "saved %s\n", args[0])
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown command %q", command)
	}
}

// parseConfigArgs turns key=value pairs into a partial config update
func parseConfigArgs(args []string) (*services.UpdateConfigPayload, error) {
	var payload services.UpdateConfigPayload
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			return nil, fmt.Errorf("invalid setting %q, expected key=value", arg)
		}

		switch key {
		case "sensitivity":
			v, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid sensitivity %q: %w", value, err)
			}
			payload.ChangeSensitivity = &v
		case "min-confidence":
			v, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid min-confidence %q: %w", value, err)
			}
			payload.MinConfidence = &v
		case "cooldown-ms":
			v, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid cooldown-ms %q: %w", value, err)
			}
			payload.CooldownMs = &v
		case "exclude":
			// An empty value clears the exclusion list
			labels := []string{}
			for _, l := range strings.Split(value, ",") {
				if l = strings.TrimSpace(l); l != "" {
					labels = append(labels, l)
				}
			}
			payload.ExcludedLabels = labels
		default:
			return nil, fmt.Errorf("unknown setting %q", key)
		}
	}
	return &payload, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
