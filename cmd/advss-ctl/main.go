package main

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"text/tabwriter"
)

// ============================================================================
// advss-ctl - Command-line IPC Client
// ============================================================================
// Talks to a running advss-sound daemon over its unix socket.
//
// Usage:
//   advss-ctl get-variable counter
//   advss-ctl set-variable counter 5
//   advss-ctl set-temp-var result true 3
//   advss-ctl list
//
// Options:
//   -socket PATH    Unix domain socket path (default: /tmp/advss-sound.sock)
// ============================================================================

// Request/response types (duplicated from the daemon for a standalone binary)
type IPCRequest struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type SegmentInfo struct {
	Kind            string   `json:"kind"`
	Name            string   `json:"name"`
	MacroProperties []string `json:"macro_properties,omitempty"`
}

type IPCResponse struct {
	Status   string        `json:"status"`
	Error    string        `json:"error,omitempty"`
	Value    *string       `json:"value,omitempty"`
	Segments []SegmentInfo `json:"segments,omitempty"`
}

func main() {
	socketPath := "/tmp/advss-sound.sock"

	args := os.Args[1:]
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	if args[0] == "-socket" || args[0] == "--socket" {
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "error: -socket requires an argument\n")
			os.Exit(1)
		}
		socketPath = args[1]
		args = args[2:]
	}

	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	var (
		reqType string
		data    any
	)

	switch args[0] {
	case "get-variable", "get":
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "error: get-variable requires a variable name\n")
			os.Exit(1)
		}
		reqType = "get_variable"
		data = map[string]string{"name": args[1]}

	case "set-variable", "set":
		if len(args) < 3 {
			fmt.Fprintf(os.Stderr, "error: set-variable requires a name and a value\n")
			os.Exit(1)
		}
		reqType = "set_variable"
		data = map[string]string{"name": args[1], "value": args[2]}

	case "set-temp-var":
		if len(args) < 4 {
			fmt.Fprintf(os.Stderr, "error: set-temp-var requires an id, a value and an instance id\n")
			os.Exit(1)
		}
		instanceID, err := strconv.ParseInt(args[3], 10, 64)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: invalid instance id: %v\n", err)
			os.Exit(1)
		}
		reqType = "set_temp_var"
		data = map[string]any{"temp_var_id": args[1], "value": args[2], "instance_id": instanceID}

	case "list", "list-segments":
		reqType = "list_segments"

	case "help", "-h", "--help":
		printUsage()
		os.Exit(0)

	default:
		fmt.Fprintf(os.Stderr, "error: unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}

	resp, err := sendRequest(socketPath, reqType, data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	switch {
	case resp.Value != nil:
		fmt.Println(*resp.Value)
	case reqType == "list_segments":
		printSegments(resp.Segments)
	default:
		fmt.Println("ok")
	}
}

func sendRequest(socketPath, reqType string, data any) (IPCResponse, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return IPCResponse{}, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()

	req := IPCRequest{Type: reqType}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return IPCResponse{}, fmt.Errorf("marshal request data: %w", err)
		}
		req.Data = raw
	}

	line, err := json.Marshal(req)
	if err != nil {
		return IPCResponse{}, fmt.Errorf("marshal request: %w", err)
	}

	// Line-delimited JSON
	if _, err := fmt.Fprintf(conn, "%s\n", line); err != nil {
		return IPCResponse{}, fmt.Errorf("send request: %w", err)
	}

	var response IPCResponse
	if err := json.NewDecoder(conn).Decode(&response); err != nil {
		return IPCResponse{}, fmt.Errorf("decode response: %w", err)
	}

	if response.Status == "error" {
		return response, fmt.Errorf("daemon error: %s", response.Error)
	}

	return response, nil
}

func printSegments(segments []SegmentInfo) {
	if len(segments) == 0 {
		fmt.Println("no segments registered")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KIND\tNAME\tMACRO PROPERTIES")
	for _, s := range segments {
		props := "-"
		if len(s.MacroProperties) > 0 {
			b, _ := json.Marshal(s.MacroProperties)
			props = string(b)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", s.Kind, s.Name, props)
	}
	_ = w.Flush()
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `advss-ctl - Control the advss-sound daemon via IPC

Usage:
  advss-ctl [options] <command> [args]

Options:
  -socket PATH    Unix domain socket path (default: /tmp/advss-sound.sock)

Commands:
  get-variable, get <name>                  Print the value of a host variable
  set-variable, set <name> <value>          Set a host variable
  set-temp-var <id> <value> <instance_id>   Set a macro property of a segment instance
  list, list-segments                       List the registered macro segments
  help, -h, --help                          Show this help message

Examples:
  advss-ctl get counter
  advss-ctl set counter 5
  advss-ctl -socket /run/user/1000/advss-sound.sock list
`)
}
