package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
)

// ============================================================================
// IPC Server - Unix Domain Socket Interface
// ============================================================================
// Lets advss-ctl (or any script) read and write host variables, set macro
// property values and list the registered segments while the daemon runs.
//
// Protocol: Line-delimited JSON
//   - Client sends: {"type": "get_variable", "data": {"name": "x"}}
//   - Server responds: {"status": "ok", "value": "..."} or
//     {"status": "error", "error": "msg"}
// ============================================================================

const (
	ipcGetVariable  = "get_variable"
	ipcSetVariable  = "set_variable"
	ipcSetTempVar   = "set_temp_var"
	ipcListSegments = "list_segments"
)

var errPeerNotAllowed = errors.New("peer not allowed")

// IPCRequest is one line sent by a client.
type IPCRequest struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// IPCResponse represents the response sent back to IPC clients
type IPCResponse struct {
	Status   string        `json:"status"`             // "ok" or "error"
	Error    string        `json:"error,omitempty"`    // error message if status == "error"
	Value    *string       `json:"value,omitempty"`    // get_variable
	Segments []SegmentInfo `json:"segments,omitempty"` // list_segments
}

type getVariableRequest struct {
	Name string `json:"name"`
}

type setVariableRequest struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type setTempVarRequest struct {
	TempVarID  string `json:"temp_var_id"`
	Value      any    `json:"value"`
	InstanceID int64  `json:"instance_id"`
}

// ipcHandler answers IPC requests against the live plugin.
type ipcHandler struct {
	variables *Variables
	tempVars  *TempVars
	registry  *Registry
}

func newIPCHandler(p *Plugin) *ipcHandler {
	return &ipcHandler{
		variables: p.Variables(),
		tempVars:  p.TempVars(),
		registry:  p.Registry(),
	}
}

func ipcError(format string, args ...any) IPCResponse {
	return IPCResponse{Status: "error", Error: fmt.Sprintf(format, args...)}
}

// handle processes one request line.
func (h *ipcHandler) handle(line []byte) IPCResponse {
	var req IPCRequest
	if err := json.Unmarshal(line, &req); err != nil {
		return ipcError("parse request: %v", err)
	}

	switch req.Type {
	case ipcGetVariable:
		var r getVariableRequest
		if err := decodeIPCData(req.Data, &r); err != nil {
			return ipcError("%s: %v", req.Type, err)
		}
		if r.Name == "" {
			return ipcError("%s: name is required", req.Type)
		}
		value, ok := h.variables.Get(r.Name)
		if !ok {
			return ipcError("variable %q not found", r.Name)
		}
		return IPCResponse{Status: "ok", Value: &value}

	case ipcSetVariable:
		var r setVariableRequest
		if err := decodeIPCData(req.Data, &r); err != nil {
			return ipcError("%s: %v", req.Type, err)
		}
		if r.Name == "" {
			return ipcError("%s: name is required", req.Type)
		}
		if !h.variables.Set(r.Name, r.Value) {
			return ipcError("failed to set variable %q", r.Name)
		}
		return IPCResponse{Status: "ok"}

	case ipcSetTempVar:
		var r setTempVarRequest
		if err := decodeIPCData(req.Data, &r); err != nil {
			return ipcError("%s: %v", req.Type, err)
		}
		if r.TempVarID == "" {
			return ipcError("%s: temp_var_id is required", req.Type)
		}
		if !h.tempVars.SetValue(r.TempVarID, r.Value, r.InstanceID) {
			return ipcError("failed to set temp var %q for instance %d", r.TempVarID, r.InstanceID)
		}
		return IPCResponse{Status: "ok"}

	case ipcListSegments:
		return IPCResponse{Status: "ok", Segments: h.registry.List()}

	case "":
		return ipcError("missing request type")

	default:
		return ipcError("unknown request type: %s", req.Type)
	}
}

func decodeIPCData(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return errors.New("missing data")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}

// runIPCServer starts the Unix domain socket server.
// It runs until ctx is canceled, at which point it closes the listener and exits.
func runIPCServer(ctx context.Context, socketPath string, h *ipcHandler, logger *slog.Logger) error {
	// Remove a stale socket left by a previous run
	if err := os.RemoveAll(socketPath); err != nil {
		return fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", socketPath, err)
	}
	defer listener.Close()
	defer os.Remove(socketPath)

	if err := os.Chmod(socketPath, 0o660); err != nil {
		return fmt.Errorf("chmod socket: %w", err)
	}

	logger.Info("IPC listening", "socket", socketPath)

	// Close the listener on shutdown. This unblocks Accept().
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				logger.Debug("IPC listener closed (shutdown)")
				return nil
			}
			if errors.Is(err, net.ErrClosed) || strings.Contains(err.Error(), "use of closed network connection") {
				logger.Debug("IPC listener closed")
				return nil
			}

			logger.Error("IPC accept error", "error", err)
			continue
		}

		go handleIPCConnection(conn, h, logger)
	}
}

// handleIPCConnection serves one client until it disconnects.
func handleIPCConnection(conn net.Conn, h *ipcHandler, logger *slog.Logger) {
	defer conn.Close()

	if err := checkPeer(conn); err != nil {
		logger.Warn("IPC connection rejected", "error", err)
		_ = json.NewEncoder(conn).Encode(ipcError("%v", err))
		return
	}

	logger.Debug("IPC connection", "remote_addr", conn.RemoteAddr())

	scanner := bufio.NewScanner(conn)
	encoder := json.NewEncoder(conn)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		logger.Debug("IPC received", "line", string(line))

		response := h.handle(line)
		if err := encoder.Encode(response); err != nil {
			logger.Error("IPC failed to send response", "error", err)
			return
		}
	}

	logger.Debug("IPC connection closed")
}

// ============================================================================
// IPC Client
// ============================================================================

// SendIPCRequest sends one request to the daemon and returns its response.
// A response with status "error" is returned as an error.
func SendIPCRequest(socketPath, reqType string, data any) (IPCResponse, error) {
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
	if _, err := fmt.Fprintf(conn, "%s\n", line); err != nil {
		return IPCResponse{}, fmt.Errorf("send request: %w", err)
	}

	var resp IPCResponse
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return IPCResponse{}, fmt.Errorf("decode response: %w", err)
	}
	if resp.Status != "ok" {
		return resp, fmt.Errorf("ipc error: %s", resp.Error)
	}
	return resp, nil
}
