// Command fctl is a thin HTTP client for the coordinator's REST surface
// (spec.md §6): flow CRUD, node and edge mutation, schema inspection, and
// run lifecycle control from the shell.
//
// Exit codes follow spec.md §6: 0 success, 1 user error (bad arguments,
// invalid graph, missing file), 2 run failure, 3 run cancelled, >=64
// internal/transport error.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

const (
	exitOK        = 0
	exitUserError = 1
	exitRunFailed = 2
	exitCancelled = 3
	exitInternal  = 64
)

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// client wraps the coordinator's HTTP surface with the flags common to
// every subcommand.
type client struct {
	endpoint string
	http     *http.Client
}

func newClient(endpoint string, timeout time.Duration) *client {
	return &client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
	}
}

func (c *client) do(method, path string, body interface{}, out interface{}) (int, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequest(method, c.endpoint+path, reader)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("%s %s: %s", method, path, string(raw))
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) < 1 {
		printUsage()
		return exitUserError
	}

	cmd := args[0]
	rest := args[1:]

	switch cmd {
	case "flow-create":
		return cmdFlowCreate(rest)
	case "flow-get":
		return cmdFlowGet(rest)
	case "flow-save":
		return cmdFlowSave(rest)
	case "flow-load":
		return cmdFlowLoad(rest)
	case "node-add":
		return cmdNodeAdd(rest)
	case "node-update":
		return cmdNodeUpdate(rest)
	case "node-delete":
		return cmdNodeDelete(rest)
	case "node-schema":
		return cmdNodeSchema(rest)
	case "node-sample":
		return cmdNodeSample(rest)
	case "edge-add":
		return cmdEdgeAdd(rest)
	case "edge-delete":
		return cmdEdgeDelete(rest)
	case "run-start":
		return cmdRunStart(rest)
	case "run-cancel":
		return cmdRunCancel(rest)
	case "run-status":
		return cmdRunStatus(rest)
	case "run-events":
		return cmdRunEvents(rest)
	case "help", "-h", "--help":
		printUsage()
		return exitOK
	default:
		fmt.Fprintf(os.Stderr, "fctl: unknown command %q\n", cmd)
		printUsage()
		return exitUserError
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `usage: fctl <command> [flags]

commands:
  flow-create   create a new flow
  flow-get      fetch a flow's graph
  flow-save     persist a flow to its storage directory
  flow-load     load a flow from a YAML path
  node-add      add a node to a flow
  node-update   patch a node's settings
  node-delete   remove a node from a flow
  node-schema   predict a node's output schema
  node-sample   fetch a sample of a node's output rows
  edge-add      connect two nodes
  edge-delete   remove an edge
  run-start     start executing a flow
  run-cancel    cancel a running run
  run-status    poll a run's node states
  run-events    tail a run's observation log

every command accepts:
  -endpoint string   coordinator base URL (default from FCTL_ENDPOINT, else http://localhost:8080)
  -timeout duration  request timeout (default from FCTL_TIMEOUT, else 30s)`)
}

// commonFlags registers the -endpoint/-timeout flags shared by every
// subcommand and returns the parsed client.
func commonFlags(fs *flag.FlagSet) (*string, *time.Duration) {
	endpoint := fs.String("endpoint", getEnv("FCTL_ENDPOINT", "http://localhost:8080"), "coordinator base URL")
	timeoutDefault := 30 * time.Second
	if v := getEnv("FCTL_TIMEOUT", ""); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			timeoutDefault = d
		}
	}
	timeout := fs.Duration("timeout", timeoutDefault, "request timeout")
	return endpoint, timeout
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

// --- flow-create ---

func cmdFlowCreate(args []string) int {
	fs := flag.NewFlagSet("flow-create", flag.ContinueOnError)
	endpoint, timeout := commonFlags(fs)
	name := fs.String("name", "", "flow name (required)")
	if err := fs.Parse(args); err != nil {
		return exitUserError
	}
	if *name == "" {
		fmt.Fprintln(os.Stderr, "fctl: flow-create requires -name")
		return exitUserError
	}

	c := newClient(*endpoint, *timeout)
	var out map[string]interface{}
	status, err := c.do(http.MethodPost, "/flow", map[string]string{"name": *name}, &out)
	if err != nil {
		return exitFromStatus(status, err)
	}
	printJSON(out)
	return exitOK
}

// --- flow-get ---

func cmdFlowGet(args []string) int {
	fs := flag.NewFlagSet("flow-get", flag.ContinueOnError)
	endpoint, timeout := commonFlags(fs)
	id := fs.String("id", "", "flow ID (required)")
	if err := fs.Parse(args); err != nil {
		return exitUserError
	}
	if *id == "" {
		fmt.Fprintln(os.Stderr, "fctl: flow-get requires -id")
		return exitUserError
	}

	c := newClient(*endpoint, *timeout)
	var out map[string]interface{}
	status, err := c.do(http.MethodGet, "/flow/"+*id, nil, &out)
	if err != nil {
		return exitFromStatus(status, err)
	}
	printJSON(out)
	return exitOK
}

// --- flow-save ---

func cmdFlowSave(args []string) int {
	fs := flag.NewFlagSet("flow-save", flag.ContinueOnError)
	endpoint, timeout := commonFlags(fs)
	id := fs.String("id", "", "flow ID (required)")
	if err := fs.Parse(args); err != nil {
		return exitUserError
	}
	if *id == "" {
		fmt.Fprintln(os.Stderr, "fctl: flow-save requires -id")
		return exitUserError
	}

	c := newClient(*endpoint, *timeout)
	status, err := c.do(http.MethodPost, "/flow/"+*id+"/save", nil, nil)
	if err != nil {
		return exitFromStatus(status, err)
	}
	fmt.Println("saved")
	return exitOK
}

// --- flow-load ---

func cmdFlowLoad(args []string) int {
	fs := flag.NewFlagSet("flow-load", flag.ContinueOnError)
	endpoint, timeout := commonFlags(fs)
	path := fs.String("path", "", "YAML path to load (required)")
	if err := fs.Parse(args); err != nil {
		return exitUserError
	}
	if *path == "" {
		fmt.Fprintln(os.Stderr, "fctl: flow-load requires -path")
		return exitUserError
	}

	c := newClient(*endpoint, *timeout)
	var out map[string]interface{}
	status, err := c.do(http.MethodPost, "/flow/load", map[string]string{"path": *path}, &out)
	if err != nil {
		return exitFromStatus(status, err)
	}
	printJSON(out)
	return exitOK
}

// --- node-add ---

func cmdNodeAdd(args []string) int {
	fs := flag.NewFlagSet("node-add", flag.ContinueOnError)
	endpoint, timeout := commonFlags(fs)
	flowID := fs.String("flow", "", "flow ID (required)")
	kind := fs.String("kind", "", "node kind (required)")
	settingsJSON := fs.String("settings", "{}", "node settings as a JSON object")
	x := fs.Float64("x", 0, "canvas X position")
	y := fs.Float64("y", 0, "canvas Y position")
	if err := fs.Parse(args); err != nil {
		return exitUserError
	}
	if *flowID == "" || *kind == "" {
		fmt.Fprintln(os.Stderr, "fctl: node-add requires -flow and -kind")
		return exitUserError
	}

	var settings map[string]interface{}
	if err := json.Unmarshal([]byte(*settingsJSON), &settings); err != nil {
		fmt.Fprintln(os.Stderr, "fctl: invalid -settings JSON:", err)
		return exitUserError
	}

	c := newClient(*endpoint, *timeout)
	req := map[string]interface{}{
		"kind":     *kind,
		"settings": settings,
		"position": map[string]float64{"x": *x, "y": *y},
	}
	var out map[string]interface{}
	status, err := c.do(http.MethodPost, "/flow/"+*flowID+"/node", req, &out)
	if err != nil {
		return exitFromStatus(status, err)
	}
	printJSON(out)
	return exitOK
}

// --- node-update ---

func cmdNodeUpdate(args []string) int {
	fs := flag.NewFlagSet("node-update", flag.ContinueOnError)
	endpoint, timeout := commonFlags(fs)
	flowID := fs.String("flow", "", "flow ID (required)")
	nodeID := fs.String("node", "", "node ID (required)")
	settingsJSON := fs.String("settings", "", "patched settings as a JSON object")
	if err := fs.Parse(args); err != nil {
		return exitUserError
	}
	if *flowID == "" || *nodeID == "" {
		fmt.Fprintln(os.Stderr, "fctl: node-update requires -flow and -node")
		return exitUserError
	}

	req := map[string]interface{}{}
	if *settingsJSON != "" {
		var settings map[string]interface{}
		if err := json.Unmarshal([]byte(*settingsJSON), &settings); err != nil {
			fmt.Fprintln(os.Stderr, "fctl: invalid -settings JSON:", err)
			return exitUserError
		}
		req["settings"] = settings
	}

	c := newClient(*endpoint, *timeout)
	status, err := c.do(http.MethodPatch, "/flow/"+*flowID+"/node/"+*nodeID, req, nil)
	if err != nil {
		return exitFromStatus(status, err)
	}
	fmt.Println("updated")
	return exitOK
}

// --- node-delete ---

func cmdNodeDelete(args []string) int {
	fs := flag.NewFlagSet("node-delete", flag.ContinueOnError)
	endpoint, timeout := commonFlags(fs)
	flowID := fs.String("flow", "", "flow ID (required)")
	nodeID := fs.String("node", "", "node ID (required)")
	if err := fs.Parse(args); err != nil {
		return exitUserError
	}
	if *flowID == "" || *nodeID == "" {
		fmt.Fprintln(os.Stderr, "fctl: node-delete requires -flow and -node")
		return exitUserError
	}

	c := newClient(*endpoint, *timeout)
	status, err := c.do(http.MethodDelete, "/flow/"+*flowID+"/node/"+*nodeID, nil, nil)
	if err != nil {
		return exitFromStatus(status, err)
	}
	fmt.Println("deleted")
	return exitOK
}

// --- node-schema ---

func cmdNodeSchema(args []string) int {
	fs := flag.NewFlagSet("node-schema", flag.ContinueOnError)
	endpoint, timeout := commonFlags(fs)
	flowID := fs.String("flow", "", "flow ID (required)")
	nodeID := fs.String("node", "", "node ID (required)")
	if err := fs.Parse(args); err != nil {
		return exitUserError
	}
	if *flowID == "" || *nodeID == "" {
		fmt.Fprintln(os.Stderr, "fctl: node-schema requires -flow and -node")
		return exitUserError
	}

	c := newClient(*endpoint, *timeout)
	var out map[string]interface{}
	status, err := c.do(http.MethodGet, "/flow/"+*flowID+"/schema/"+*nodeID, nil, &out)
	if err != nil {
		return exitFromStatus(status, err)
	}
	printJSON(out)
	return exitOK
}

// --- node-sample ---

func cmdNodeSample(args []string) int {
	fs := flag.NewFlagSet("node-sample", flag.ContinueOnError)
	endpoint, timeout := commonFlags(fs)
	flowID := fs.String("flow", "", "flow ID (required)")
	nodeID := fs.String("node", "", "node ID (required)")
	rows := fs.Int("rows", 20, "max rows to sample")
	if err := fs.Parse(args); err != nil {
		return exitUserError
	}
	if *flowID == "" || *nodeID == "" {
		fmt.Fprintln(os.Stderr, "fctl: node-sample requires -flow and -node")
		return exitUserError
	}

	c := newClient(*endpoint, *timeout)
	var out map[string]interface{}
	path := fmt.Sprintf("/flow/%s/node/%s/sample?rows=%d", *flowID, *nodeID, *rows)
	status, err := c.do(http.MethodGet, path, nil, &out)
	if err != nil {
		return exitFromStatus(status, err)
	}
	printJSON(out)
	return exitOK
}

// --- edge-add ---

func cmdEdgeAdd(args []string) int {
	fs := flag.NewFlagSet("edge-add", flag.ContinueOnError)
	endpoint, timeout := commonFlags(fs)
	flowID := fs.String("flow", "", "flow ID (required)")
	from := fs.Int("from", -1, "source node ID (required)")
	to := fs.Int("to", -1, "destination node ID (required)")
	toPort := fs.String("to-port", "in", "destination port name")
	if err := fs.Parse(args); err != nil {
		return exitUserError
	}
	if *flowID == "" || *from < 0 || *to < 0 {
		fmt.Fprintln(os.Stderr, "fctl: edge-add requires -flow, -from, and -to")
		return exitUserError
	}

	c := newClient(*endpoint, *timeout)
	req := map[string]interface{}{"source": *from, "target": *to, "target_port": *toPort}
	status, err := c.do(http.MethodPost, "/flow/"+*flowID+"/edge", req, nil)
	if err != nil {
		return exitFromStatus(status, err)
	}
	fmt.Println("connected")
	return exitOK
}

// --- edge-delete ---

func cmdEdgeDelete(args []string) int {
	fs := flag.NewFlagSet("edge-delete", flag.ContinueOnError)
	endpoint, timeout := commonFlags(fs)
	flowID := fs.String("flow", "", "flow ID (required)")
	from := fs.Int("from", -1, "source node ID (required)")
	to := fs.Int("to", -1, "destination node ID (required)")
	toPort := fs.String("to-port", "in", "destination port name")
	if err := fs.Parse(args); err != nil {
		return exitUserError
	}
	if *flowID == "" || *from < 0 || *to < 0 {
		fmt.Fprintln(os.Stderr, "fctl: edge-delete requires -flow, -from, and -to")
		return exitUserError
	}

	c := newClient(*endpoint, *timeout)
	req := map[string]interface{}{"source": *from, "target": *to, "target_port": *toPort}
	status, err := c.do(http.MethodDelete, "/flow/"+*flowID+"/edge", req, nil)
	if err != nil {
		return exitFromStatus(status, err)
	}
	fmt.Println("disconnected")
	return exitOK
}

// --- run-start ---

func cmdRunStart(args []string) int {
	fs := flag.NewFlagSet("run-start", flag.ContinueOnError)
	endpoint, timeout := commonFlags(fs)
	flowID := fs.String("flow", "", "flow ID (required)")
	targetsStr := fs.String("targets", "", "comma-separated target node IDs (default: every terminal node)")
	if err := fs.Parse(args); err != nil {
		return exitUserError
	}
	if *flowID == "" {
		fmt.Fprintln(os.Stderr, "fctl: run-start requires -flow")
		return exitUserError
	}

	targets := parseIntList(*targetsStr)

	c := newClient(*endpoint, *timeout)
	var out map[string]interface{}
	status, err := c.do(http.MethodPost, "/flow/"+*flowID+"/run", map[string]interface{}{"targets": targets}, &out)
	if err != nil {
		return exitFromStatus(status, err)
	}
	printJSON(out)
	return exitOK
}

// --- run-cancel ---

func cmdRunCancel(args []string) int {
	fs := flag.NewFlagSet("run-cancel", flag.ContinueOnError)
	endpoint, timeout := commonFlags(fs)
	flowID := fs.String("flow", "", "flow ID (required)")
	runID := fs.String("run", "", "run ID (required)")
	graceMS := fs.Int("grace-ms", 0, "cancel grace period in milliseconds (default: coordinator's default)")
	if err := fs.Parse(args); err != nil {
		return exitUserError
	}
	if *flowID == "" || *runID == "" {
		fmt.Fprintln(os.Stderr, "fctl: run-cancel requires -flow and -run")
		return exitUserError
	}

	c := newClient(*endpoint, *timeout)
	req := map[string]interface{}{"run_id": *runID}
	if *graceMS > 0 {
		req["cancel_grace_ms"] = *graceMS
	}
	status, err := c.do(http.MethodPost, "/flow/"+*flowID+"/cancel", req, nil)
	if err != nil {
		return exitFromStatus(status, err)
	}
	fmt.Println("cancel requested")
	return exitOK
}

// --- run-status ---

// runStatusResponse mirrors the coordinator's aggregate view so run-status
// can decide between the success, run-failure, and cancelled exit codes.
type runStatusResponse struct {
	Nodes     map[string]string `json:"nodes"`
	Success   bool              `json:"success"`
	Cancelled int               `json:"cancelled"`
	Failed    int               `json:"failed"`
}

func cmdRunStatus(args []string) int {
	fs := flag.NewFlagSet("run-status", flag.ContinueOnError)
	endpoint, timeout := commonFlags(fs)
	flowID := fs.String("flow", "", "flow ID (required)")
	runID := fs.String("run", "", "run ID (required)")
	if err := fs.Parse(args); err != nil {
		return exitUserError
	}
	if *flowID == "" || *runID == "" {
		fmt.Fprintln(os.Stderr, "fctl: run-status requires -flow and -run")
		return exitUserError
	}

	c := newClient(*endpoint, *timeout)
	var envelope struct {
		Data runStatusResponse `json:"data"`
	}
	path := fmt.Sprintf("/flow/%s/status?run_id=%s", *flowID, *runID)
	status, err := c.do(http.MethodGet, path, nil, &envelope)
	if err != nil {
		return exitFromStatus(status, err)
	}
	out := envelope.Data
	printJSON(out)

	switch {
	case out.Success:
		return exitOK
	case out.Cancelled > 0:
		return exitCancelled
	default:
		return exitRunFailed
	}
}

// --- run-events ---

func cmdRunEvents(args []string) int {
	fs := flag.NewFlagSet("run-events", flag.ContinueOnError)
	endpoint, timeout := commonFlags(fs)
	flowID := fs.String("flow", "", "flow ID (required)")
	runID := fs.String("run", "", "run ID (required)")
	since := fs.Int64("since", 0, "only events with sequence number greater than this")
	if err := fs.Parse(args); err != nil {
		return exitUserError
	}
	if *flowID == "" || *runID == "" {
		fmt.Fprintln(os.Stderr, "fctl: run-events requires -flow and -run")
		return exitUserError
	}

	c := newClient(*endpoint, *timeout)
	var envelope struct {
		Data []map[string]interface{} `json:"data"`
	}
	path := fmt.Sprintf("/flow/%s/events?run_id=%s&since=%d", *flowID, *runID, *since)
	status, err := c.do(http.MethodGet, path, nil, &envelope)
	if err != nil {
		return exitFromStatus(status, err)
	}
	printJSON(envelope.Data)
	return exitOK
}

// exitFromStatus maps a failed request's HTTP status to spec.md §6's exit
// codes: 4xx is a user error, anything else (transport failure, 5xx) is
// internal.
func exitFromStatus(status int, err error) int {
	fmt.Fprintln(os.Stderr, "fctl:", err)
	if status >= 400 && status < 500 {
		return exitUserError
	}
	return exitInternal
}

func parseIntList(s string) []int {
	if s == "" {
		return nil
	}
	var out []int
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			var v int
			if _, err := fmt.Sscanf(s[start:i], "%d", &v); err == nil {
				out = append(out, v)
			}
			start = i + 1
		}
	}
	return out
}
