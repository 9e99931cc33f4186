package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/gftdcojp/storage-tiers/internal/size"
	"github.com/gftdcojp/storage-tiers/internal/tier"
)

var version = "dev"

type client struct {
	addr   string
	token  string
	system string
	actor  string
}

func main() {
	addr := flag.String("addr", "http://localhost:8080", "tierd API address")
	token := flag.String("token", os.Getenv("TIERD_TOKEN"), "admin bearer token (default $TIERD_TOKEN)")
	system := flag.String("system", "", "system id")
	actor := flag.String("actor", os.Getenv("USER"), "actor recorded in audit events")
	raw := flag.Bool("json", false, "print raw JSON replies")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	c := &client{addr: *addr, token: *token, system: *system, actor: *actor}
	if args[0] != "version" && args[0] != "status" && c.system == "" {
		fail("-system is required")
	}

	switch args[0] {
	case "version":
		fmt.Printf("tier-ctl %s\n", version)
	case "status":
		c.print(c.call("GET", "/v1/status", nil), true)
	case "tier":
		c.cmdTier(args[1:], *raw)
	case "policy":
		c.cmdPolicy(args[1:], *raw)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `tier-ctl - storage tier administration CLI

Usage:
  tier-ctl [flags] <command> [args]

Commands:
  status                                         Show daemon status
  tier create <name> [key=value...]              Create a tier
  tier info <name>                               Show tier capacity
  tier update <name> [key=value...]              Update a tier
  tier delete <name>                             Delete a tier
  policy create <name> <order>:<tier>...         Create a tiering policy
  policy info <name>                             Show policy capacity
  policy pools <name>                            Show policy tier order
  policy delete <name>                           Delete a tiering policy
  version                                        Show version

Tier keys: new_name, replicas, data_fragments, parity_fragments,
data_placement (SPREAD|MIRROR), node_pools and cloud_pools (comma separated).

Flags:
  -addr string     API address (default "http://localhost:8080")
  -token string    admin bearer token (default $TIERD_TOKEN)
  -system string   system id
  -actor string    actor recorded in audit events
  -json            print raw JSON replies`)
}

func fail(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

func (c *client) path(kind, name string) string {
	p := "/v1/systems/" + c.system + "/" + kind
	if name != "" {
		p += "/" + name
	}
	return p
}

// call performs one request and returns the reply body, exiting on a
// transport failure or an error reply.
func (c *client) call(method, path string, body interface{}) []byte {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			fail("%v", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.addr+path, rd)
	if err != nil {
		fail("%v", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("X-Actor", c.actor)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fail("%v", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		fail("reading response: %v", err)
	}

	if resp.StatusCode >= 300 {
		var reply struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(data, &reply) == nil && reply.Error.Code != "" {
			fail("%s: %s", reply.Error.Code, reply.Error.Message)
		}
		fail("%s", resp.Status)
	}
	return data
}

func (c *client) print(data []byte, raw bool) {
	if len(data) == 0 {
		fmt.Println("ok")
		return
	}
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		fail("decoding response: %v", err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

func (c *client) cmdTier(args []string, raw bool) {
	if len(args) < 2 {
		fail("usage: tier-ctl tier <create|info|update|delete> <name> [key=value...]")
	}
	op, name := args[0], args[1]
	switch op {
	case "create":
		req := tier.CreateTierRequest{Name: name}
		applyTierFlags(args[2:], func(key, value string) {
			switch key {
			case "node_pools":
				req.NodePools = splitList(value)
			case "cloud_pools":
				req.CloudPools = splitList(value)
			case "replicas":
				req.Replicas = atoi(key, value)
			case "data_fragments":
				req.DataFragments = atoi(key, value)
			case "parity_fragments":
				req.ParityFragments = atoi(key, value)
			case "data_placement":
				req.DataPlacement = &value
			default:
				fail("unknown tier key %q", key)
			}
		})
		c.showTier(c.call("POST", c.path("tiers", ""), req), raw)
	case "update":
		var req tier.UpdateTierRequest
		applyTierFlags(args[2:], func(key, value string) {
			switch key {
			case "new_name":
				req.NewName = &value
			case "node_pools":
				l := splitList(value)
				req.NodePools = &l
			case "cloud_pools":
				l := splitList(value)
				req.CloudPools = &l
			case "replicas":
				req.Replicas = atoi(key, value)
			case "data_fragments":
				req.DataFragments = atoi(key, value)
			case "parity_fragments":
				req.ParityFragments = atoi(key, value)
			case "data_placement":
				req.DataPlacement = &value
			default:
				fail("unknown tier key %q", key)
			}
		})
		c.showTier(c.call("PATCH", c.path("tiers", name), req), raw)
	case "info":
		c.showTier(c.call("GET", c.path("tiers", name), nil), raw)
	case "delete":
		c.print(c.call("DELETE", c.path("tiers", name), nil), raw)
	default:
		fail("unknown tier command %q", op)
	}
}

func (c *client) cmdPolicy(args []string, raw bool) {
	if len(args) < 2 {
		fail("usage: tier-ctl policy <create|info|pools|delete> <name>")
	}
	op, name := args[0], args[1]
	switch op {
	case "create":
		req := tier.CreatePolicyRequest{Name: name}
		for _, arg := range args[2:] {
			order, tierName, ok := strings.Cut(arg, ":")
			if !ok {
				fail("expected <order>:<tier>, got %q", arg)
			}
			req.Tiers = append(req.Tiers, tier.TierOrderRequest{Order: *atoi("order", order), Tier: tierName})
		}
		c.showPolicy(c.call("POST", c.path("policies", ""), req), raw)
	case "info":
		c.showPolicy(c.call("GET", c.path("policies", name), nil), raw)
	case "pools":
		c.showPolicy(c.call("GET", c.path("policies", name)+"/pools", nil), raw)
	case "delete":
		c.print(c.call("DELETE", c.path("policies", name), nil), raw)
	default:
		fail("unknown policy command %q", op)
	}
}

func (c *client) showTier(data []byte, raw bool) {
	if raw {
		c.print(data, raw)
		return
	}
	var info tier.TierInfo
	if err := json.Unmarshal(data, &info); err != nil {
		fail("decoding response: %v", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "NAME\t%s\n", info.Name)
	fmt.Fprintf(w, "PLACEMENT\t%s\n", info.DataPlacement)
	fmt.Fprintf(w, "REPLICAS\t%d\n", info.Replicas)
	fmt.Fprintf(w, "FRAGMENTS\t%d+%d\n", info.DataFragments, info.ParityFragments)
	fmt.Fprintf(w, "NODE POOLS\t%s\n", strings.Join(info.NodePools, ", "))
	fmt.Fprintf(w, "CLOUD POOLS\t%s\n", strings.Join(info.CloudPools, ", "))
	w.Flush()
	printStorage(info.Storage)
}

func (c *client) showPolicy(data []byte, raw bool) {
	if raw {
		c.print(data, raw)
		return
	}
	var info tier.PolicyInfo
	if err := json.Unmarshal(data, &info); err != nil {
		fail("decoding response: %v", err)
	}

	fmt.Printf("POLICY %s\n", info.Name)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ORDER\tTIER")
	for _, t := range info.Tiers {
		fmt.Fprintf(w, "%d\t%s\n", t.Order, t.Tier)
	}
	w.Flush()
	if info.Storage != nil {
		printStorage(info.Storage)
	}
}

func printStorage(st size.Storage) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "METRIC\tSIZE\tBYTES")
	for _, key := range size.StorageKeys {
		v, ok := st[key]
		if !ok {
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", key, size.HumanSize(v), v.String())
	}
	w.Flush()
}

func applyTierFlags(args []string, set func(key, value string)) {
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			fail("expected key=value, got %q", arg)
		}
		set(key, value)
	}
}

func splitList(s string) []string {
	if s == "" {
		return []string{}
	}
	return strings.Split(s, ",")
}

func atoi(key, s string) *int {
	n, err := strconv.Atoi(s)
	if err != nil {
		fail("%s: %v", key, err)
	}
	return &n
}
