package network

import (
	"context"
	"fmt"
	"net/netip"
	"slices"
	"strings"
	"sync"

	"grimm.is/podnet/internal/runner"
)

type fakeLink struct {
	name   string
	master string
	up     bool
	addrs  []string
	// peerNS/peer identify the other end of a veth pair.
	peerNS string
	peer   string
}

type fakeNamespace struct {
	links   map[string]*fakeLink
	routes  map[string]bool
	sysctls map[string]string
}

func newFakeNamespace() *fakeNamespace {
	return &fakeNamespace{
		links:   make(map[string]*fakeLink),
		routes:  make(map[string]bool),
		sysctls: make(map[string]string),
	}
}

// FakeHost is an in-memory host that both executes the ip and sysctl
// commands the topology builder issues and answers SystemStateReader
// queries about the result. nft and netplan commands succeed without effect.
// It backs tests and dry runs.
type FakeHost struct {
	mu         sync.Mutex
	namespaces map[string]*fakeNamespace
	commands   []runner.Command

	// Fail, when set, can force a command to fail before it is interpreted.
	Fail func(runner.Command) (runner.Result, bool)
}

// NewFakeHost creates a host whose root namespace holds the given links
// (bridges, private NICs).
func NewFakeHost(links ...string) *FakeHost {
	h := &FakeHost{namespaces: map[string]*fakeNamespace{HostNamespace: newFakeNamespace()}}
	for _, l := range links {
		h.namespaces[HostNamespace].links[l] = &fakeLink{name: l, up: true}
	}
	return h
}

// Commands returns every command run so far.
func (h *FakeHost) Commands() []runner.Command {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.commands)
}

// Lines returns the commands as command lines.
func (h *FakeHost) Lines() []string {
	cmds := h.Commands()
	out := make([]string, len(cmds))
	for i, c := range cmds {
		out[i] = c.String()
	}
	return out
}

// Reset forgets recorded commands but keeps state.
func (h *FakeHost) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.commands = nil
}

func (h *FakeHost) Run(ctx context.Context, cmd runner.Command) (runner.Result, error) {
	if err := ctx.Err(); err != nil {
		return runner.Result{}, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.commands = append(h.commands, cmd)

	if h.Fail != nil {
		if res, fail := h.Fail(cmd); fail {
			return res, nil
		}
	}
	return h.exec(HostNamespace, cmd.Name, cmd.Args), nil
}

func failure(format string, args ...any) runner.Result {
	return runner.Result{ExitCode: 2, Stderr: fmt.Sprintf(format, args...)}
}

func (h *FakeHost) exec(ns, name string, args []string) runner.Result {
	switch name {
	case "ip":
		return h.ip(ns, args)
	case "sysctl":
		return h.sysctl(ns, args)
	default:
		return runner.Result{}
	}
}

func (h *FakeHost) ip(ns string, args []string) runner.Result {
	if len(args) > 0 && args[0] == "-6" {
		args = args[1:]
	}
	if len(args) < 2 {
		return failure("ip: incomplete command")
	}
	if args[0] == "netns" {
		return h.netns(args[1:])
	}

	space := h.namespaces[ns]
	if space == nil {
		return failure("Cannot open network namespace %q: No such file or directory", ns)
	}
	switch args[0] {
	case "link":
		return h.link(ns, space, args[1:])
	case "addr", "address":
		return addr(space, args[1:])
	case "route":
		return route(space, args[1:])
	}
	return failure("Object %q is unknown", args[0])
}

func (h *FakeHost) netns(args []string) runner.Result {
	switch {
	case args[0] == "add" && len(args) == 2:
		if _, ok := h.namespaces[args[1]]; ok {
			return failure("Cannot create namespace file \"/run/netns/%s\": File exists", args[1])
		}
		space := newFakeNamespace()
		space.links["lo"] = &fakeLink{name: "lo"}
		h.namespaces[args[1]] = space
		return runner.Result{}
	case args[0] == "delete" && len(args) == 2:
		space, ok := h.namespaces[args[1]]
		if !ok {
			return failure("Cannot remove namespace file \"/run/netns/%s\": No such file or directory", args[1])
		}
		for _, l := range space.links {
			h.dropPeer(l)
		}
		delete(h.namespaces, args[1])
		return runner.Result{}
	case args[0] == "exec" && len(args) >= 3:
		if _, ok := h.namespaces[args[1]]; !ok {
			return failure("Cannot open network namespace %q: No such file or directory", args[1])
		}
		return h.exec(args[1], args[2], args[3:])
	}
	return failure("ip netns: unsupported %v", args)
}

func (h *FakeHost) dropPeer(l *fakeLink) {
	if l.peer == "" {
		return
	}
	if space := h.namespaces[l.peerNS]; space != nil {
		delete(space.links, l.peer)
	}
}

func (h *FakeHost) link(ns string, space *fakeNamespace, args []string) runner.Result {
	switch args[0] {
	case "add":
		return h.linkAdd(ns, space, args[1:])
	case "del", "delete":
		if len(args) != 2 {
			break
		}
		l, ok := space.links[args[1]]
		if !ok {
			return failure("Cannot find device %q", args[1])
		}
		h.dropPeer(l)
		delete(space.links, args[1])
		return runner.Result{}
	case "set":
		if len(args) < 3 {
			break
		}
		l, ok := space.links[args[1]]
		if !ok {
			return failure("Cannot find device %q", args[1])
		}
		switch args[2] {
		case "up":
			l.up = true
		case "down":
			l.up = false
		case "master":
			if len(args) != 4 {
				break
			}
			if _, ok := space.links[args[3]]; !ok {
				return failure("Cannot find device %q", args[3])
			}
			l.master = args[3]
		case "netns":
			if len(args) != 4 {
				break
			}
			target := h.namespaces[args[3]]
			if target == nil {
				return failure("Invalid \"netns\" value %q", args[3])
			}
			h.move(space, args[3], target, l)
		default:
			return failure("ip link set: unsupported %v", args[2:])
		}
		return runner.Result{}
	}
	return failure("ip link: unsupported %v", args)
}

// move mirrors the kernel: a link changing namespace loses its addresses,
// master and up state.
func (h *FakeHost) move(from *fakeNamespace, toNS string, to *fakeNamespace, l *fakeLink) {
	delete(from.links, l.name)
	l.up = false
	l.addrs = nil
	l.master = ""
	to.links[l.name] = l
	if l.peer != "" {
		if peerSpace := h.namespaces[l.peerNS]; peerSpace != nil {
			if p := peerSpace.links[l.peer]; p != nil {
				p.peerNS = toNS
			}
		}
	}
}

func (h *FakeHost) linkAdd(ns string, space *fakeNamespace, args []string) runner.Result {
	// ip link add <name> type veth peer name <peer>
	if len(args) == 6 && args[1] == "type" && args[2] == "veth" && args[3] == "peer" && args[4] == "name" {
		name, peer := args[0], args[5]
		if space.links[name] != nil || space.links[peer] != nil {
			return failure("RTNETLINK answers: File exists")
		}
		space.links[name] = &fakeLink{name: name, peerNS: ns, peer: peer}
		space.links[peer] = &fakeLink{name: peer, peerNS: ns, peer: name}
		return runner.Result{}
	}
	// ip link add link <parent> name <name> type vlan id <id>
	if len(args) == 8 && args[0] == "link" && args[2] == "name" && args[4] == "type" && args[5] == "vlan" && args[6] == "id" {
		if space.links[args[1]] == nil {
			return failure("Cannot find device %q", args[1])
		}
		if space.links[args[3]] != nil {
			return failure("RTNETLINK answers: File exists")
		}
		space.links[args[3]] = &fakeLink{name: args[3]}
		return runner.Result{}
	}
	return failure("ip link add: unsupported %v", args)
}

func addr(space *fakeNamespace, args []string) runner.Result {
	if len(args) != 4 || args[2] != "dev" || (args[0] != "add" && args[0] != "del") {
		return failure("ip addr: unsupported %v", args)
	}
	l := space.links[args[3]]
	if l == nil {
		return failure("Cannot find device %q", args[3])
	}
	p, err := netip.ParsePrefix(args[1])
	if err != nil {
		return failure("Error: any valid prefix is expected rather than %q", args[1])
	}
	cidr := p.String()
	i := slices.Index(l.addrs, cidr)
	if args[0] == "add" {
		if i >= 0 {
			return failure("RTNETLINK answers: File exists")
		}
		l.addrs = append(l.addrs, cidr)
		return runner.Result{}
	}
	if i < 0 {
		return failure("RTNETLINK answers: Cannot assign requested address")
	}
	l.addrs = slices.Delete(l.addrs, i, i+1)
	return runner.Result{}
}

func route(space *fakeNamespace, args []string) runner.Result {
	if len(args) != 4 || args[2] != "via" {
		return failure("ip route: unsupported %v", args)
	}
	key, err := routeKey(args[1], args[3])
	if err != nil {
		return failure("Error: %v", err)
	}
	switch args[0] {
	case "add":
		if space.routes[key] {
			return failure("RTNETLINK answers: File exists")
		}
		space.routes[key] = true
	case "del", "delete":
		if !space.routes[key] {
			return failure("RTNETLINK answers: No such process")
		}
		delete(space.routes, key)
	default:
		return failure("ip route: unsupported %v", args)
	}
	return runner.Result{}
}

func routeKey(dst, via string) (string, error) {
	gw, err := netip.ParseAddr(via)
	if err != nil {
		return "", err
	}
	if dst != "default" {
		p, err := netip.ParsePrefix(dst)
		if err != nil {
			return "", err
		}
		dst = p.Masked().String()
	}
	return dst + " via " + gw.String(), nil
}

func (h *FakeHost) sysctl(ns string, args []string) runner.Result {
	if len(args) != 2 || args[0] != "-w" {
		return failure("sysctl: unsupported %v", args)
	}
	k, v, ok := strings.Cut(args[1], "=")
	if !ok {
		return failure("sysctl: %q must be of the form name=value", args[1])
	}
	h.namespaces[ns].sysctls[k] = v
	return runner.Result{Stdout: k + " = " + v + "\n"}
}

func (h *FakeHost) lookup(ns, link string) *fakeLink {
	space := h.namespaces[ns]
	if space == nil {
		return nil
	}
	return space.links[link]
}

func (h *FakeHost) NamespaceExists(_ context.Context, ns string) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.namespaces[ns]
	return ok, nil
}

func (h *FakeHost) LinkExists(_ context.Context, ns, link string) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lookup(ns, link) != nil, nil
}

func (h *FakeHost) LinkUp(_ context.Context, ns, link string) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	l := h.lookup(ns, link)
	return l != nil && l.up, nil
}

func (h *FakeHost) LinkMaster(_ context.Context, ns, link string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if l := h.lookup(ns, link); l != nil {
		return l.master, nil
	}
	return "", nil
}

func (h *FakeHost) HasAddress(_ context.Context, ns, link, cidr string) (bool, error) {
	p, err := netip.ParsePrefix(cidr)
	if err != nil {
		return false, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	l := h.lookup(ns, link)
	return l != nil && slices.Contains(l.addrs, p.String()), nil
}

func (h *FakeHost) HasRoute(_ context.Context, ns, dst, via string) (bool, error) {
	key, err := routeKey(dst, via)
	if err != nil {
		return false, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	space := h.namespaces[ns]
	return space != nil && space.routes[key], nil
}

func (h *FakeHost) Sysctl(_ context.Context, ns, key string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if space := h.namespaces[ns]; space != nil {
		return space.sysctls[key], nil
	}
	return "", nil
}
