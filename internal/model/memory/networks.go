package memory

import (
	"context"
	"fmt"
	"net"

	apperrors "virtgate/internal/errors"
	"virtgate/internal/model"
)

var connections = map[string]bool{"isolated": true, "nat": true, "bridge": true}

type network struct {
	name       string
	connection string
	iface      string
	subnet     string
	dhcpStart  string
	dhcpEnd    string
	state      string
	autostart  bool
}

func (n *network) info() model.Info {
	dhcp := map[string]any{}
	if n.dhcpStart != "" {
		dhcp["start"] = n.dhcpStart
		dhcp["end"] = n.dhcpEnd
	}
	return model.Info{
		"autostart":  n.autostart,
		"connection": n.connection,
		"interface":  n.iface,
		"subnet":     n.subnet,
		"dhcp":       dhcp,
		"state":      n.state,
	}
}

type iface struct {
	name    string
	kind    string
	ipaddr  string
	netmask string
	status  string
}

func (i *iface) info() model.Info {
	return model.Info{
		"type":    i.kind,
		"ipaddr":  i.ipaddr,
		"netmask": i.netmask,
		"status":  i.status,
	}
}

// dhcpRange returns the second and last usable host addresses of an IPv4
// subnet
func dhcpRange(ipnet *net.IPNet) (string, string, error) {
	ip := ipnet.IP.To4()
	ones, bits := ipnet.Mask.Size()
	if ip == nil || bits != 32 {
		return "", "", fmt.Errorf("only IPv4 subnets are supported")
	}
	if bits-ones < 3 {
		return "", "", fmt.Errorf("subnet %s is too small", ipnet)
	}
	base := uint32(ip[0])<<24 | uint32(ip[1])<<16 | uint32(ip[2])<<8 | uint32(ip[3])
	size := uint32(1) << uint(bits-ones)
	toIP := func(v uint32) string {
		return net.IPv4(byte(v>>24), byte(v>>16), byte(v>>8), byte(v)).String()
	}
	return toIP(base + 2), toIP(base + size - 2), nil
}

type networksBackend struct{ m *Model }

var (
	_ model.Lister  = networksBackend{}
	_ model.Creator = networksBackend{}
)

func (b networksBackend) List(ctx context.Context, args ...string) ([]string, error) {
	b.m.mu.RLock()
	defer b.m.mu.RUnlock()
	return sortedKeys(b.m.networks), nil
}

// Create defines an inactive network. NAT and isolated networks get a DHCP
// range; a missing subnet picks the first free 192.168.N.0/24.
func (b networksBackend) Create(ctx context.Context, args []string, params map[string]any) (string, error) {
	name, err := requiredString(params, "name")
	if err != nil {
		return "", err
	}
	connection, err := requiredString(params, "connection")
	if err != nil {
		return "", err
	}
	if !connections[connection] {
		return "", apperrors.NewInvalidParameter(fmt.Sprintf("network connection %s is not supported", connection))
	}
	subnet, hasSubnet, err := stringParam(params, "subnet")
	if err != nil {
		return "", err
	}
	ifaceName, _, err := stringParam(params, "interface")
	if err != nil {
		return "", err
	}
	if connection == "bridge" && ifaceName == "" {
		return "", apperrors.NewMissingParameter("interface")
	}

	b.m.mu.Lock()
	defer b.m.mu.Unlock()

	if _, exists := b.m.networks[name]; exists {
		return "", apperrors.NewInvalidOperation(fmt.Sprintf("network %s already exists", name))
	}
	if ifaceName != "" {
		if _, ok := b.m.interfaces[ifaceName]; !ok {
			return "", apperrors.NewInvalidParameter(fmt.Sprintf("interface %s does not exist", ifaceName))
		}
	}

	n := &network{name: name, connection: connection, iface: ifaceName, state: stateInactive}
	if connection != "bridge" {
		if !hasSubnet {
			subnet = b.m.freeSubnet()
		}
		_, ipnet, err := net.ParseCIDR(subnet)
		if err != nil {
			return "", apperrors.NewInvalidParameter(fmt.Sprintf("subnet %s is not a valid CIDR", subnet))
		}
		if owner := b.m.subnetOwner(ipnet); owner != "" {
			return "", apperrors.NewInvalidParameter(fmt.Sprintf("subnet %s overlaps network %s", subnet, owner))
		}
		start, end, err := dhcpRange(ipnet)
		if err != nil {
			return "", apperrors.NewInvalidParameter(err.Error())
		}
		n.subnet, n.dhcpStart, n.dhcpEnd = ipnet.String(), start, end
	}

	b.m.networks[name] = n
	b.m.logger.InfoContext(ctx, "network created", "network", name, "connection", connection)
	return name, nil
}

func (m *Model) subnetOwner(ipnet *net.IPNet) string {
	for _, name := range sortedKeys(m.networks) {
		n := m.networks[name]
		if n.subnet == "" {
			continue
		}
		_, other, err := net.ParseCIDR(n.subnet)
		if err != nil {
			continue
		}
		if other.Contains(ipnet.IP) || ipnet.Contains(other.IP) {
			return name
		}
	}
	return ""
}

func (m *Model) freeSubnet() string {
	for i := 100; i < 255; i++ {
		subnet := fmt.Sprintf("192.168.%d.0/24", i)
		_, ipnet, _ := net.ParseCIDR(subnet)
		if m.subnetOwner(ipnet) == "" {
			return subnet
		}
	}
	return ""
}

type networkBackend struct{ m *Model }

var (
	_ model.Lookuper = networkBackend{}
	_ model.Deleter  = networkBackend{}
	_ model.Actioner = networkBackend{}
)

func (m *Model) network(name string) (*network, error) {
	n, ok := m.networks[name]
	if !ok {
		return nil, apperrors.NewNotFoundError("network " + name)
	}
	return n, nil
}

func (b networkBackend) Lookup(ctx context.Context, args ...string) (model.Info, error) {
	b.m.mu.RLock()
	defer b.m.mu.RUnlock()
	n, err := b.m.network(lastArg(args))
	if err != nil {
		return nil, err
	}
	return n.info(), nil
}

func (b networkBackend) Delete(ctx context.Context, args ...string) error {
	b.m.mu.Lock()
	defer b.m.mu.Unlock()

	name := lastArg(args)
	n, err := b.m.network(name)
	if err != nil {
		return err
	}
	if n.state == stateActive {
		return apperrors.NewInvalidOperation(fmt.Sprintf("network %s must be deactivated before it is deleted", name))
	}
	delete(b.m.networks, name)
	b.m.logger.InfoContext(ctx, "network deleted", "network", name)
	return nil
}

func (b networkBackend) Action(name string) (model.ActionFunc, bool) {
	switch name {
	case "activate":
		return b.setState(stateActive), true
	case "deactivate":
		return b.setState(stateInactive), true
	}
	return nil, false
}

func (b networkBackend) setState(state string) model.ActionFunc {
	return func(ctx context.Context, args ...any) error {
		b.m.mu.Lock()
		defer b.m.mu.Unlock()

		n, err := b.m.network(fmt.Sprint(args[len(args)-1]))
		if err != nil {
			return err
		}
		n.state = state
		b.m.logger.InfoContext(ctx, "network state changed", "network", n.name, "state", state)
		return nil
	}
}

type interfacesBackend struct{ m *Model }

var _ model.Lister = interfacesBackend{}

func (b interfacesBackend) List(ctx context.Context, args ...string) ([]string, error) {
	b.m.mu.RLock()
	defer b.m.mu.RUnlock()
	return sortedKeys(b.m.interfaces), nil
}

type interfaceBackend struct{ m *Model }

var _ model.Lookuper = interfaceBackend{}

func (b interfaceBackend) Lookup(ctx context.Context, args ...string) (model.Info, error) {
	b.m.mu.RLock()
	defer b.m.mu.RUnlock()
	i, ok := b.m.interfaces[lastArg(args)]
	if !ok {
		return nil, apperrors.NewNotFoundError("interface " + lastArg(args))
	}
	return i.info(), nil
}
