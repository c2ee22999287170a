// Package network builds namespace topologies and host interfaces.
//
// # Overview
//
// A namespace topology is turned into an ordered list of [Step]s, each an
// ip or sysctl command paired with a probe. The [Builder] asks a
// [SystemStateReader] before every step whether its effect already holds and
// skips it if so, which makes build, quiesce and scrub repeatable.
//
// # Key Components
//
//   - [Builder]: build, quiesce, scrub and read namespace topologies
//   - [NetlinkStateReader]: live state over netlink inside a namespace
//   - [FakeHost]: in-memory host for tests and dry runs
//   - [InterfaceManager]: netplan files for NICs, bonds and VLANs, applied
//     through the apply engine
//
// # Step Order
//
// Build runs namespace creation, the IPv4 uplink, the IPv6 uplink, each
// network in declaration order and then forwarding sysctls. The order is
// fixed so that the command sequence for a topology is reproducible.
package network
